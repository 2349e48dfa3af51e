package simulation

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/HatiCode/vmpredict/pkg/features"
)

// Migration pause model.
const (
	DefaultBasePause = 100 * time.Millisecond
	DefaultLoadPause = 300 * time.Millisecond
	DefaultJitter    = 100 * time.Millisecond
)

// Migrator emulates the stop-and-copy phase of a live migration. The
// pause is Base + loadFactor*Load + U[0,Jitter), where loadFactor is the
// mean of CPU and memory utilization scaled to [0,1].
type Migrator struct {
	Base   time.Duration
	Load   time.Duration
	Jitter time.Duration

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewMigrator creates a migrator with the default pause model.
func NewMigrator(seed uint64) *Migrator {
	return &Migrator{
		Base:   DefaultBasePause,
		Load:   DefaultLoadPause,
		Jitter: DefaultJitter,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Pause returns the planned pause for a host under load v.
func (m *Migrator) Pause(v features.Vector) time.Duration {
	load := min(max((v.CPULoad+v.MemoryUsage)/200, 0), 1)

	var jitter time.Duration
	if m.Jitter > 0 {
		m.mu.Lock()
		jitter = time.Duration(m.rng.Int64N(int64(m.Jitter)))
		m.mu.Unlock()
	}
	return m.Base + time.Duration(load*float64(m.Load)) + jitter
}

// Migrate performs the emulated migration and returns the measured
// downtime. The measurement includes scheduling overhead, like a real pause.
func (m *Migrator) Migrate(ctx context.Context, v features.Vector) (time.Duration, error) {
	pause := m.Pause(v)
	start := m.now()
	if err := m.sleep(ctx, pause); err != nil {
		return 0, err
	}
	return m.now().Sub(start), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
