package simulation

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Burn keeps workers goroutines busy for d, or until ctx is done, to raise
// the host's CPU load while the host sampler is observing it. workers <= 0
// uses one worker per CPU. It returns the number of spin rounds done.
func Burn(ctx context.Context, workers int, d time.Duration) (uint64, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	counts := make([]uint64, workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			var x uint64 = 1
			for ctx.Err() == nil {
				for range 10000 {
					x = x*6364136223846793005 + 1442695040888963407
				}
				// The low bit of this LCG flips on every step, so x is odd
				// again after each round and the count grows by one.
				counts[i] += x & 1
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total uint64
	for _, c := range counts {
		total += c
	}
	return total, nil
}
