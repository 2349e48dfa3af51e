// Package storage persists fitted model artifacts.
//
// A Store keeps the latest artifact written by the trainer so that prediction
// service instances can load it at startup and on reload. Implementations
// store the JSON encoding produced by models.FittedModel.Encode and validate
// it with models.Decode on the way out.
package storage

import (
	"context"

	"github.com/HatiCode/vmpredict/pkg/models"
)

// Store persists fitted models and returns the most recently stored one.
type Store interface {
	// Put records m as the latest artifact.
	Put(ctx context.Context, m *models.FittedModel) error
	// GetLatest returns the latest artifact. found is false, with a nil error,
	// when nothing has been stored yet.
	GetLatest(ctx context.Context) (m *models.FittedModel, found bool, err error)
}
