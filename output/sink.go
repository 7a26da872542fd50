// Package output persists one entry per target, durably and in order, and
// derives the resume checkpoint from what is already on disk.
package output

import (
	"context"
	"fmt"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// Sink is durable, append-only entry storage. Append returns only after
// the entry has been synced.
type Sink interface {
	Append(ctx context.Context, e *models.Entry) error
	// Walk calls fn for every stored entry in append order.
	Walk(ctx context.Context, fn func(models.Entry) error) error
	// Last returns the most recent entry, or nil when the sink is empty.
	Last(ctx context.Context) (*models.Entry, error)
	Close() error
}

// Open returns the sink configured by cfg.
func Open(cfg config.OutputConfig) (Sink, error) {
	switch cfg.Format {
	case "", "jsonl":
		return OpenJSONL(cfg.Path)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	}
	return nil, models.NewHarvestError(models.ErrCodeInvalidInput,
		fmt.Sprintf("unknown output format %q", cfg.Format), nil)
}
