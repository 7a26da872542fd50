package output

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/harvest/models"
)

// Writer appends entries to a Sink at most once per identity key.
type Writer struct {
	sink          Sink
	kind          string
	discriminator string
	seen          map[string]bool
	skipped       int
	logger        *slog.Logger
	now           func() time.Time
}

// NewWriter primes the duplicate set with every key already stored in
// sink, so re-running against the same output never writes a key twice.
// discriminator, when set, names a record field appended to the key.
func NewWriter(ctx context.Context, sink Sink, kind, discriminator string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		sink:          sink,
		kind:          kind,
		discriminator: discriminator,
		seen:          make(map[string]bool),
		logger:        logger,
		now:           time.Now,
	}
	err := sink.Walk(ctx, func(e models.Entry) error {
		key := e.Key
		if key == "" {
			key = w.Key(e.Target, e.Record)
		}
		w.seen[key] = true
		return nil
	})
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeOutputIO, "read existing output", err)
	}
	return w, nil
}

// Key is the identity of an entry: the target locator, optionally
// followed by "#" and the discriminator field's value.
func (w *Writer) Key(t models.Target, rec models.Record) string {
	if w.discriminator == "" || rec == nil {
		return t.Locator
	}
	if v, ok := rec[w.discriminator].(string); ok && v != "" {
		return t.Locator + "#" + v
	}
	return t.Locator
}

// Append writes one entry and syncs it. It returns false without writing
// when the key was already stored. Storage failures are OUTPUT_IO.
func (w *Writer) Append(ctx context.Context, t models.Target, rec models.Record, status models.Status, cause error, warnings ...string) (bool, error) {
	key := w.Key(t, rec)
	if w.seen[key] {
		w.skipped++
		w.logger.Info("duplicate skipped", "target", t.ID, "key", key)
		return false, nil
	}

	e := &models.Entry{
		Target:    t,
		Kind:      w.kind,
		Key:       key,
		Status:    status,
		Record:    rec,
		Error:     models.Detail(cause),
		Warnings:  warnings,
		ScrapedAt: w.now().UTC(),
	}
	if err := w.sink.Append(ctx, e); err != nil {
		return false, models.NewHarvestError(models.ErrCodeOutputIO,
			fmt.Sprintf("append entry for target %s", t.ID), err)
	}
	w.seen[key] = true
	return true, nil
}

// Seen reports whether key is already stored.
func (w *Writer) Seen(key string) bool { return w.seen[key] }

// Skipped is the number of duplicate appends rejected by this writer.
func (w *Writer) Skipped() int { return w.skipped }

// Last returns the most recent stored entry, the resume checkpoint.
func (w *Writer) Last(ctx context.Context) (*models.Entry, error) {
	e, err := w.sink.Last(ctx)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeOutputIO, "read output tail", err)
	}
	return e, nil
}
