package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
)

// Windows stores one cancellation Window per maker.
type Windows struct {
	store Store
	ttl   time.Duration
}

// NewWindows creates a view over store. A window left untouched for ttl is dropped, which
// is safe once ttl covers the rule's window length.
func NewWindows(store Store, ttl time.Duration) *Windows {
	return &Windows{store: store, ttl: ttl}
}

// Load returns maker's window, or an empty one if none is stored or the stored value is corrupt.
func (w *Windows) Load(ctx context.Context, maker string) (*Window, error) {
	data, err := w.store.Get(ctx, windowKeyPrefix+maker)
	if errors.Is(err, ErrNotFound) {
		return &Window{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load window for %s: %w", maker, err)
	}
	var win Window
	if err := json.Unmarshal(data, &win); err != nil {
		// Retrying cannot repair the value, so the maker starts over.
		slog.Error("Discarding corrupt cancellation window", "maker", maker, "error", err)
		return &Window{}, nil
	}
	return &win, nil
}

// Save replaces maker's window.
func (w *Windows) Save(ctx context.Context, maker string, win *Window) error {
	data, err := json.Marshal(win)
	if err != nil {
		return fmt.Errorf("failed to marshal window for %s: %w", maker, err)
	}
	if err := w.store.Put(ctx, windowKeyPrefix+maker, data, w.ttl); err != nil {
		return fmt.Errorf("failed to save window for %s: %w", maker, err)
	}
	return nil
}

// Dedup remembers alert ids that have already been emitted.
type Dedup struct {
	store Store
	ttl   time.Duration
}

// NewDedup creates a view over store that remembers each id for ttl.
func NewDedup(store Store, ttl time.Duration) *Dedup {
	return &Dedup{store: store, ttl: ttl}
}

// MarkIfNew records alertID and reports whether it was not seen before.
func (d *Dedup) MarkIfNew(ctx context.Context, alertID string) (bool, error) {
	stored, err := d.store.PutIfAbsent(ctx, dedupKeyPrefix+alertID, []byte{1}, d.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to record alert %s: %w", alertID, err)
	}
	return stored, nil
}
