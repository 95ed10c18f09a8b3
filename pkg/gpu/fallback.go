package gpu

import (
	"context"
	"errors"
	"log/slog"
)

// Fallback tries a live source first and serves the whole call from the
// demo source when the live collaborator cannot be reached. Device-level
// errors from a reachable live source are returned as is.
type Fallback struct {
	live   Source
	demo   Source
	logger *slog.Logger
}

// NewFallback creates a Fallback source.
func NewFallback(live, demo Source, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		live:   live,
		demo:   demo,
		logger: logger.With(slog.String("component", "fallback-source")),
	}
}

// Mode implements Source.
func (f *Fallback) Mode() Mode { return ModeAuto }

// Discover implements Source.
func (f *Fallback) Discover(ctx context.Context) (*Inventory, error) {
	inv, err := f.live.Discover(ctx)
	if f.unreachable(err) {
		return f.demo.Discover(ctx)
	}
	return inv, err
}

// Read implements Source.
func (f *Fallback) Read(ctx context.Context, deviceID string, kind Kind) (Value, error) {
	v, err := f.live.Read(ctx, deviceID, kind)
	if f.unreachable(err) {
		return f.demo.Read(ctx, deviceID, kind)
	}
	return v, err
}

// Snapshot implements Source.
func (f *Fallback) Snapshot(ctx context.Context, deviceID string, kinds []Kind) (*Snapshot, error) {
	snap, err := f.live.Snapshot(ctx, deviceID, kinds)
	if f.unreachable(err) {
		return f.demo.Snapshot(ctx, deviceID, kinds)
	}
	return snap, err
}

func (f *Fallback) unreachable(err error) bool {
	if !errors.Is(err, ErrCollaboratorUnavailable) {
		return false
	}
	f.logger.Debug("serving demo data", slog.String("reason", err.Error()))
	return true
}

// Close closes the live source if it holds resources.
func (f *Fallback) Close(ctx context.Context) error {
	if c, ok := f.live.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}
