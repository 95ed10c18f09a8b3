package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Backend names accepted by NewBackend.
const (
	BackendAuto  = "auto"
	BackendSysfs = "sysfs"
	BackendNVML  = "nvml"
	BackendFake  = "fake"
)

// NewBackend returns the backend called name. "auto" prefers amdgpu sysfs
// when an AMD card is visible under sysfsRoot, then NVML, and otherwise
// returns the sysfs backend so initialization fails in the usual way.
func NewBackend(name, sysfsRoot string) (Backend, error) {
	switch name {
	case BackendSysfs:
		return NewSysfs(sysfsRoot), nil
	case BackendNVML:
		b, ok := nvmlBackend(false)
		if !ok {
			return nil, fmt.Errorf("%w: nvml not available on this platform", ErrCollaboratorUnavailable)
		}
		return b, nil
	case BackendFake:
		return NewFake(2), nil
	case BackendAuto, "":
		sysfs := NewSysfs(sysfsRoot)
		if hasAMDCard(sysfs.root) {
			return sysfs, nil
		}
		if b, ok := nvmlBackend(true); ok {
			return b, nil
		}
		return sysfs, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

func hasAMDCard(root string) bool {
	vendors, _ := filepath.Glob(filepath.Join(root, "class", "drm", "card*", "device", "vendor"))
	for _, path := range vendors {
		if vendor, _ := readString(path); vendor == amdVendorID {
			return true
		}
	}
	return false
}

// OpenSource builds the source for mode. In ModeLive a backend that cannot
// be opened is an error. In ModeAuto the failure is logged and calls are
// served from the demo dataset.
func OpenSource(ctx context.Context, mode Mode, backend Backend, cfg LiveConfig, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	demo := NewDemo(cfg.Clock)
	switch mode {
	case ModeDemo:
		return demo, nil
	case ModeLive, ModeAuto, "":
	default:
		return nil, fmt.Errorf("unknown source mode %q", mode)
	}

	if backend == nil {
		if mode == ModeLive {
			return nil, fmt.Errorf("%w: no backend", ErrCollaboratorUnavailable)
		}
		return demo, nil
	}

	live := NewLive(backend, cfg, logger)
	if err := live.Open(ctx); err != nil {
		if mode == ModeLive {
			return nil, err
		}
		logger.Warn("gpu backend unavailable, serving demo data",
			slog.String("backend", backend.Name()),
			slog.String("error", err.Error()),
		)
	}
	if mode == ModeLive {
		return live, nil
	}
	return NewFallback(live, demo, logger), nil
}
