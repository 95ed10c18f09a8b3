//go:build linux && cgo

package gpu

import (
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

func TestNVMLClocks(t *testing.T) {
	if got := nvmlClocks[ClockSystem]; got != nvml.CLOCK_GRAPHICS {
		t.Errorf("ClockSystem maps to %v, want CLOCK_GRAPHICS", got)
	}
	if got := nvmlClocks[ClockMemory]; got != nvml.CLOCK_MEM {
		t.Errorf("ClockMemory maps to %v, want CLOCK_MEM", got)
	}
	if _, ok := nvmlClocks[ClockFabric]; ok {
		t.Error("ClockFabric should have no NVML clock domain")
	}
}

func TestNVML_ReadBeforeInitialize(t *testing.T) {
	n := &NVML{}
	if _, err := n.Read(t.Context(), 0, ClockFabric); err != ErrNotInitialized {
		t.Errorf("Read before Initialize = %v, want ErrNotInitialized", err)
	}
}
