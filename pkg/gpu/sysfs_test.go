package gpu

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// sysfsFixture lays out a tree shaped like the amdgpu driver's: the
// cardN/device entry is a symlink to the PCI device directory.
func sysfsFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	pci := filepath.Join(root, "devices", "pci0000:00", "0000:0c:00.0")
	files := map[string]string{
		"vendor":                      "0x1002\n",
		"device":                      "0x74a1\n",
		"product_name":                "AMD Instinct MI300X\n",
		"unique_id":                   "d5e1b2c3a4f50607\n",
		"vbios_version":               "113-M3000100-102\n",
		"mem_info_vram_total":         "206158430208\n",
		"mem_info_vram_used":          "103079215104\n",
		"gpu_busy_percent":            "87\n",
		"mem_busy_percent":            "41\n",
		"pp_dpm_sclk":                 "0: 500Mhz\n1: 1300Mhz\n2: 2100Mhz *\n",
		"pp_dpm_mclk":                 "0: 900Mhz\n1: 1300Mhz *\n",
		"hwmon/hwmon3/temp1_input":    "65000\n",
		"hwmon/hwmon3/temp1_crit":     "90000\n",
		"hwmon/hwmon3/power1_average": "465000000\n",
		"hwmon/hwmon3/power1_cap":     "750000000\n",
		"hwmon/hwmon3/pwm1":           "102\n",
	}
	for name, content := range files {
		writeFile(t, filepath.Join(pci, name), content)
	}

	drm := filepath.Join(root, "class", "drm")
	if err := os.MkdirAll(filepath.Join(drm, "card0"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(pci, filepath.Join(drm, "card0", "device")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	// A connector and a non-AMD card that must both be skipped.
	if err := os.MkdirAll(filepath.Join(drm, "card0-DP-1"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(drm, "card1", "device", "vendor"), "0x10de\n")

	writeFile(t, filepath.Join(root, "module", "amdgpu", "version"), "6.7.0\n")
	return root
}

func TestSysfs_Devices(t *testing.T) {
	ctx := context.Background()
	s := NewSysfs(sysfsFixture(t))
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	devices, err := s.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}

	d := devices[0]
	want := Device{
		ID:            "0",
		Index:         0,
		Name:          "AMD Instinct MI300X",
		UUID:          "d5e1b2c3a4f50607",
		PCIBusID:      "0000:0c:00.0",
		VBIOSVersion:  "113-M3000100-102",
		DriverVersion: "6.7.0",
		VRAMBytes:     206158430208,
	}
	if d != want {
		t.Errorf("device = %+v\nwant %+v", d, want)
	}
}

func TestSysfs_Read(t *testing.T) {
	ctx := context.Background()
	s := NewSysfs(sysfsFixture(t))
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	tests := []struct {
		kind Kind
		want float64
	}{
		{TemperatureCurrent, 65},
		{TemperatureCritical, 90},
		{PowerCurrent, 465}, // falls back to power1_average
		{PowerAverage, 465},
		{PowerCap, 750},
		{UtilizationGPU, 87},
		{UtilizationMemory, 41},
		{MemoryTotal, 196608},
		{MemoryUsed, 98304},
		{MemoryFree, 98304},
		{ClockSystem, 2100},
		{ClockMemory, 1300},
		{FanPercent, 40},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := s.Read(ctx, 0, tt.kind)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Read = %v, want %v", got, tt.want)
			}
		})
	}

	for _, kind := range []Kind{TemperatureEmergency, ClockFabric, FanRPM, UtilizationMultimedia} {
		if _, err := s.Read(ctx, 0, kind); !errors.Is(err, ErrNotSupported) {
			t.Errorf("Read(%s): expected ErrNotSupported, got %v", kind, err)
		}
	}

	if _, err := s.Read(ctx, 1, TemperatureCurrent); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestSysfs_NoDevices(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "class", "drm"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := NewSysfs(root).Initialize(context.Background()); err == nil {
		t.Error("expected error with no amdgpu cards")
	}
	if err := NewSysfs(filepath.Join(root, "missing")).Initialize(context.Background()); err == nil {
		t.Error("expected error with no drm class directory")
	}
}

func TestSysfs_NotInitialized(t *testing.T) {
	s := NewSysfs(t.TempDir())
	if _, err := s.Devices(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := s.Read(context.Background(), 0, TemperatureCurrent); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestReadDPMClock_NoActiveLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pp_dpm_fclk")
	writeFile(t, path, "0: 1200Mhz\n1: 1600Mhz\n")
	if _, err := readDPMClock(path); !errors.Is(err, ErrNotSupported) {
		t.Errorf("expected ErrNotSupported, got %v", err)
	}
}
