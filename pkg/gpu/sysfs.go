package gpu

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const amdVendorID = "0x1002"

// Sysfs reads AMD GPU telemetry exposed by the amdgpu kernel driver under
// /sys/class/drm and the device's hwmon directory.
type Sysfs struct {
	root string

	mu          sync.RWMutex
	initialized bool
	cards       []sysfsCard
}

type sysfsCard struct {
	device Device
	dir    string // .../class/drm/cardN/device
	hwmon  string // .../device/hwmon/hwmonM, empty if absent
}

// NewSysfs creates a sysfs backend rooted at root (normally "/sys").
func NewSysfs(root string) *Sysfs {
	if root == "" {
		root = "/sys"
	}
	return &Sysfs{root: root}
}

// Name implements Backend.
func (s *Sysfs) Name() string { return "amdgpu-sysfs" }

// Initialize scans for amdgpu cards. It fails when none are present so the
// caller can fall back to demo data.
func (s *Sysfs) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cards, err := s.scan()
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		return fmt.Errorf("no amdgpu devices under %s", filepath.Join(s.root, "class", "drm"))
	}

	s.cards = cards
	s.initialized = true
	return nil
}

// Shutdown implements Backend.
func (s *Sysfs) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.initialized = false
	s.cards = nil
	return nil
}

// Devices implements Backend.
func (s *Sysfs) Devices(ctx context.Context) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]Device, len(s.cards))
	for i, c := range s.cards {
		out[i] = c.device
	}
	return out, nil
}

// Read implements Backend.
func (s *Sysfs) Read(ctx context.Context, index int, kind Kind) (float64, error) {
	s.mu.RLock()
	if !s.initialized {
		s.mu.RUnlock()
		return 0, ErrNotInitialized
	}
	if index < 0 || index >= len(s.cards) {
		s.mu.RUnlock()
		return 0, fmt.Errorf("%w: index %d", ErrDeviceNotFound, index)
	}
	card := s.cards[index]
	s.mu.RUnlock()

	switch kind {
	case TemperatureCurrent:
		return card.hwmonScaled("temp1_input", 1000)
	case TemperatureCritical:
		return card.hwmonScaled("temp1_crit", 1000)
	case TemperatureEmergency:
		return card.hwmonScaled("temp1_emergency", 1000)
	case PowerCurrent:
		if v, err := card.hwmonScaled("power1_input", 1e6); err == nil {
			return v, nil
		}
		return card.hwmonScaled("power1_average", 1e6)
	case PowerAverage:
		return card.hwmonScaled("power1_average", 1e6)
	case PowerCap:
		return card.hwmonScaled("power1_cap", 1e6)
	case UtilizationGPU:
		return readNumber(filepath.Join(card.dir, "gpu_busy_percent"))
	case UtilizationMemory:
		return readNumber(filepath.Join(card.dir, "mem_busy_percent"))
	case UtilizationMultimedia:
		return 0, ErrNotSupported
	case MemoryUsed:
		return scaled(filepath.Join(card.dir, "mem_info_vram_used"), 1024*1024)
	case MemoryTotal:
		return scaled(filepath.Join(card.dir, "mem_info_vram_total"), 1024*1024)
	case MemoryFree:
		used, err := scaled(filepath.Join(card.dir, "mem_info_vram_used"), 1024*1024)
		if err != nil {
			return 0, err
		}
		total, err := scaled(filepath.Join(card.dir, "mem_info_vram_total"), 1024*1024)
		if err != nil {
			return 0, err
		}
		return total - used, nil
	case ClockSystem:
		return readDPMClock(filepath.Join(card.dir, "pp_dpm_sclk"))
	case ClockMemory:
		return readDPMClock(filepath.Join(card.dir, "pp_dpm_mclk"))
	case ClockFabric:
		return readDPMClock(filepath.Join(card.dir, "pp_dpm_fclk"))
	case FanRPM:
		return card.hwmonScaled("fan1_input", 1)
	case FanPercent:
		pwm, err := card.hwmonScaled("pwm1", 1)
		if err != nil {
			return 0, err
		}
		pwmMax, err := card.hwmonScaled("pwm1_max", 1)
		if err != nil || pwmMax <= 0 {
			pwmMax = 255
		}
		return pwm / pwmMax * 100, nil
	default:
		return 0, ErrNotSupported
	}
}

func (s *Sysfs) scan() ([]sysfsCard, error) {
	drm := filepath.Join(s.root, "class", "drm")
	entries, err := os.ReadDir(drm)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", drm, err)
	}

	type numbered struct {
		n   int
		dir string
	}
	var found []numbered
	for _, e := range entries {
		name := e.Name()
		// card0, card1, ... but not connectors like card0-DP-1.
		if !strings.HasPrefix(name, "card") || strings.Contains(name, "-") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "card"))
		if err != nil {
			continue
		}
		dir := filepath.Join(drm, name, "device")
		if vendor, _ := readString(filepath.Join(dir, "vendor")); vendor != amdVendorID {
			continue
		}
		found = append(found, numbered{n: n, dir: dir})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	driver, _ := readString(filepath.Join(s.root, "module", "amdgpu", "version"))

	cards := make([]sysfsCard, 0, len(found))
	for i, f := range found {
		card := sysfsCard{dir: f.dir, hwmon: findHwmon(f.dir)}
		card.device = s.describe(i, f.dir, driver)
		cards = append(cards, card)
	}
	return cards, nil
}

func (s *Sysfs) describe(index int, dir, driver string) Device {
	d := Device{
		ID:            DeviceID(index),
		Index:         index,
		DriverVersion: driver,
	}

	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		d.PCIBusID = filepath.Base(resolved)
	}
	d.Name, _ = readString(filepath.Join(dir, "product_name"))
	if d.Name == "" {
		id, _ := readString(filepath.Join(dir, "device"))
		d.Name = "AMD GPU " + id
	}
	d.UUID, _ = readString(filepath.Join(dir, "unique_id"))
	d.VBIOSVersion, _ = readString(filepath.Join(dir, "vbios_version"))
	if total, err := readNumber(filepath.Join(dir, "mem_info_vram_total")); err == nil {
		d.VRAMBytes = uint64(total)
	}
	return d
}

func findHwmon(dir string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, "hwmon", "hwmon*"))
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

func (c sysfsCard) hwmonScaled(file string, divisor float64) (float64, error) {
	if c.hwmon == "" {
		return 0, ErrNotSupported
	}
	return scaled(filepath.Join(c.hwmon, file), divisor)
}

func scaled(path string, divisor float64) (float64, error) {
	v, err := readNumber(path)
	if err != nil {
		return 0, err
	}
	return v / divisor, nil
}

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readNumber maps a missing file to ErrNotSupported; the driver omits
// files for sensors a board does not have.
func readNumber(path string) (float64, error) {
	s, err := readString(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotSupported
		}
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// readDPMClock returns the active level of a pp_dpm_* table, e.g.
//
//	0: 500Mhz
//	1: 1700Mhz *
func readDPMClock(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotSupported
		}
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasSuffix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		mhz := strings.TrimSuffix(strings.ToLower(fields[1]), "mhz")
		return strconv.ParseFloat(mhz, 64)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, ErrNotSupported
}
