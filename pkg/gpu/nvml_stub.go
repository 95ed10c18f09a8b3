//go:build !(linux && cgo)

package gpu

// NVML needs cgo on Linux; other builds only have sysfs and the fake.
func nvmlBackend(bool) (Backend, bool) { return nil, false }
