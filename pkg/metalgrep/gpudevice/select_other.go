//go:build !darwin

package gpudevice

// openPreferredDevice has no GPU backend to try on non-darwin platforms;
// ResourceManager falls back to the software device unconditionally.
func openPreferredDevice(archivePath string) (Device, error) {
	return nil, ErrDeviceUnsupported
}

// IsAvailable reports whether a usable GPU backend exists on this
// platform. Always false off darwin.
func IsAvailable() bool {
	return false
}
