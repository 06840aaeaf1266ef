//go:build darwin

package gpudevice

// openPreferredDevice tries the real Metal device first; callers fall back
// to NewFallbackDevice themselves if this returns an error, matching the
// teacher's FallbackOnError behavior.
func openPreferredDevice(archivePath string) (Device, error) {
	return NewMetalDevice(archivePath)
}

// IsAvailable reports whether a usable GPU backend exists on this
// platform.
func IsAvailable() bool {
	return metalIsAvailable()
}
