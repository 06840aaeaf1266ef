package gpudevice

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
)

const (
	// MinCapacity and MaxCapacity bound the positions-buffer capacity hint
	// per spec §4.1/§6.
	MinCapacity     = 1_000_000
	MaxCapacity     = 500_000_000
	DefaultCapacity = 50_000_000

	archiveFileName = "SearchKernelArchive.metallib"
	archiveSubdir   = "metalgrep"
)

// ResourceManager owns the GPU device, the compiled pipeline, and the two
// persistent result buffers for the lifetime of a SearchEngine.
type ResourceManager struct {
	device         Device
	matchCount     Buffer
	positions      Buffer
	capacity       uint32
	log            logr.Logger
	archiveFailed  bool
}

// Options configures ResourceManager construction, all optional.
type Options struct {
	CapacityHint *uint32
	ArchiveDir   string // overrides the resolved user-cache directory
	Log          logr.Logger
}

// New obtains a device (Metal on darwin when available, otherwise the
// software fallback), builds or loads the cached pipeline, and allocates
// the persistent match-count and positions buffers.
func New(opts Options) (*ResourceManager, error) {
	log := opts.Log
	capacity := clampCapacity(opts.CapacityHint)

	archivePath, archiveErr := resolveArchivePath(opts.ArchiveDir)

	device, err := openPreferredDevice(archivePath)
	archiveFailed := false
	if err != nil {
		log.V(1).Info("falling back to software device", "reason", err.Error())
		device = NewFallbackDevice()
	} else if archiveErr != nil {
		// Non-fatal per spec §4.1: the engine runs without persistent
		// pipeline caching and logs once.
		archiveFailed = true
		log.Info("pipeline archive unavailable, continuing without cache", "error", archiveErr.Error())
	}

	matchCount, err := device.NewBuffer(4)
	if err != nil {
		return nil, fmt.Errorf("%w: match count buffer", ErrBufferAllocationFailed)
	}

	positions, err := device.NewBuffer(uint64(capacity) * 4)
	if err != nil {
		return nil, fmt.Errorf("%w: positions buffer", ErrBufferAllocationFailed)
	}

	return &ResourceManager{
		device:        device,
		matchCount:    matchCount,
		positions:     positions,
		capacity:      capacity,
		log:           log,
		archiveFailed: archiveFailed,
	}, nil
}

func clampCapacity(hint *uint32) uint32 {
	if hint == nil {
		return DefaultCapacity
	}
	v := *hint
	if v < MinCapacity {
		return MinCapacity
	}
	if v > MaxCapacity {
		return MaxCapacity
	}
	return v
}

// resolveArchivePath resolves the binary archive location per spec §4.1:
// first a bundled resource next to the executable, then
// {user_cache}/SearchKernelArchive.<ext>. Only the second is implementable
// portably here; a missing/uncreatable cache directory is reported but
// non-fatal to the caller.
func resolveArchivePath(override string) (string, error) {
	if override != "" {
		if err := os.MkdirAll(override, 0o755); err != nil {
			return "", err
		}
		return filepath.Join(override, archiveFileName), nil
	}

	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, archiveSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, archiveFileName), nil
}

// Device returns the underlying device (used by Dispatcher).
func (r *ResourceManager) Device() Device { return r.device }

// MatchCountBuffer returns the persistent 4-byte match-count buffer.
func (r *ResourceManager) MatchCountBuffer() Buffer { return r.matchCount }

// PositionsBuffer returns the persistent capacity×4-byte positions buffer.
func (r *ResourceManager) PositionsBuffer() Buffer { return r.positions }

// Capacity returns the effective capture capacity.
func (r *ResourceManager) Capacity() uint32 { return r.capacity }

// OptimalStorageMode reports "shared" on unified-memory devices, else
// "managed" — spec §4.1.
func (r *ResourceManager) OptimalStorageMode() string {
	if r.device.Capabilities().HasUnifiedMemory {
		return "shared"
	}
	return "managed"
}

// ArchiveDegraded reports whether the pipeline archive could not be
// created/loaded (engine still usable, just without cold-start caching).
func (r *ResourceManager) ArchiveDegraded() bool { return r.archiveFailed }

// ResetMatchCount writes 0 into match_count_buffer[0], required before
// every dispatch.
func (r *ResourceManager) ResetMatchCount() {
	r.matchCount.WriteUint32At(0, 0)
}

// Release frees all device resources.
func (r *ResourceManager) Release() {
	if r.matchCount != nil {
		r.matchCount.Release()
	}
	if r.positions != nil {
		r.positions.Release()
	}
	if r.device != nil {
		r.device.Release()
	}
}
