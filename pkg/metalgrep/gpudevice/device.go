// Package gpudevice implements the persistent-resource GPU model described
// by the engine spec: a device handle, a compiled compute pipeline seeded
// from an on-disk binary archive, and the atomic-counter dispatch that
// drives one thread per candidate match offset.
//
// On darwin this is backed by a real Metal device (device_darwin.go). On
// every other platform, or when no usable Metal device is present, it
// falls back to a software device (device_fallback.go) that implements the
// identical per-offset algorithm across a worker pool. Both satisfy the
// same Device/Buffer interfaces so ResourceManager and Dispatcher never
// branch on platform.
package gpudevice

import "errors"

// StorageMode mirrors the Metal storage mode a buffer is allocated with.
type StorageMode int

const (
	// StorageShared is unified host/device memory — no copy, no sync.
	StorageShared StorageMode = iota
	// StorageManaged requires explicit host/device synchronization.
	StorageManaged
)

// Errors surfaced at the gpudevice boundary. Callers compare with errors.Is.
var (
	ErrNoDevice              = errors.New("gpudevice: no compatible GPU device found")
	ErrDeviceUnsupported     = errors.New("gpudevice: device lacks required compute/atomics capability")
	ErrQueueCreationFailed   = errors.New("gpudevice: command queue creation failed")
	ErrShaderNotFound        = errors.New("gpudevice: kernel source not found")
	ErrPipelineCreationFailed = errors.New("gpudevice: compute pipeline creation failed")
	ErrBufferAllocationFailed = errors.New("gpudevice: buffer allocation failed")
	ErrCommandBufferCreationFailed = errors.New("gpudevice: command buffer creation failed")
	ErrGPUExecutionFailed     = errors.New("gpudevice: dispatch execution failed")
)

// Capabilities describes the fixed, device-level limits the Dispatcher
// needs to size a dispatch.
type Capabilities struct {
	Name                     string
	HasUnifiedMemory         bool
	ThreadExecutionWidth     int
	MaxTotalThreadsPerGroup  int
}

// Buffer is a device-visible memory region. Read/Write operate on the
// host-visible view; on StorageShared buffers this is the same memory the
// device wrote, no copy involved.
type Buffer interface {
	Size() uint64
	ReadUint32(count int) []uint32
	WriteUint32At(offset int, v uint32)
	ReadByteAt(offset int) byte
	WriteByteAt(offset int, v byte)
	Release()
}

// Device is the minimal GPU device contract ResourceManager/Dispatcher
// depend on.
type Device interface {
	Capabilities() Capabilities
	// NewBufferFromBytes creates a zero-copy device view over an existing
	// byte slice (used for the mmap'd text buffer). The slice must outlive
	// the buffer.
	NewBufferFromBytes(data []byte) (Buffer, error)
	// NewBuffer allocates an owned, zeroed device buffer of sizeBytes.
	NewBuffer(sizeBytes uint64) (Buffer, error)
	// Dispatch runs the search kernel over the grid implied by plan,
	// binding the given buffers/scalars exactly as spec §4.5 enumerates
	// them, and blocks until the dispatch has completed.
	Dispatch(plan dispatchPlan, text, pattern Buffer, patternLength, textLength uint32, matchCount, positions Buffer, maxPositions uint32) error
	Release()
}

// dispatchPlan is the grid/threadgroup sizing shared by every Device
// implementation — computed once by Dispatcher and handed down so the
// Metal and fallback paths size identically.
type dispatchPlan struct {
	threads int // total candidate offsets, |T|-|P|+1
	width   int // threadgroup width (the fallback device ignores it)
}

// planDispatch implements spec §4.5 step 4: align desired width to the
// device's execution width, then clamp to [1, min(maxGroup, threads)].
func planDispatch(threads int, execWidth, maxGroup int) dispatchPlan {
	if threads <= 0 {
		return dispatchPlan{threads: 0, width: 0}
	}

	var desired int
	if execWidth > 0 && maxGroup >= execWidth {
		desired = (maxGroup / execWidth) * execWidth
	} else {
		desired = 64
	}

	width := desired
	if maxGroup < width {
		width = maxGroup
	}
	if threads < width {
		width = threads
	}
	if width < 1 {
		width = 1
	}

	return dispatchPlan{threads: threads, width: width}
}
