//go:build darwin

package gpudevice

/*
#cgo CFLAGS: -x objective-c -fobjc-arc
#cgo LDFLAGS: -framework Metal -framework Foundation
#include "bridge_darwin.h"
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// metalIsAvailable reports whether a default Metal device can be created
// on this system.
func metalIsAvailable() bool {
	return bool(C.mg_metal_is_available())
}

// metalDevice is the darwin Device implementation: a Metal device, command
// queue, and compiled pipeline, with buffers allocated in shared storage
// mode wherever the device reports unified memory (spec §4.1
// optimal_storage_mode).
type metalDevice struct {
	ptr      C.mg_device_t
	queue    C.mg_queue_t
	pipeline C.mg_pipeline_t
	caps     Capabilities
	mu       sync.Mutex
}

// NewMetalDevice obtains the default device, a command queue, and builds
// (or loads from archivePath) the search kernel pipeline.
func NewMetalDevice(archivePath string) (Device, error) {
	if !metalIsAvailable() {
		return nil, ErrNoDevice
	}

	dev := C.mg_create_device()
	if dev == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, C.GoString(C.mg_last_error()))
	}

	queue := C.mg_create_queue(dev)
	if queue == nil {
		C.mg_release_device(dev)
		return nil, fmt.Errorf("%w: %s", ErrQueueCreationFailed, C.GoString(C.mg_last_error()))
	}

	cSource := C.CString(Source)
	defer C.free(unsafe.Pointer(cSource))
	cKernel := C.CString(KernelName)
	defer C.free(unsafe.Pointer(cKernel))
	cArchive := C.CString(archivePath)
	defer C.free(unsafe.Pointer(cArchive))

	pipeline := C.mg_build_pipeline(dev, cSource, cKernel, cArchive)
	if pipeline == nil {
		errMsg := C.GoString(C.mg_last_error())
		C.mg_release_queue(queue)
		C.mg_release_device(dev)
		return nil, fmt.Errorf("%w: %s", ErrPipelineCreationFailed, errMsg)
	}

	d := &metalDevice{
		ptr:      dev,
		queue:    queue,
		pipeline: pipeline,
		caps: Capabilities{
			Name:                    C.GoString(C.mg_device_name(dev)),
			HasUnifiedMemory:        bool(C.mg_device_has_unified_memory(dev)),
			ThreadExecutionWidth:    int(C.mg_pipeline_thread_execution_width(pipeline)),
			MaxTotalThreadsPerGroup: int(C.mg_pipeline_max_threads_per_group(pipeline)),
		},
	}

	if !d.caps.HasUnifiedMemory {
		// No compute/atomics capability check is made here; a device
		// without unified memory only gets managed storage (see
		// storageMode).
	}

	return d, nil
}

func (d *metalDevice) Capabilities() Capabilities {
	return d.caps
}

func (d *metalDevice) storageMode() C.int {
	if d.caps.HasUnifiedMemory {
		return 0 // shared
	}
	return 1 // managed
}

func (d *metalDevice) NewBufferFromBytes(data []byte) (Buffer, error) {
	if len(data) == 0 {
		return &metalBuffer{device: d, size: 0}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ptr := C.mg_buffer_from_bytes(d.ptr, unsafe.Pointer(&data[0]), C.ulong(len(data)), d.storageMode())
	if ptr == nil {
		return nil, fmt.Errorf("%w: %s", ErrBufferAllocationFailed, C.GoString(C.mg_last_error()))
	}
	return &metalBuffer{ptr: ptr, size: uint64(len(data)), device: d}, nil
}

func (d *metalDevice) NewBuffer(sizeBytes uint64) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ptr := C.mg_buffer_new(d.ptr, C.ulong(sizeBytes), d.storageMode())
	if ptr == nil {
		return nil, fmt.Errorf("%w: %s", ErrBufferAllocationFailed, C.GoString(C.mg_last_error()))
	}
	return &metalBuffer{ptr: ptr, size: sizeBytes, device: d}, nil
}

func (d *metalDevice) Dispatch(
	plan dispatchPlan,
	text, pattern Buffer,
	patternLength, textLength uint32,
	matchCount, positions Buffer,
	maxPositions uint32,
) error {
	if plan.threads <= 0 {
		return nil
	}

	tb := text.(*metalBuffer)
	pb := pattern.(*metalBuffer)
	mb := matchCount.(*metalBuffer)
	rb := positions.(*metalBuffer)

	d.mu.Lock()
	defer d.mu.Unlock()

	res := C.mg_dispatch(
		d.ptr, d.queue, d.pipeline,
		tb.ptr, pb.ptr, C.uint(patternLength),
		mb.ptr, C.uint(textLength),
		rb.ptr, C.uint(maxPositions),
		C.long(plan.threads), C.long(plan.width),
	)
	if res != 0 {
		return fmt.Errorf("%w: %s", ErrGPUExecutionFailed, C.GoString(C.mg_last_error()))
	}
	return nil
}

func (d *metalDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pipeline != nil {
		C.mg_release_pipeline(d.pipeline)
		d.pipeline = nil
	}
	if d.queue != nil {
		C.mg_release_queue(d.queue)
		d.queue = nil
	}
	if d.ptr != nil {
		C.mg_release_device(d.ptr)
		d.ptr = nil
	}
}

// metalBuffer wraps an MTLBuffer. Contents() is only valid for shared and
// managed storage, which is all this engine ever allocates.
type metalBuffer struct {
	ptr    C.mg_buffer_t
	size   uint64
	device *metalDevice
}

func (b *metalBuffer) Size() uint64 { return b.size }

func (b *metalBuffer) contents() unsafe.Pointer {
	if b.ptr == nil {
		return nil
	}
	return C.mg_buffer_contents(b.ptr)
}

func (b *metalBuffer) ReadUint32(count int) []uint32 {
	contents := b.contents()
	if contents == nil || count <= 0 {
		return nil
	}
	out := make([]uint32, count)
	src := (*[1 << 30]uint32)(contents)[:count:count]
	copy(out, src)
	return out
}

func (b *metalBuffer) WriteUint32At(offset int, v uint32) {
	contents := b.contents()
	if contents == nil {
		return
	}
	dst := (*[1 << 30]uint32)(contents)
	dst[offset] = v
}

func (b *metalBuffer) ReadByteAt(offset int) byte {
	contents := b.contents()
	if contents == nil {
		return 0
	}
	dst := (*[1 << 30]byte)(contents)
	return dst[offset]
}

func (b *metalBuffer) WriteByteAt(offset int, v byte) {
	contents := b.contents()
	if contents == nil {
		return
	}
	dst := (*[1 << 30]byte)(contents)
	dst[offset] = v
}

func (b *metalBuffer) Release() {
	if b.ptr != nil {
		C.mg_release_buffer(b.ptr)
		b.ptr = nil
	}
}
