package gpudevice

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"
)

// byteBuffer is the fallback Buffer: a plain Go byte slice standing in for
// device memory. On NewBufferFromBytes it is a zero-copy view over the
// caller's slice (mirroring the Metal "shared storage, no copy" contract);
// on NewBuffer it owns a freshly zeroed slice.
type byteBuffer struct {
	data []byte
}

func (b *byteBuffer) Size() uint64 { return uint64(len(b.data)) }

func (b *byteBuffer) ReadUint32(count int) []uint32 {
	out := make([]uint32, count)
	for i := 0; i < count; i++ {
		out[i] = binary.LittleEndian.Uint32(b.data[i*4:])
	}
	return out
}

func (b *byteBuffer) WriteUint32At(offset int, v uint32) {
	binary.LittleEndian.PutUint32(b.data[offset*4:], v)
}

func (b *byteBuffer) ReadByteAt(offset int) byte { return b.data[offset] }

func (b *byteBuffer) WriteByteAt(offset int, v byte) { b.data[offset] = v }

func (b *byteBuffer) Release() {}

// fallbackDevice runs the spec's kernel algorithm on the CPU across a
// worker pool, one goroutine per dispatch chunk. It is used whenever Metal
// is unavailable (non-darwin, or no usable GPU on darwin), grounded
// directly on the teacher's Manager.FallbackOnError / VectorIndex.searchCPU
// pattern: the public contract never changes, only the execution substrate.
type fallbackDevice struct{}

// NewFallbackDevice constructs the software device. Construction cannot
// fail — there is no external resource to acquire.
func NewFallbackDevice() Device {
	return &fallbackDevice{}
}

func (d *fallbackDevice) Capabilities() Capabilities {
	return Capabilities{
		Name:                    "CPU fallback",
		HasUnifiedMemory:        true,
		ThreadExecutionWidth:    32,
		MaxTotalThreadsPerGroup: 1024,
	}
}

func (d *fallbackDevice) NewBufferFromBytes(data []byte) (Buffer, error) {
	return &byteBuffer{data: data}, nil
}

func (d *fallbackDevice) NewBuffer(sizeBytes uint64) (Buffer, error) {
	return &byteBuffer{data: make([]byte, sizeBytes)}, nil
}

func (d *fallbackDevice) Dispatch(
	plan dispatchPlan,
	text, pattern Buffer,
	patternLength, textLength uint32,
	matchCount, positions Buffer,
	maxPositions uint32,
) error {
	if plan.threads <= 0 {
		return nil
	}

	textBuf := text.(*byteBuffer).data
	patBuf := pattern.(*byteBuffer).data

	var counter uint32
	posBuf := positions.(*byteBuffer)

	workers := runtime.GOMAXPROCS(0)
	if workers > plan.threads {
		workers = plan.threads
	}
	if workers < 1 {
		workers = 1
	}

	chunk := (plan.threads + workers - 1) / workers
	var wg sync.WaitGroup

	for start := 0; start < plan.threads; start += chunk {
		end := start + chunk
		if end > plan.threads {
			end = plan.threads
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for g := start; g < end; g++ {
				if searchOffset(textBuf, patBuf, g, int(patternLength)) {
					slot := atomic.AddUint32(&counter, 1) - 1
					if slot < maxPositions {
						posBuf.WriteUint32At(int(slot), uint32(g))
					}
				}
			}
		}(start, end)
	}

	wg.Wait()
	matchCount.WriteUint32At(0, counter)
	return nil
}

func (d *fallbackDevice) Release() {}

// searchOffset implements spec §4.4 steps 2-4 verbatim: quick reject on the
// first/last byte, then a byte-by-byte compare of the interior.
func searchOffset(text, pattern []byte, g, patternLength int) bool {
	if patternLength == 1 {
		return text[g] == pattern[0]
	}

	if text[g] != pattern[0] || text[g+patternLength-1] != pattern[patternLength-1] {
		return false
	}

	for i := 1; i < patternLength-1; i++ {
		if text[g+i] != pattern[i] {
			return false
		}
	}
	return true
}
