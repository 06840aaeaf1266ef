// Package patterncache implements the spec's capacity-bounded, strict-LRU
// mapping from pattern bytes to a device buffer holding those bytes,
// grounded on the reference pack's tiered pattern-storage LRU list
// (intrusive doubly linked list keyed by an access-order index) combined
// with the teacher's cache hit/miss counters in pkg/gpu/gpu.go.
package patterncache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/vantasys/metalgrep/pkg/metalgrep/gpudevice"
)

// DefaultCapacity is the spec's default K.
const DefaultCapacity = 32

var (
	ErrPatternEncodeFailed    = errors.New("patterncache: failed to encode pattern bytes")
	ErrBufferAllocationFailed = errors.New("patterncache: buffer allocation failed")
)

// key identifies a cached pattern. The xxhash digest accelerates the
// common-case lookup; length is carried alongside to make collisions
// distinguishable without re-hashing, and the full byte comparison in get
// is still authoritative.
type key struct {
	length uint64
	digest uint64
}

type entry struct {
	k       key
	pattern []byte
	buf     gpudevice.Buffer
	elem    *list.Element
}

// Cache is a capacity-bounded, strict-LRU pattern→buffer cache. Every
// method takes the internal mutex; the engine itself uses the cache from a
// single goroutine (spec §5).
type Cache struct {
	device   gpudevice.Device
	capacity int

	mu      sync.Mutex
	entries map[key][]*entry // bucket list to resolve hash collisions
	order   *list.List       // front = LRU, back = MRU
}

// New constructs a Cache bound to device with the given capacity (<=0 uses
// DefaultCapacity).
func New(device gpudevice.Device, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		device:   device,
		capacity: capacity,
		entries:  make(map[key][]*entry),
		order:    list.New(),
	}
}

func makeKey(pattern []byte) key {
	return key{length: uint64(len(pattern)), digest: xxhash.Sum64(pattern)}
}

func (c *Cache) find(k key, pattern []byte) *entry {
	for _, e := range c.entries[k] {
		if bytesEqual(e.pattern, pattern) {
			return e
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetOrCreate returns the cached buffer for pattern, moving it to the MRU
// position, or allocates and inserts a new one, evicting the LRU entry
// first if the cache is at capacity.
func (c *Cache) GetOrCreate(pattern []byte) (gpudevice.Buffer, error) {
	if len(pattern) == 0 {
		return nil, fmt.Errorf("%w: empty pattern", ErrPatternEncodeFailed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := makeKey(pattern)
	if e := c.find(k, pattern); e != nil {
		c.order.MoveToBack(e.elem)
		return e.buf, nil
	}

	if c.order.Len() >= c.capacity {
		c.evictLRULocked()
	}

	buf, err := c.device.NewBuffer(uint64(len(pattern)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBufferAllocationFailed, err)
	}
	writePatternBytes(buf, pattern)

	e := &entry{k: k, pattern: append([]byte(nil), pattern...), buf: buf}
	e.elem = c.order.PushBack(e)
	c.entries[k] = append(c.entries[k], e)
	return buf, nil
}

// writePatternBytes copies pattern into buf byte-for-byte; pattern buffers
// are sized exactly to |P| per spec §4.3 and are not word-aligned.
func writePatternBytes(buf gpudevice.Buffer, pattern []byte) {
	for i, b := range pattern {
		buf.WriteByteAt(i, b)
	}
}

func (c *Cache) evictLRULocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	e := front.Value.(*entry)
	c.order.Remove(front)
	bucket := c.entries[e.k]
	for i, be := range bucket {
		if be == e {
			c.entries[e.k] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(c.entries[e.k]) == 0 {
		delete(c.entries, e.k)
	}
	e.buf.Release()
}

// Clear releases every cached buffer and empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, bucket := range c.entries {
		for _, e := range bucket {
			e.buf.Release()
		}
	}
	c.entries = make(map[key][]*entry)
	c.order.Init()
}

// Len returns the number of cached patterns.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Contains reports whether pattern is currently cached, without affecting
// LRU order.
func (c *Cache) Contains(pattern []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.find(makeKey(pattern), pattern) != nil
}

// Warmup populates the cache with each of patterns, in order, subject to
// the same eviction rule as GetOrCreate.
func (c *Cache) Warmup(patterns [][]byte) error {
	for _, p := range patterns {
		if _, err := c.GetOrCreate(p); err != nil {
			return err
		}
	}
	return nil
}
