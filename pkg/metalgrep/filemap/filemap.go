// Package filemap maps a file read-only into the process address space and
// exposes it as a zero-copy GPU-visible buffer, grounded on the mmap idiom
// from the reference pack's slotcache implementation (syscall.Mmap with
// PROT_READ / MAP_PRIVATE), upgraded to golang.org/x/sys/unix.
package filemap

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/vantasys/metalgrep/pkg/metalgrep/gpudevice"
)

// Errors surfaced by Map/Unmap/Buffer.
var (
	ErrFileNotFound = errors.New("filemap: file not found")
	ErrNotReadable  = errors.New("filemap: file is not readable")
	ErrIsDirectory  = errors.New("filemap: path is a directory")
	ErrTooLarge     = errors.New("filemap: file exceeds the configured size cap")
	ErrStatFailed   = errors.New("filemap: stat failed")
	ErrMapFailed    = errors.New("filemap: mmap failed")
	ErrInvalidSize  = errors.New("filemap: invalid file size")
	ErrEmptyText    = errors.New("filemap: no file mapped")
)

// DefaultSizeCap is the spec's default FileSizeCap (50 GiB).
const DefaultSizeCap = 50 * 1024 * 1024 * 1024

// FileMapper owns at most one active mmap at a time.
type FileMapper struct {
	device  gpudevice.Device
	sizeCap int64

	data   []byte // nil for a zero-length file, non-nil mmap view otherwise
	size   int64
	mapped bool
	empty  bool

	buf gpudevice.Buffer
}

// New constructs a FileMapper bound to device (used to create the
// zero-copy buffer view) with the given size cap; sizeCap <= 0 uses
// DefaultSizeCap.
func New(device gpudevice.Device, sizeCap int64) *FileMapper {
	if sizeCap <= 0 {
		sizeCap = DefaultSizeCap
	}
	return &FileMapper{device: device, sizeCap: sizeCap}
}

// Map validates path, stats it, and — for non-empty files — mmaps it
// read-only/private. A zero-length file records an explicit empty state
// per spec §4.2; no syscall mmap is attempted.
func (m *FileMapper) Map(path string) error {
	// Tear down any previous mapping first so that on error the engine is
	// guaranteed "no file mapped", per spec §7.
	_ = m.Unmap()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("%w: %s: %v", ErrStatFailed, path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrIsDirectory, path)
	}

	size := info.Size()
	if size < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSize, path)
	}
	if size > m.sizeCap {
		return fmt.Errorf("%w: %s is %d bytes, cap is %d", ErrTooLarge, path, size, m.sizeCap)
	}

	if size == 0 {
		m.empty = true
		m.mapped = true
		m.size = 0
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %s", ErrNotReadable, path)
		}
		return fmt.Errorf("%w: %s: %v", ErrNotReadable, path, err)
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMapFailed, path, err)
	}

	m.data = data
	m.size = size
	m.mapped = true
	m.empty = false
	return nil
}

// Unmap is idempotent; it only errors if the unmap syscall itself fails.
func (m *FileMapper) Unmap() error {
	if m.buf != nil {
		m.buf.Release()
		m.buf = nil
	}

	if m.data != nil {
		err := unix.Munmap(m.data)
		m.data = nil
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMapFailed, err)
		}
	}

	m.mapped = false
	m.empty = false
	m.size = 0
	return nil
}

// Mapped reports whether a file is currently mapped (including the
// zero-length no-op case).
func (m *FileMapper) Mapped() bool { return m.mapped }

// Empty reports whether the mapped file has zero length.
func (m *FileMapper) Empty() bool { return m.empty }

// Size returns the mapped file's length in bytes.
func (m *FileMapper) Size() int64 { return m.size }

// Buffer lazily (re)creates the zero-copy device view over the mapped
// region. Returns ErrEmptyText if no non-empty file is mapped.
func (m *FileMapper) Buffer() (gpudevice.Buffer, error) {
	if !m.mapped || m.empty || m.data == nil {
		return nil, ErrEmptyText
	}
	if m.buf != nil {
		return m.buf, nil
	}

	buf, err := m.device.NewBufferFromBytes(m.data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMapFailed, err)
	}
	m.buf = buf
	return buf, nil
}
