//go:build linux

package hostrt

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/gen2brain/vcnjpeg/internal/platform"
)

// mapping is a read-only shared mapping of a DMA-BUF object.
type mapping struct {
	data []byte
}

func (m *mapping) Bytes() []byte {
	return m.data
}

func (m *mapping) Close() error {
	if m.data == nil {
		return nil
	}

	err := unix.Munmap(m.data)
	m.data = nil

	return err
}

// ImportExternalMemory maps size bytes of fd. The mapping holds its own
// reference to the object, so fd may be closed afterwards.
func (r *Runtime) ImportExternalMemory(fd int, size int) (platform.ExternalMemory, error) {
	if fd < 0 || size <= 0 {
		return nil, &platform.RuntimeError{Op: "import external memory", Err: fmt.Errorf("fd %d size %d: %w", fd, size, unix.EINVAL)}
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &platform.RuntimeError{Op: "import external memory", Err: fmt.Errorf("mmap: %w", err)}
	}

	return &mapping{data: data}, nil
}
