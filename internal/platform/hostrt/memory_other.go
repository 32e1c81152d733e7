//go:build !linux

package hostrt

import (
	"github.com/gen2brain/vcnjpeg/internal/platform"
)

// ImportExternalMemory is only available on linux.
func (r *Runtime) ImportExternalMemory(fd int, size int) (platform.ExternalMemory, error) {
	return nil, &platform.RuntimeError{Op: "import external memory", Err: platform.ErrUnsupportedPlatform}
}
