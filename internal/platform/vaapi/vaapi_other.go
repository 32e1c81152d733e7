//go:build !linux

// Package vaapi binds libva and libva-drm without cgo. It is only available
// on linux.
package vaapi

import (
	"github.com/gen2brain/vcnjpeg/internal/platform"
)

// Open returns platform.ErrUnsupportedPlatform.
func Open(node string) (platform.Driver, error) {
	return nil, platform.ErrUnsupportedPlatform
}
