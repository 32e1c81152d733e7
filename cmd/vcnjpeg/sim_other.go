//go:build !linux

package main

import (
	"fmt"

	"github.com/gen2brain/vcnjpeg"
)

func simOptions(*vcnjpeg.Options) error {
	return fmt.Errorf("simulated driver: %w", vcnjpeg.ErrImplementationNotSupported)
}
