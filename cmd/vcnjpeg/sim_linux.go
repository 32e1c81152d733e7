//go:build linux

package main

import (
	"github.com/gen2brain/vcnjpeg"
	"github.com/gen2brain/vcnjpeg/internal/platform/sim"
)

// simOptions points opts at a simulated MI300X unless an architecture is set.
func simOptions(opts *vcnjpeg.Options) error {
	opts.Driver = sim.NewOpener(sim.Options{NativeRGB: true, NativeROI: true})

	if opts.Arch == "" {
		opts.Arch, opts.DeviceName = "gfx942", "AMD Instinct MI300X"
	}

	if opts.RenderNode == "" {
		opts.RenderNode = "/dev/dri/renderD128"
	}

	return nil
}
