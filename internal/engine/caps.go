package engine

import (
	"strings"
)

// Caps describes the JPEG decode block of an architecture.
type Caps struct {
	// Cores is the number of JPEG cores decoding in parallel.
	Cores int
	// RGB reports built-in conversion to RGB surfaces.
	RGB bool
	// ROI reports built-in region of interest decoding.
	ROI bool
}

var capsTable = map[string]Caps{
	"gfx908":        {Cores: 2},
	"gfx90a":        {Cores: 2},
	"gfx942_mi300a": {Cores: 24, RGB: true, ROI: true},
	"gfx942_mi300x": {Cores: 32, RGB: true, ROI: true},
	"gfx1030":       {Cores: 1},
	"gfx1031":       {Cores: 1},
	"gfx1032":       {Cores: 1},
	"gfx1100":       {Cores: 1},
	"gfx1101":       {Cores: 1},
	"gfx1102":       {Cores: 1},
	"gfx1200":       {Cores: 1},
	"gfx1201":       {Cores: 1},
}

// defaultCaps applies to architectures missing from the table.
var defaultCaps = Caps{Cores: 1}

// BaseArch strips the target feature suffix, as in "gfx90a:sramecc+:xnack-".
func BaseArch(arch string) string {
	base, _, _ := strings.Cut(arch, ":")

	return base
}

// NormalizeArch returns the capability table key of an architecture. gfx942
// is shared by MI300A and MI300X and is told apart by the device name.
func NormalizeArch(arch, device string) string {
	base := BaseArch(arch)
	if base != "gfx942" {
		return base
	}

	if strings.Contains(device, "MI300A") {
		return base + "_mi300a"
	}

	return base + "_mi300x"
}

// LookupCaps returns the capabilities of the normalized architecture key.
func LookupCaps(key string) (Caps, bool) {
	c, ok := capsTable[key]
	if !ok {
		return defaultCaps, false
	}

	return c, true
}
