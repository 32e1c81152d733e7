package engine

import (
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Partition is a compute partition mode of a multi-XCD accelerator.
type Partition int

const (
	PartitionSPX Partition = iota // Single.
	PartitionDPX                  // Dual.
	PartitionTPX                  // Triple.
	PartitionQPX                  // Quad.
	PartitionCPX                  // Core.
)

func (p Partition) String() string {
	switch p {
	case PartitionSPX:
		return "SPX"
	case PartitionDPX:
		return "DPX"
	case PartitionTPX:
		return "TPX"
	case PartitionQPX:
		return "QPX"
	case PartitionCPX:
		return "CPX"
	default:
		return fmt.Sprintf("Partition(%d)", int(p))
	}
}

// ParsePartition parses a current_compute_partition value.
func ParsePartition(s string) (Partition, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SPX":
		return PartitionSPX, true
	case "DPX":
		return PartitionDPX, true
	case "TPX":
		return PartitionTPX, true
	case "QPX":
		return PartitionQPX, true
	case "CPX":
		return PartitionCPX, true
	default:
		return 0, false
	}
}

// partitionFile is the sysfs attribute holding the compute partition mode.
const partitionFile = "current_compute_partition"

// CurrentPartitions walks the devices directory of fsys and returns the
// compute partition modes it finds, in walk order. Unreadable directories are
// skipped.
func CurrentPartitions(fsys fs.FS, root string) []Partition {
	var parts []Partition

	_ = fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if d.IsDir() || d.Name() != partitionFile {
			return nil
		}

		b, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil
		}

		line, _, _ := strings.Cut(string(b), "\n")
		if p, ok := ParsePartition(line); ok {
			parts = append(parts, p)
		}

		return nil
	})

	return parts
}

// VisibleDevices parses a HIP_VISIBLE_DEVICES list into sorted device
// indices. Entries that are not numbers count as device 0.
func VisibleDevices(env string) []int {
	if strings.TrimSpace(env) == "" {
		return nil
	}

	ids := lo.Map(strings.Split(env, ","), func(s string, _ int) int {
		n, _ := strconv.Atoi(strings.TrimSpace(s))

		return n
	})

	slices.Sort(ids)

	return ids
}

// nodeOffset returns the render node offset of device id on a partitioned
// gfx942. No partition file means SPX.
func nodeOffset(device string, id int, parts []Partition) int {
	mode := PartitionSPX
	if len(parts) > 0 {
		mode = parts[0]
	}

	switch mode {
	case PartitionSPX:
		return id * 7
	case PartitionDPX:
		return id / 2 * 6
	case PartitionTPX:
		// MI300A has two dummy render nodes per socket.
		return id / 3 * 5
	case PartitionQPX:
		return id / 4 * 4
	case PartitionCPX:
		if strings.Contains(device, "MI300A") {
			return id / 6 * 2
		}
	}

	return 0
}

// RenderNode returns the DRM render node of device deviceID.
func RenderNode(arch, device string, deviceID int, visible []int, parts []Partition) string {
	id := deviceID
	if deviceID >= 0 && deviceID < len(visible) {
		id = visible[deviceID]
	}

	offset := 0
	if BaseArch(arch) == "gfx942" {
		offset = nodeOffset(device, id, parts)
	}

	return fmt.Sprintf("/dev/dri/renderD%d", 128+offset+id)
}
