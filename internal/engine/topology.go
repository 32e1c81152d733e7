package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
)

// kfdNodes is the KFD topology directory, relative to the sysfs root.
const kfdNodes = "sys/class/kfd/kfd/topology/nodes"

// Device is a GPU agent of the KFD topology.
type Device struct {
	Node int    // Topology node number.
	Arch string // Architecture, as in "gfx90a".
	Name string
}

// ArchFromTargetVersion formats a gfx_target_version as an architecture
// name. Minor and stepping are hexadecimal digits, so 90010 is gfx90a.
func ArchFromTargetVersion(v int) string {
	if v <= 0 {
		return ""
	}

	return fmt.Sprintf("gfx%d%x%x", v/10000, v/100%100, v%100)
}

// properties parses a KFD node properties file.
func properties(b []byte) map[string]int64 {
	props := make(map[string]int64)

	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(s.Text()), " ")
		if !ok {
			continue
		}

		if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			props[key] = n
		}
	}

	return props
}

// Topology lists the GPU agents of the KFD topology in fsys ordered by node.
// CPU agents, which have no SIMDs, are skipped.
func Topology(fsys fs.FS) ([]Device, error) {
	entries, err := fs.ReadDir(fsys, kfdNodes)
	if err != nil {
		return nil, fmt.Errorf("read kfd topology: %w", err)
	}

	var devices []Device

	for _, e := range entries {
		node, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}

		b, err := fs.ReadFile(fsys, path.Join(kfdNodes, e.Name(), "properties"))
		if err != nil {
			continue
		}

		props := properties(b)
		if props["simd_count"] <= 0 {
			continue
		}

		d := Device{Node: node, Arch: ArchFromTargetVersion(int(props["gfx_target_version"]))}
		if name, err := fs.ReadFile(fsys, path.Join(kfdNodes, e.Name(), "name")); err == nil {
			d.Name = strings.TrimSpace(string(name))
		}

		devices = append(devices, d)
	}

	slices.SortFunc(devices, func(a, b Device) int { return a.Node - b.Node })

	return devices, nil
}
