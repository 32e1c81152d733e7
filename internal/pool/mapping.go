package pool

import (
	"errors"
	"fmt"
	"os"

	"github.com/gen2brain/vcnjpeg/internal/platform"
)

// Plane locates one plane of a mapped surface.
type Plane struct {
	Offset int
	Pitch  int
}

// Mapping is a surface imported into the compute runtime.
type Mapping struct {
	FourCC        platform.FourCC
	Width, Height int
	Layers        int
	Planes        []Plane

	mem platform.ExternalMemory
}

// Format returns the normalized surface fourcc.
func (m *Mapping) Format() platform.FourCC {
	return m.FourCC
}

// Bytes returns the flat view of the surface memory.
func (m *Mapping) Bytes() []byte {
	return m.mem.Bytes()
}

// Plane returns the memory of plane i starting at its offset.
func (m *Mapping) Plane(i int) ([]byte, int) {
	if i >= len(m.Planes) {
		return nil, 0
	}

	b := m.mem.Bytes()
	p := m.Planes[i]
	if p.Offset > len(b) {
		return nil, 0
	}

	return b[p.Offset:], p.Pitch
}

// Close releases the imported memory.
func (m *Mapping) Close() error {
	if m.mem == nil {
		return nil
	}

	err := m.mem.Close()
	m.mem = nil

	return err
}

func closeObjects(desc *platform.PRIMEDescriptor) error {
	var errs []error
	for _, o := range desc.Objects {
		if o.FD >= 0 {
			errs = append(errs, os.NewFile(uintptr(o.FD), "dmabuf").Close())
		}
	}

	return errors.Join(errs...)
}

// mapSurface exports surface s as separate read-only layers and imports the
// backing object into the runtime.
func (p *Pool) mapSurface(s platform.SurfaceID) (*Mapping, error) {
	desc, err := p.driver.ExportSurfaceHandle(s, platform.MemTypeDRMPrime2, platform.ExportReadOnly|platform.ExportSeparateLayers)
	if err != nil {
		return nil, err
	}

	defer closeObjects(desc)

	if len(desc.Objects) == 0 {
		return nil, fmt.Errorf("surface %d exported without objects: %w", s, &platform.DriverError{Op: "vaExportSurfaceHandle", Status: platform.StatusOperationFailed})
	}

	m := &Mapping{
		FourCC: desc.FourCC.Normalize(),
		Width:  desc.Width,
		Height: desc.Height,
		Layers: len(desc.Layers),
	}

	for _, l := range desc.Layers {
		for j := 0; j < l.NumPlanes && j < len(l.Offset); j++ {
			if l.ObjectIndex[j] != 0 {
				return nil, fmt.Errorf("surface %d plane in object %d: %w", s, l.ObjectIndex[j], &platform.DriverError{Op: "vaExportSurfaceHandle", Status: platform.StatusUnimplemented})
			}

			m.Planes = append(m.Planes, Plane{Offset: int(l.Offset[j]), Pitch: int(l.Pitch[j])})
		}
	}

	obj := desc.Objects[0]

	mem, err := p.runtime.ImportExternalMemory(obj.FD, int(obj.Size))
	if err != nil {
		return nil, err
	}

	m.mem = mem

	p.log.WithFields(p.fields(Key{FourCC: m.FourCC, Width: m.Width, Height: m.Height})).WithField("planes", len(m.Planes)).Debug("map surface")

	return m, nil
}
