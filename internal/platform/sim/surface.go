//go:build linux

package sim

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/gen2brain/vcnjpeg/internal/baseline"
	"github.com/gen2brain/vcnjpeg/internal/kernels"
	"github.com/gen2brain/vcnjpeg/internal/platform"
)

// Surface memory alignment.
const (
	pitchAlign  = 256
	heightAlign = 16
)

// DRM formats of the exported layers.
var (
	drmR8       = uint32(platform.MakeFourCC('R', '8', ' ', ' '))
	drmGR88     = uint32(platform.MakeFourCC('G', 'R', '8', '8'))
	drmYUYV     = uint32(platform.MakeFourCC('Y', 'U', 'Y', 'V'))
	drmABGR8888 = uint32(platform.MakeFourCC('A', 'B', '2', '4'))
)

func align(n, a int) int {
	return (n + a - 1) / a * a
}

// plane is one layer of a surface.
type plane struct {
	offset, pitch, rows int
	drmFormat          uint32
}

// layout describes how a surface format is laid out in memory.
type layout struct {
	rtFormat uint32
	// sx and sy are the horizontal and vertical chroma subsampling shifts.
	sx, sy int
	planes func(w, h int) []plane
}

var layouts = map[platform.FourCC]layout{
	platform.FourCCNV12: {platform.RTFormatYUV420, 1, 1, func(w, h int) []plane {
		p, rows := align(w, pitchAlign), align(h, heightAlign)
		return []plane{{0, p, rows, drmR8}, {p * rows, p, rows / 2, drmGR88}}
	}},
	platform.FourCCYUY2: {platform.RTFormatYUV422, 1, 0, func(w, h int) []plane {
		return []plane{{0, align(align(w, 2)*2, pitchAlign), align(h, heightAlign), drmYUYV}}
	}},
	platform.FourCC444P: {platform.RTFormatYUV444, 0, 0, func(w, h int) []plane {
		return threePlanes(align(w, pitchAlign), align(h, heightAlign), align(h, heightAlign))
	}},
	platform.FourCC422V: {platform.RTFormatYUV422, 0, 1, func(w, h int) []plane {
		return threePlanes(align(w, pitchAlign), align(h, heightAlign), align(h, heightAlign)/2)
	}},
	platform.FourCCY800: {platform.RTFormatYUV400, 0, 0, func(w, h int) []plane {
		return []plane{{0, align(w, pitchAlign), align(h, heightAlign), drmR8}}
	}},
	platform.FourCCRGBA: {platform.RTFormatRGB32, 0, 0, func(w, h int) []plane {
		return []plane{{0, align(w*4, pitchAlign), align(h, heightAlign), drmABGR8888}}
	}},
	platform.FourCCRGBP: {platform.RTFormatRGBP, 0, 0, func(w, h int) []plane {
		return threePlanes(align(w, pitchAlign), align(h, heightAlign), align(h, heightAlign))
	}},
}

func threePlanes(pitch, rows, chromaRows int) []plane {
	return []plane{
		{0, pitch, rows, drmR8},
		{pitch * rows, pitch, chromaRows, drmR8},
		{pitch*rows + pitch*chromaRows, pitch, chromaRows, drmR8},
	}
}

// surface is a decode target backed by a memfd object.
type surface struct {
	fourcc        platform.FourCC
	width, height int
	modifier      uint64
	planes        []plane
	fd            int
	mem           []byte

	status   platform.SurfaceStatus
	timeouts int   // TIMEDOUT results left before the decode completes.
	err      error // Decode failure reported by SyncSurface.
}

func newSurface(fourcc platform.FourCC, l layout, w, h int, modifier uint64) (*surface, error) {
	s := &surface{fourcc: fourcc, width: w, height: h, modifier: modifier, planes: l.planes(w, h), fd: -1, status: platform.SurfaceReady}

	last := s.planes[len(s.planes)-1]
	size := align(last.offset+last.pitch*last.rows, 4096)

	fd, err := unix.MemfdCreate("vcnjpeg-sim-surface", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	s.fd, s.mem = fd, mem

	return s, nil
}

func (s *surface) release() {
	if s.mem != nil {
		_ = unix.Munmap(s.mem)
		s.mem = nil
	}

	if s.fd >= 0 {
		_ = unix.Close(s.fd)
		s.fd = -1
	}
}

// row returns row y of plane i.
func (s *surface) row(i, y int) []byte {
	p := s.planes[i]
	o := p.offset + y*p.pitch

	return s.mem[o : o+p.pitch]
}

// region is the part of a frame written to the surface origin.
type region struct {
	x, y, w, h int
}

// chroma returns the U and V samples covering luma position (x, y).
func chroma(f *baseline.Frame, x, y int) (byte, byte) {
	if len(f.Planes) < 3 {
		return 128, 128
	}

	cb, cr := &f.Planes[1], &f.Planes[2]
	cx, cy := x*cb.H/f.HMax, y*cb.V/f.VMax

	return cb.At(cx, cy), cr.At(cx, cy)
}

// render writes the r region of f into the surface in its pixel format.
func (s *surface) render(f *baseline.Frame, r region) {
	l := layouts[s.fourcc]
	luma := &f.Planes[0]

	switch s.fourcc {
	case platform.FourCCRGBA, platform.FourCCRGBP:
		for y := 0; y < r.h; y++ {
			for x := 0; x < r.w; x++ {
				u, v := chroma(f, r.x+x, r.y+y)
				cr, cg, cb := kernels.YUVToRGB(luma.At(r.x+x, r.y+y), u, v)

				if s.fourcc == platform.FourCCRGBA {
					copy(s.row(0, y)[x*4:], []byte{cr, cg, cb, 0xFF})
				} else {
					s.row(0, y)[x], s.row(1, y)[x], s.row(2, y)[x] = cr, cg, cb
				}
			}
		}

		return
	case platform.FourCCYUY2:
		for y := 0; y < r.h; y++ {
			row := s.row(0, y)
			for x := 0; x < r.w; x += 2 {
				u, v := chroma(f, r.x+x, r.y+y)
				row[x*2] = luma.At(r.x+x, r.y+y)
				row[x*2+1] = u
				row[x*2+2] = luma.At(r.x+x+1, r.y+y)
				row[x*2+3] = v
			}
		}

		return
	}

	for y := 0; y < r.h; y++ {
		row := s.row(0, y)
		for x := 0; x < r.w; x++ {
			row[x] = luma.At(r.x+x, r.y+y)
		}
	}

	if s.fourcc == platform.FourCCY800 {
		return
	}

	cw, ch := (r.w+(1<<l.sx)-1)>>l.sx, (r.h+(1<<l.sy)-1)>>l.sy
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			u, v := chroma(f, r.x+x<<l.sx, r.y+y<<l.sy)

			if s.fourcc == platform.FourCCNV12 {
				s.row(1, y)[x*2], s.row(1, y)[x*2+1] = u, v
			} else {
				s.row(1, y)[x], s.row(2, y)[x] = u, v
			}
		}
	}
}

// descriptor builds the export descriptor of the surface. The object fd is
// a duplicate owned by the caller.
func (s *surface) descriptor() (*platform.PRIMEDescriptor, error) {
	fd, err := unix.FcntlInt(uintptr(s.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	fourcc := s.fourcc
	if fourcc == platform.FourCCYUY2 {
		// Mesa reports packed 4:2:2 surfaces as YUYV.
		fourcc = platform.FourCCYUYV
	}

	d := &platform.PRIMEDescriptor{
		FourCC:  fourcc,
		Width:   s.width,
		Height:  s.height,
		Objects: []platform.PRIMEObject{{FD: fd, Size: uint32(len(s.mem)), Modifier: s.modifier}},
	}

	for _, p := range s.planes {
		var layer platform.PRIMELayer
		layer.DRMFormat = p.drmFormat
		layer.NumPlanes = 1
		layer.Offset[0] = uint32(p.offset)
		layer.Pitch[0] = uint32(p.pitch)
		d.Layers = append(d.Layers, layer)
	}

	return d, nil
}
