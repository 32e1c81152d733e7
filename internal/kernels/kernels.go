// Package kernels implements the color conversion and plane reshuffling
// kernels of the transfer pipeline. Every kernel validates its buffers when it
// is constructed, then runs over a grid of output rows.
package kernels

import (
	"fmt"
	"math"

	"github.com/gen2brain/vcnjpeg/internal/strided"
)

// ErrBounds is returned when a kernel buffer is too small for its region.
var ErrBounds = strided.ErrBounds

// Plane is a pitched view of one image channel.
type Plane struct {
	Pix   []byte
	Pitch int
}

// check validates that p holds rows rows of rowBytes bytes.
func (p Plane) check(name string, rowBytes, rows int) error {
	if rows > 1 && p.Pitch < rowBytes {
		return fmt.Errorf("%s pitch %d below row of %d bytes: %w", name, p.Pitch, rowBytes, ErrBounds)
	}

	if n := strided.Extent(p.Pitch, rowBytes, rows); n > len(p.Pix) {
		return fmt.Errorf("%s of %d bytes, need %d: %w", name, len(p.Pix), n, ErrBounds)
	}

	return nil
}

// Layout is the arrangement of a decoded YUV surface.
type Layout int

const (
	Layout444  Layout = iota // Three full-resolution planes.
	Layout440                // Three planes, chroma at half height.
	LayoutYUYV               // One packed 4:2:2 plane.
	LayoutNV12               // Luma plane and interleaved chroma at half resolution.
	Layout400                // Luma only.
)

func (l Layout) String() string {
	switch l {
	case Layout444:
		return "yuv444"
	case Layout440:
		return "yuv440"
	case LayoutYUYV:
		return "yuyv"
	case LayoutNV12:
		return "nv12"
	case Layout400:
		return "yuv400"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// Source is a decoded YUV surface. For LayoutYUYV only Y is used and holds the
// packed samples; for LayoutNV12 U holds the interleaved chroma plane.
type Source struct {
	Layout  Layout
	Y, U, V Plane
}

func half(n int) int {
	return (n + 1) >> 1
}

// check validates the source planes for a w x h region.
func (s *Source) check(w, h int) error {
	switch s.Layout {
	case Layout444:
		if err := s.Y.check("luma", w, h); err != nil {
			return err
		}

		if err := s.U.check("u", w, h); err != nil {
			return err
		}

		return s.V.check("v", w, h)
	case Layout440:
		if err := s.Y.check("luma", w, h); err != nil {
			return err
		}

		if err := s.U.check("u", w, half(h)); err != nil {
			return err
		}

		return s.V.check("v", w, half(h))
	case LayoutYUYV:
		return s.Y.check("packed", half(w)*4, h)
	case LayoutNV12:
		if err := s.Y.check("luma", w, h); err != nil {
			return err
		}

		return s.U.check("chroma", half(w)*2, half(h))
	case Layout400:
		return s.Y.check("luma", w, h)
	default:
		return fmt.Errorf("source layout %v: %w", s.Layout, ErrBounds)
	}
}

// sample returns the Y, U and V values of pixel (x, y). Subsampled chroma is
// replicated from the nearest sample.
func (s *Source) sample(x, y int) (byte, byte, byte) {
	switch s.Layout {
	case Layout444:
		return s.Y.Pix[y*s.Y.Pitch+x], s.U.Pix[y*s.U.Pitch+x], s.V.Pix[y*s.V.Pitch+x]
	case Layout440:
		cy := y >> 1

		return s.Y.Pix[y*s.Y.Pitch+x], s.U.Pix[cy*s.U.Pitch+x], s.V.Pix[cy*s.V.Pitch+x]
	case LayoutYUYV:
		i := y*s.Y.Pitch + (x>>1)*4

		return s.Y.Pix[i+(x&1)*2], s.Y.Pix[i+1], s.Y.Pix[i+3]
	case LayoutNV12:
		c := (y>>1)*s.U.Pitch + (x>>1)*2

		return s.Y.Pix[y*s.Y.Pitch+x], s.U.Pix[c], s.U.Pix[c+1]
	default:
		return s.Y.Pix[y*s.Y.Pitch+x], 128, 128
	}
}

// Conversion coefficients.
const (
	crV float32 = 1.5748
	cgU float32 = -0.1873
	cgV float32 = -0.4681
	cbU float32 = 1.8556
)

// fma32 is a fused multiply-add rounded to float32.
func fma32(a, b, c float32) float32 {
	return float32(math.FMA(float64(a), float64(b), float64(c)))
}

// pack rounds to nearest even and saturates to 8 bits.
func pack(f float32) byte {
	r := math.RoundToEven(float64(f))
	if r <= 0 {
		return 0
	}

	if r >= 255 {
		return 255
	}

	return byte(r)
}

// YUVToRGB converts one full-range YCbCr sample.
func YUVToRGB(y, u, v byte) (r, g, b byte) {
	fy := float32(y)
	fu := float32(u) - 128
	fv := float32(v) - 128

	r = pack(fma32(crV, fv, fy))
	g = pack(fma32(cgV, fv, fma32(cgU, fu, fy)))
	b = pack(fma32(cbU, fu, fy))

	return r, g, b
}

// kernel carries the grid shared by every kernel.
type kernel struct {
	name          string
	width, height int
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) Grid() int { return k.height }

// RGB converts a YUV source into interleaved RGB.
type RGB struct {
	kernel
	src Source
	dst Plane
}

// NewRGB returns a kernel writing a w x h RGB image into dst.
func NewRGB(src Source, dst Plane, w, h int) (*RGB, error) {
	if err := src.check(w, h); err != nil {
		return nil, err
	}

	if err := dst.check("rgb", w*3, h); err != nil {
		return nil, err
	}

	return &RGB{kernel: kernel{name: src.Layout.String() + "-to-rgb", width: w, height: h}, src: src, dst: dst}, nil
}

// Run converts rows [lo, hi).
func (k *RGB) Run(lo, hi int) {
	for y := lo; y < hi; y++ {
		row := k.dst.Pix[y*k.dst.Pitch : y*k.dst.Pitch+k.width*3]
		for x := 0; x < k.width; x++ {
			r, g, b := YUVToRGB(k.src.sample(x, y))
			row[x*3], row[x*3+1], row[x*3+2] = r, g, b
		}
	}
}

// RGBPlanar converts a YUV source into three planes.
type RGBPlanar struct {
	kernel
	src     Source
	r, g, b Plane
}

// NewRGBPlanar returns a kernel writing a w x h planar RGB image.
func NewRGBPlanar(src Source, r, g, b Plane, w, h int) (*RGBPlanar, error) {
	if err := src.check(w, h); err != nil {
		return nil, err
	}

	for _, p := range []struct {
		name  string
		plane Plane
	}{{"red", r}, {"green", g}, {"blue", b}} {
		if err := p.plane.check(p.name, w, h); err != nil {
			return nil, err
		}
	}

	return &RGBPlanar{
		kernel: kernel{name: src.Layout.String() + "-to-rgb-planar", width: w, height: h},
		src:    src,
		r:      r,
		g:      g,
		b:      b,
	}, nil
}

// Run converts rows [lo, hi).
func (k *RGBPlanar) Run(lo, hi int) {
	for y := lo; y < hi; y++ {
		rRow := k.r.Pix[y*k.r.Pitch:]
		gRow := k.g.Pix[y*k.g.Pitch:]
		bRow := k.b.Pix[y*k.b.Pitch:]
		for x := 0; x < k.width; x++ {
			rRow[x], gRow[x], bRow[x] = YUVToRGB(k.src.sample(x, y))
		}
	}
}

// RGBAToRGB drops the alpha channel of a packed RGBA surface.
type RGBAToRGB struct {
	kernel
	src, dst Plane
}

// NewRGBAToRGB returns a kernel converting a w x h RGBA surface.
func NewRGBAToRGB(src, dst Plane, w, h int) (*RGBAToRGB, error) {
	if err := src.check("rgba", w*4, h); err != nil {
		return nil, err
	}

	if err := dst.check("rgb", w*3, h); err != nil {
		return nil, err
	}

	return &RGBAToRGB{kernel: kernel{name: "rgba-to-rgb", width: w, height: h}, src: src, dst: dst}, nil
}

// Run converts rows [lo, hi).
func (k *RGBAToRGB) Run(lo, hi int) {
	for y := lo; y < hi; y++ {
		s := k.src.Pix[y*k.src.Pitch:]
		d := k.dst.Pix[y*k.dst.Pitch:]
		for x := 0; x < k.width; x++ {
			d[x*3], d[x*3+1], d[x*3+2] = s[x*4], s[x*4+1], s[x*4+2]
		}
	}
}

// UVToPlanar splits an interleaved chroma plane into U and V planes.
type UVToPlanar struct {
	kernel
	src, u, v Plane
}

// NewUVToPlanar returns a kernel splitting w x h chroma samples.
func NewUVToPlanar(src, u, v Plane, w, h int) (*UVToPlanar, error) {
	if err := src.check("chroma", w*2, h); err != nil {
		return nil, err
	}

	if err := u.check("u", w, h); err != nil {
		return nil, err
	}

	if err := v.check("v", w, h); err != nil {
		return nil, err
	}

	return &UVToPlanar{kernel: kernel{name: "interleaved-uv-to-planar", width: w, height: h}, src: src, u: u, v: v}, nil
}

// Run splits rows [lo, hi).
func (k *UVToPlanar) Run(lo, hi int) {
	for y := lo; y < hi; y++ {
		s := k.src.Pix[y*k.src.Pitch:]
		u := k.u.Pix[y*k.u.Pitch:]
		v := k.v.Pix[y*k.v.Pitch:]
		for x := 0; x < k.width; x++ {
			u[x] = s[x*2]
			v[x] = s[x*2+1]
		}
	}
}

// YUYVToPlanar unpacks a YUYV surface into Y, U and V planes. The chroma
// planes have half the luma width.
type YUYVToPlanar struct {
	kernel
	src, y, u, v Plane
}

// NewYUYVToPlanar returns a kernel unpacking a w x h YUYV surface.
func NewYUYVToPlanar(src, y, u, v Plane, w, h int) (*YUYVToPlanar, error) {
	if err := src.check("packed", half(w)*4, h); err != nil {
		return nil, err
	}

	if err := y.check("luma", w, h); err != nil {
		return nil, err
	}

	if err := u.check("u", half(w), h); err != nil {
		return nil, err
	}

	if err := v.check("v", half(w), h); err != nil {
		return nil, err
	}

	return &YUYVToPlanar{kernel: kernel{name: "yuyv-to-planar", width: w, height: h}, src: src, y: y, u: u, v: v}, nil
}

// Run unpacks rows [lo, hi).
func (k *YUYVToPlanar) Run(lo, hi int) {
	for row := lo; row < hi; row++ {
		s := k.src.Pix[row*k.src.Pitch:]
		y := k.y.Pix[row*k.y.Pitch:]
		u := k.u.Pix[row*k.u.Pitch:]
		v := k.v.Pix[row*k.v.Pitch:]

		for x := 0; x < k.width; x++ {
			y[x] = s[(x>>1)*4+(x&1)*2]
		}

		for x := 0; x < half(k.width); x++ {
			u[x] = s[x*4+1]
			v[x] = s[x*4+3]
		}
	}
}

// ExtractY copies the luma samples of a YUYV surface.
type ExtractY struct {
	kernel
	src, y Plane
}

// NewExtractY returns a kernel extracting w x h luma samples.
func NewExtractY(src, y Plane, w, h int) (*ExtractY, error) {
	if err := src.check("packed", half(w)*4, h); err != nil {
		return nil, err
	}

	if err := y.check("luma", w, h); err != nil {
		return nil, err
	}

	return &ExtractY{kernel: kernel{name: "extract-y-from-yuyv", width: w, height: h}, src: src, y: y}, nil
}

// Run extracts rows [lo, hi).
func (k *ExtractY) Run(lo, hi int) {
	for row := lo; row < hi; row++ {
		s := k.src.Pix[row*k.src.Pitch:]
		y := k.y.Pix[row*k.y.Pitch:]
		for x := 0; x < k.width; x++ {
			y[x] = s[x*2]
		}
	}
}
