// Package transfer moves decoded surfaces into caller images. Planes are
// copied with pitch-aware copies or converted by kernels, all enqueued on a
// compute stream; the caller synchronizes the stream.
package transfer

import (
	"errors"
	"fmt"
	"image"

	"github.com/gen2brain/vcnjpeg/internal/kernels"
	"github.com/gen2brain/vcnjpeg/internal/platform"
	"github.com/gen2brain/vcnjpeg/internal/strided"
)

// ErrNotSupported is returned for surface formats an output cannot be made
// from.
var ErrNotSupported = errors.New("transfer: surface format not supported")

// Format is the output layout.
type Format int

const (
	Native    Format = iota // Surface planes as decoded.
	YUVPlanar               // Separate Y, U and V planes.
	Y                       // Luma only.
	RGB                     // Interleaved RGB.
	RGBPlanar               // Separate R, G and B planes.
)

func (f Format) String() string {
	switch f {
	case Native:
		return "native"
	case YUVPlanar:
		return "yuv-planar"
	case Y:
		return "y"
	case RGB:
		return "rgb"
	case RGBPlanar:
		return "rgb-planar"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Image is a caller-owned destination.
type Image struct {
	Channel [4][]byte
	Pitch   [4]int
}

// Surface is a decoded surface mapped into the runtime.
type Surface interface {
	// Format returns the normalized surface fourcc.
	Format() platform.FourCC
	// Plane returns plane i from its first byte, and its pitch.
	Plane(i int) ([]byte, int)
}

// Request describes one transfer.
type Request struct {
	Format        Format
	Width, Height int // Decoded picture size.
	// Crop is the region of interest; empty means the whole picture.
	Crop image.Rectangle
	// NativeROI reports that the decoder already wrote the crop at the
	// surface origin.
	NativeROI bool
}

// ChromaHeight returns the rows of the chroma planes of a surface format.
func ChromaHeight(fourcc platform.FourCC, h int) (int, error) {
	switch fourcc {
	case platform.FourCCNV12, platform.FourCC422V:
		return h >> 1, nil
	case platform.FourCC444P, platform.FourCCYUY2:
		return h, nil
	case platform.FourCCY800:
		return 0, nil
	default:
		return 0, fmt.Errorf("chroma height of %v: %w", fourcc, ErrNotSupported)
	}
}

type job struct {
	s      platform.Stream
	src    Surface
	fourcc platform.FourCC
	dst    *Image

	w, h      int // Output size.
	top, left int // Crop origin read by software, zero otherwise.
}

// Run enqueues the transfer of src into dst on s.
func Run(s platform.Stream, src Surface, dst *Image, r Request) error {
	j := &job{s: s, src: src, fourcc: src.Format(), dst: dst, w: r.Width, h: r.Height}

	if cw, ch := r.Crop.Dx(), r.Crop.Dy(); cw > 0 && ch > 0 && cw <= r.Width && ch <= r.Height {
		if r.Crop.Min.X < 0 || r.Crop.Min.Y < 0 || r.Crop.Max.X > r.Width || r.Crop.Max.Y > r.Height {
			return fmt.Errorf("crop %v outside %dx%d: %w", r.Crop, r.Width, r.Height, strided.ErrBounds)
		}

		j.w, j.h = cw, ch
		if !r.NativeROI {
			j.top, j.left = r.Crop.Min.Y, r.Crop.Min.X
		}
	}

	switch r.Format {
	case Native:
		return j.native()
	case YUVPlanar:
		return j.yuvPlanar()
	case Y:
		return j.luma()
	case RGB:
		return j.rgb()
	case RGBPlanar:
		return j.rgbPlanar()
	default:
		return fmt.Errorf("output %v: %w", r.Format, ErrNotSupported)
	}
}

func half(n int) int {
	return (n + 1) >> 1
}

// offset returns the byte offset of the crop origin in plane i.
func (j *job) offset(i int) int {
	_, pitch := j.src.Plane(i)
	top, left := j.top, j.left

	switch j.fourcc {
	case platform.FourCCNV12, platform.FourCC422V:
		if i == 1 || i == 2 {
			top >>= 1
		}
	case platform.FourCCYUY2:
		left *= 2
	case platform.FourCCRGBA:
		left *= 4
	}

	return top*pitch + left
}

// plane returns plane i of the surface from the crop origin.
func (j *job) plane(i int) (kernels.Plane, error) {
	pix, pitch := j.src.Plane(i)

	off := j.offset(i)
	if pix == nil || off > len(pix) {
		return kernels.Plane{}, fmt.Errorf("%v plane %d: %w", j.fourcc, i, strided.ErrBounds)
	}

	return kernels.Plane{Pix: pix[off:], Pitch: pitch}, nil
}

func (j *job) out(i int) kernels.Plane {
	return kernels.Plane{Pix: j.dst.Channel[i], Pitch: j.dst.Pitch[i]}
}

// copyChannel copies rows rows of channel i. Channels without a source or
// destination pitch, or without a destination, are skipped.
func (j *job) copyChannel(i, rows, rowBytes int) error {
	pix, pitch := j.src.Plane(i)
	dst, dstPitch := j.dst.Channel[i], j.dst.Pitch[i]

	if pitch == 0 || dstPitch == 0 || dst == nil {
		return nil
	}

	off := j.offset(i)
	if off > len(pix) {
		return fmt.Errorf("%v plane %d offset %d: %w", j.fourcc, i, off, strided.ErrBounds)
	}

	return j.s.Memcpy2D(dst, dstPitch, pix[off:], pitch, min(rowBytes, dstPitch), rows)
}

func (j *job) launch(k platform.Kernel, err error) error {
	if err != nil {
		return err
	}

	return j.s.Launch(k)
}

func (j *job) native() error {
	ch, err := ChromaHeight(j.fourcc, j.h)
	if err != nil {
		return err
	}

	luma := j.w
	if j.fourcc == platform.FourCCYUY2 {
		luma = half(j.w) * 4
	}

	if err := j.copyChannel(0, j.h, luma); err != nil {
		return err
	}

	switch j.fourcc {
	case platform.FourCCNV12:
		return j.copyChannel(1, ch, half(j.w)*2)
	case platform.FourCC444P, platform.FourCC422V:
		if err := j.copyChannel(1, ch, j.w); err != nil {
			return err
		}

		return j.copyChannel(2, ch, j.w)
	}

	return nil
}

func (j *job) yuvPlanar() error {
	ch, err := ChromaHeight(j.fourcc, j.h)
	if err != nil {
		return err
	}

	if j.fourcc == platform.FourCCYUY2 {
		src, err := j.plane(0)
		if err != nil {
			return err
		}

		return j.launch(kernels.NewYUYVToPlanar(src, j.out(0), j.out(1), j.out(2), j.w, j.h))
	}

	if err := j.copyChannel(0, j.h, j.w); err != nil {
		return err
	}

	switch j.fourcc {
	case platform.FourCCNV12:
		src, err := j.plane(1)
		if err != nil {
			return err
		}

		return j.launch(kernels.NewUVToPlanar(src, j.out(1), j.out(2), half(j.w), half(j.h)))
	case platform.FourCC444P, platform.FourCC422V:
		if err := j.copyChannel(1, ch, j.w); err != nil {
			return err
		}

		return j.copyChannel(2, ch, j.w)
	}

	return nil
}

func (j *job) luma() error {
	if j.fourcc == platform.FourCCYUY2 {
		src, err := j.plane(0)
		if err != nil {
			return err
		}

		return j.launch(kernels.NewExtractY(src, j.out(0), j.w, j.h))
	}

	if j.fourcc == platform.FourCCRGBA || j.fourcc == platform.FourCCRGBP {
		return fmt.Errorf("luma of %v: %w", j.fourcc, ErrNotSupported)
	}

	return j.copyChannel(0, j.h, j.w)
}

// source returns the YUV kernel source of the surface from the crop origin.
func (j *job) source() (kernels.Source, error) {
	var (
		src    kernels.Source
		planes int
	)

	switch j.fourcc {
	case platform.FourCC444P:
		src.Layout, planes = kernels.Layout444, 3
	case platform.FourCC422V:
		src.Layout, planes = kernels.Layout440, 3
	case platform.FourCCYUY2:
		src.Layout, planes = kernels.LayoutYUYV, 1
	case platform.FourCCNV12:
		src.Layout, planes = kernels.LayoutNV12, 2
	case platform.FourCCY800:
		src.Layout, planes = kernels.Layout400, 1
	default:
		return src, fmt.Errorf("color conversion from %v: %w", j.fourcc, ErrNotSupported)
	}

	for i, p := range []*kernels.Plane{&src.Y, &src.U, &src.V}[:planes] {
		plane, err := j.plane(i)
		if err != nil {
			return src, err
		}

		*p = plane
	}

	return src, nil
}

func (j *job) rgb() error {
	if j.fourcc == platform.FourCCRGBA {
		src, err := j.plane(0)
		if err != nil {
			return err
		}

		return j.launch(kernels.NewRGBAToRGB(src, j.out(0), j.w, j.h))
	}

	src, err := j.source()
	if err != nil {
		return err
	}

	return j.launch(kernels.NewRGB(src, j.out(0), j.w, j.h))
}

func (j *job) rgbPlanar() error {
	if j.fourcc == platform.FourCCRGBP {
		for i := 0; i < 3; i++ {
			if err := j.copyChannel(i, j.h, j.w); err != nil {
				return err
			}
		}

		return nil
	}

	src, err := j.source()
	if err != nil {
		return err
	}

	return j.launch(kernels.NewRGBPlanar(src, j.out(0), j.out(1), j.out(2), j.w, j.h))
}
