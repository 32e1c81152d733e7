package vcnjpeg

import (
	"fmt"
	"image"

	"github.com/gen2brain/vcnjpeg/internal/engine"
	"github.com/gen2brain/vcnjpeg/internal/parser"
	"github.com/gen2brain/vcnjpeg/internal/transfer"
)

// MaxChannels is the number of channels of an Image.
const MaxChannels = 4

// rgbAlignment is the allocation alignment of RGB channels.
const rgbAlignment = 4 << 20

// OutputFormat selects the layout written into an Image.
type OutputFormat int

const (
	// Native writes the planes as decoded: Y, U and V for 4:4:4 and 4:4:0,
	// packed YUYV for 4:2:2, Y and interleaved UV for 4:2:0, and Y for
	// grayscale.
	Native OutputFormat = iota
	// YUVPlanar writes Y, U and V into separate channels.
	YUVPlanar
	// Y writes the luma channel only.
	Y
	// RGB writes interleaved RGB into the first channel.
	RGB
	// RGBPlanar writes R, G and B into separate channels.
	RGBPlanar
)

func (f OutputFormat) String() string {
	return transfer.Format(f).String()
}

func (f OutputFormat) valid() bool {
	return f >= Native && f <= RGBPlanar
}

func (f OutputFormat) output() engine.Output {
	switch f {
	case RGB:
		return engine.OutputRGB
	case RGBPlanar:
		return engine.OutputRGBPlanar
	default:
		return engine.OutputYUV
	}
}

// Subsampling is the chroma subsampling of a stream.
type Subsampling int

const (
	Subsampling444     Subsampling = 0
	Subsampling440     Subsampling = 1
	Subsampling422     Subsampling = 2
	Subsampling420     Subsampling = 3
	Subsampling411     Subsampling = 4
	Subsampling400     Subsampling = 5
	SubsamplingUnknown Subsampling = -1
)

func subsampling(s parser.Subsampling) Subsampling {
	if s >= parser.SubUnknown {
		return SubsamplingUnknown
	}

	return Subsampling(s)
}

// String returns the conventional name, for example "4:2:0".
func (s Subsampling) String() string {
	if s == SubsamplingUnknown {
		return parser.SubUnknown.String()
	}

	return parser.Subsampling(s).String()
}

// Crop is a region of interest in picture coordinates. Right and Bottom are
// exclusive. The zero value selects the whole picture.
type Crop struct {
	Left, Top, Right, Bottom int
}

func (c Crop) rect() image.Rectangle {
	return image.Rect(c.Left, c.Top, c.Right, c.Bottom)
}

// valid reports whether c selects a region of a w x h picture.
func (c Crop) valid(w, h int) bool {
	cw, ch := c.Right-c.Left, c.Bottom-c.Top

	return cw > 0 && ch > 0 && cw <= w && ch <= h
}

// DecodeParams controls one decode.
type DecodeParams struct {
	OutputFormat OutputFormat
	// Crop is the region of interest. Width and height must be even.
	Crop Crop
	// TargetWidth and TargetHeight are reserved for scaled output and are
	// ignored.
	TargetWidth, TargetHeight int
}

// Image is a caller-owned destination. Channels are written from their
// first byte, Pitch bytes apart.
type Image struct {
	Channel [MaxChannels][]byte
	Pitch   [MaxChannels]int
}

func (img *Image) transfer() *transfer.Image {
	return &transfer.Image{Channel: img.Channel, Pitch: img.Pitch}
}

// ImageInfo is the geometry of a parsed stream.
type ImageInfo struct {
	NumComponents int
	Subsampling   Subsampling
	// Width and Height are the per-channel sizes of the decoded planes.
	Width, Height [MaxChannels]int
}

func imageInfo(p *parser.Params) ImageInfo {
	w, h := p.Picture.Width, p.Picture.Height

	info := ImageInfo{NumComponents: p.Picture.NumComponents, Subsampling: subsampling(p.Subsampling)}
	info.Width[0], info.Height[0] = w, h

	if cw, ch, ok := info.Subsampling.chroma(w, h); ok {
		info.Width[1], info.Width[2] = cw, cw
		info.Height[1], info.Height[2] = ch, ch
	}

	return info
}

// chroma returns the chroma plane size of a w x h picture. Subsampled sizes
// round up so the last luma column and row are covered.
func (s Subsampling) chroma(w, h int) (int, int, bool) {
	switch s {
	case Subsampling444:
		return w, h, true
	case Subsampling440:
		return w, (h + 1) >> 1, true
	case Subsampling422:
		return (w + 1) >> 1, h, true
	case Subsampling420:
		return (w + 1) >> 1, (h + 1) >> 1, true
	case Subsampling411:
		return (w + 3) >> 2, h, true
	case Subsampling400:
		return 0, 0, true
	default:
		return 0, 0, false
	}
}

// ChannelSize is the pitch and the allocation size of one channel.
type ChannelSize struct {
	Pitch, Size int
}

// ChannelSizes returns the channel pitches and sizes an Image needs to receive
// a decode of info in format, cropped to crop when it is valid. RGB channel
// sizes are aligned to 4 MiB.
func ChannelSizes(info ImageInfo, format OutputFormat, crop Crop) ([]ChannelSize, error) {
	w, h := info.Width[0], info.Height[0]

	cw, ch := info.Width[1], info.Height[1]
	if crop.valid(w, h) {
		w, h = crop.Right-crop.Left, crop.Bottom-crop.Top
		cw, ch, _ = info.Subsampling.chroma(w, h)
	}

	same := func(n, pitch, size int) []ChannelSize {
		c := make([]ChannelSize, n)
		for i := range c {
			c[i] = ChannelSize{pitch, size}
		}

		return c
	}

	switch format {
	case Native:
		switch info.Subsampling {
		case Subsampling444:
			return same(3, w, w*h), nil
		case Subsampling440:
			return []ChannelSize{{w, w * h}, {w, w * (h >> 1)}, {w, w * (h >> 1)}}, nil
		case Subsampling422:
			return same(1, w*2, w*2*h), nil
		case Subsampling420:
			return []ChannelSize{{w, w * h}, {w, w * (h >> 1)}}, nil
		case Subsampling400:
			return same(1, w, w*h), nil
		default:
			return nil, fmt.Errorf("native output of %v: %w", info.Subsampling, ErrJPEGNotSupported)
		}
	case YUVPlanar:
		if info.Subsampling == Subsampling400 {
			return same(1, w, w*h), nil
		}

		return []ChannelSize{{w, w * h}, {cw, cw * ch}, {cw, cw * ch}}, nil
	case Y:
		return same(1, w, w*h), nil
	case RGB:
		return same(1, w*3, align(w*3*h, rgbAlignment)), nil
	case RGBPlanar:
		return same(3, w, align(w*h, rgbAlignment)), nil
	default:
		return nil, fmt.Errorf("output format %v: %w", format, ErrInvalidParameter)
	}
}

func align(n, a int) int {
	return (n + a - 1) / a * a
}

// NewImage allocates an Image sized by ChannelSizes.
func NewImage(info ImageInfo, format OutputFormat, crop Crop) (*Image, error) {
	sizes, err := ChannelSizes(info, format, crop)
	if err != nil {
		return nil, err
	}

	img := &Image{}
	for i, c := range sizes {
		img.Pitch[i] = c.Pitch
		img.Channel[i] = make([]byte, c.Size)
	}

	return img, nil
}
