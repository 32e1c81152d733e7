package engine

import (
	"encoding"
	"errors"
	"fmt"
	"image"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/gen2brain/vcnjpeg/internal/parser"
	"github.com/gen2brain/vcnjpeg/internal/platform"
	"github.com/gen2brain/vcnjpeg/internal/pool"
	"github.com/gen2brain/vcnjpeg/internal/vabuf"
)

// Output is the class of output the decoded surface feeds.
type Output int

const (
	OutputYUV       Output = iota // Native, planar YUV and luma outputs.
	OutputRGB                     // Interleaved RGB.
	OutputRGBPlanar               // Planar RGB.
)

// Item is one stream to decode.
type Item struct {
	Params *parser.Params
	Output Output
	// Crop is the requested region of interest; empty means the whole
	// picture.
	Crop image.Rectangle
}

// Format is a surface format.
type Format struct {
	RTFormat uint32
	FourCC   platform.FourCC
}

// linearModifier is DRM_FORMAT_MOD_LINEAR.
const linearModifier uint64 = 0

// SurfaceFormat selects the surface format decoding p for output.
func (e *Engine) SurfaceFormat(p *parser.Params, output Output) (Format, error) {
	if e.caps.RGB && p.Subsampling != parser.Sub440 {
		switch output {
		case OutputRGB:
			return Format{platform.RTFormatRGB32, platform.FourCCRGBA}, nil
		case OutputRGBPlanar:
			return Format{platform.RTFormatRGBP, platform.FourCCRGBP}, nil
		}
	}

	switch p.Subsampling {
	case parser.Sub444:
		return Format{platform.RTFormatYUV444, platform.FourCC444P}, nil
	case parser.Sub440:
		return Format{platform.RTFormatYUV422, platform.FourCC422V}, nil
	case parser.Sub422:
		return Format{platform.RTFormatYUV422, platform.FourCCYUY2}, nil
	case parser.Sub420:
		return Format{platform.RTFormatYUV420, platform.FourCCNV12}, nil
	case parser.Sub400:
		return Format{platform.RTFormatYUV400, platform.FourCCY800}, nil
	default:
		return Format{}, fmt.Errorf("chroma subsampling %v: %w", p.Subsampling, ErrNotSupported)
	}
}

// NativeROI reports whether the decoder crops to r while decoding a w x h
// picture.
func (e *Engine) NativeROI(r image.Rectangle, w, h int) bool {
	if !e.caps.ROI {
		return false
	}

	rw, rh := r.Dx(), r.Dy()

	return rw > 0 && rh > 0 && rw <= w && rh <= h
}

func (e *Engine) checkSize(p *parser.Params) error {
	w, h := p.Picture.Width, p.Picture.Height
	if w < MinWidth || h < MinHeight || w > e.maxWidth || h > e.maxHeight {
		return fmt.Errorf("resolution %dx%d outside %dx%d..%dx%d: %w", w, h, MinWidth, MinHeight, e.maxWidth, e.maxHeight, ErrNotSupported)
	}

	return nil
}

func (e *Engine) key(it Item) (pool.Key, Format, error) {
	if it.Params == nil {
		return pool.Key{}, Format{}, fmt.Errorf("nil stream parameters: %w", ErrNotSupported)
	}

	if err := e.checkSize(it.Params); err != nil {
		return pool.Key{}, Format{}, err
	}

	f, err := e.SurfaceFormat(it.Params, it.Output)
	if err != nil {
		return pool.Key{}, Format{}, err
	}

	return pool.Key{FourCC: f.FourCC, Width: it.Params.Picture.Width, Height: it.Params.Picture.Height}, f, nil
}

// entry returns a busy pool entry of n surfaces, creating it when no idle
// entry matches.
func (e *Engine) entry(key pool.Key, f Format, n int) (*pool.Entry, error) {
	if ent, ok := e.pool.Get(key, n); ok {
		return ent, nil
	}

	opts := platform.SurfaceOptions{FourCC: f.FourCC}
	if e.modifiers {
		opts.Modifiers = []uint64{linearModifier}
	}

	surfaces, err := e.driver.CreateSurfaces(f.RTFormat, key.Width, key.Height, n, opts)
	if err != nil {
		return nil, err
	}

	ctx, err := e.driver.CreateContext(e.config, key.Width, key.Height, platform.Progressive, surfaces)
	if err != nil {
		_ = e.driver.DestroySurfaces(surfaces)
		return nil, err
	}

	ent := &pool.Entry{Key: key, Surfaces: surfaces, Context: ctx}
	if err := e.pool.Add(ent); err != nil {
		if errors.Is(err, pool.ErrExhausted) {
			_ = e.driver.DestroyContext(ctx)
			_ = e.driver.DestroySurfaces(surfaces)

			return nil, err
		}

		e.log.WithError(err).Warn("release evicted surfaces")
	}

	return ent, nil
}

// render uploads the parameter buffers of it and decodes into surface s.
func (e *Engine) render(ctx platform.ContextID, s platform.SurfaceID, it Item) error {
	p := it.Params

	pic := vabuf.NewPictureParameter(p)
	if e.NativeROI(it.Crop, p.Picture.Width, p.Picture.Height) {
		pic.Crop = vabuf.Rectangle{
			X:      int16(it.Crop.Min.X),
			Y:      int16(it.Crop.Min.Y),
			Width:  uint16(it.Crop.Dx()),
			Height: uint16(it.Crop.Dy()),
		}
	}

	iq := vabuf.NewIQMatrix(p)
	huff := vabuf.NewHuffmanTable(p)
	slice := vabuf.NewSliceParameter(p)

	if err := e.destroyBuffers(); err != nil {
		return err
	}

	for _, b := range []struct {
		typ platform.BufferType
		buf encoding.BinaryMarshaler
	}{
		{platform.PictureParameterBuffer, &pic},
		{platform.IQMatrixBuffer, &iq},
		{platform.HuffmanTableBuffer, &huff},
		{platform.SliceParameterBuffer, &slice},
	} {
		data, err := b.buf.MarshalBinary()
		if err != nil {
			return err
		}

		id, err := e.driver.CreateBuffer(ctx, b.typ, data)
		if err != nil {
			return err
		}

		e.buffers = append(e.buffers, id)
	}

	id, err := e.driver.CreateBuffer(ctx, platform.SliceDataBuffer, p.Data)
	if err != nil {
		return err
	}

	e.buffers = append(e.buffers, id)

	if err := e.driver.BeginPicture(ctx, s); err != nil {
		return err
	}

	for _, id := range e.buffers {
		if err := e.driver.RenderPicture(ctx, []platform.BufferID{id}); err != nil {
			return err
		}
	}

	return e.driver.EndPicture(ctx)
}

// Submit starts decoding one stream and returns its surface.
func (e *Engine) Submit(it Item) (platform.SurfaceID, error) {
	if e.closed {
		return 0, ErrClosed
	}

	key, f, err := e.key(it)
	if err != nil {
		return 0, err
	}

	ent, err := e.entry(key, f, 1)
	if err != nil {
		return 0, err
	}

	s := ent.Surfaces[0]
	if err := e.render(ent.Context, s, it); err != nil {
		_ = e.pool.Release(s)
		return 0, err
	}

	return s, nil
}

// SubmitBatched starts decoding every item. Items sharing a surface format
// and size share one pool entry, grouped in order of first appearance. The
// returned surfaces are in item order. A failure aborts the whole batch.
func (e *Engine) SubmitBatched(items []Item) ([]platform.SurfaceID, error) {
	if e.closed {
		return nil, ErrClosed
	}

	keys := make([]pool.Key, len(items))
	formats := make(map[pool.Key]Format)

	for i, it := range items {
		key, f, err := e.key(it)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}

		keys[i] = key
		formats[key] = f
	}

	groups := lo.GroupBy(lo.Range(len(items)), func(i int) pool.Key { return keys[i] })
	surfaces := make([]platform.SurfaceID, len(items))

	var acquired []platform.SurfaceID
	release := func() {
		for _, s := range acquired {
			_ = e.pool.Release(s)
		}
	}

	for _, key := range lo.Uniq(keys) {
		indices := groups[key]

		ent, err := e.entry(key, formats[key], len(indices))
		if err != nil {
			release()
			return nil, err
		}

		acquired = append(acquired, ent.Surfaces[0])

		e.log.WithFields(logrus.Fields{"fourcc": key.FourCC.String(), "width": key.Width, "height": key.Height, "items": len(indices)}).Debug("submit group")

		for j, i := range indices {
			surfaces[i] = ent.Surfaces[j]
			if err := e.render(ent.Context, surfaces[i], items[i]); err != nil {
				release()
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
		}
	}

	return surfaces, nil
}
