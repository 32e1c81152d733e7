package transfer

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vcnjpeg/internal/kernels"
	"github.com/gen2brain/vcnjpeg/internal/platform"
	"github.com/gen2brain/vcnjpeg/internal/platform/hostrt"
	"github.com/gen2brain/vcnjpeg/internal/strided"
)

type surface struct {
	fourcc  platform.FourCC
	planes  [][]byte
	pitches []int
}

func (s *surface) Format() platform.FourCC { return s.fourcc }

func (s *surface) Plane(i int) ([]byte, int) {
	if i >= len(s.planes) {
		return nil, 0
	}

	return s.planes[i], s.pitches[i]
}

// fill returns a pitched plane with f(x, y) at every byte of each row.
func fill(pitch, rows int, f func(x, y int) byte) []byte {
	b := make([]byte, pitch*rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < pitch; x++ {
			b[y*pitch+x] = f(x, y)
		}
	}

	return b
}

func pattern(seed int) func(x, y int) byte {
	return func(x, y int) byte { return byte(x*7 + y*13 + seed) }
}

func run(t *testing.T, src Surface, dst *Image, r Request) error {
	t.Helper()

	s, err := hostrt.New().NewStream()
	require.NoError(t, err)
	defer s.Close()

	if err := Run(s, src, dst, r); err != nil {
		return err
	}

	return s.Synchronize()
}

func newImage(pitches ...int) (*Image, func(i, rows int)) {
	img := &Image{}
	alloc := func(i, rows int) {
		img.Pitch[i] = pitches[i]
		img.Channel[i] = make([]byte, pitches[i]*rows)
	}

	return img, alloc
}

func TestChromaHeight(t *testing.T) {
	for fourcc, want := range map[platform.FourCC]int{
		platform.FourCCNV12: 24,
		platform.FourCC422V: 24,
		platform.FourCC444P: 48,
		platform.FourCCYUY2: 48,
		platform.FourCCY800: 0,
	} {
		h, err := ChromaHeight(fourcc, 48)
		require.NoError(t, err, fourcc)
		assert.Equal(t, want, h, fourcc)
	}

	_, err := ChromaHeight(platform.FourCCRGBA, 48)
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestNativeNV12(t *testing.T) {
	const w, h, pitch = 64, 32, 128

	src := &surface{
		fourcc:  platform.FourCCNV12,
		planes:  [][]byte{fill(pitch, h, pattern(0)), fill(pitch, h/2, pattern(1))},
		pitches: []int{pitch, pitch},
	}

	dst, alloc := newImage(w, w)
	alloc(0, h)
	alloc(1, h/2)

	require.NoError(t, run(t, src, dst, Request{Format: Native, Width: w, Height: h}))

	for y := 0; y < h; y++ {
		assert.Equal(t, src.planes[0][y*pitch:y*pitch+w], dst.Channel[0][y*w:(y+1)*w], "luma row %d", y)
	}

	for y := 0; y < h/2; y++ {
		assert.Equal(t, src.planes[1][y*pitch:y*pitch+w], dst.Channel[1][y*w:(y+1)*w], "chroma row %d", y)
	}
}

func TestNativeSkipsMissingChannels(t *testing.T) {
	const w, h = 64, 16

	src := &surface{
		fourcc:  platform.FourCC444P,
		planes:  [][]byte{fill(w, h, pattern(0)), fill(w, h, pattern(1)), fill(w, h, pattern(2))},
		pitches: []int{w, w, w},
	}

	dst, alloc := newImage(w, 0, w)
	alloc(0, h)
	alloc(2, h)

	require.NoError(t, run(t, src, dst, Request{Format: Native, Width: w, Height: h}))
	assert.Equal(t, src.planes[0], dst.Channel[0])
	assert.Nil(t, dst.Channel[1])
	assert.Equal(t, src.planes[2], dst.Channel[2])
}

func TestNativeNarrowPitch(t *testing.T) {
	const w, h = 64, 8

	src := &surface{fourcc: platform.FourCCY800, planes: [][]byte{fill(w, h, pattern(3))}, pitches: []int{w}}

	dst, alloc := newImage(40)
	alloc(0, h)

	require.NoError(t, run(t, src, dst, Request{Format: Native, Width: w, Height: h}))

	for y := 0; y < h; y++ {
		assert.Equal(t, src.planes[0][y*w:y*w+40], dst.Channel[0][y*40:(y+1)*40])
	}
}

func TestYUVPlanarNV12Crop(t *testing.T) {
	const w, h, pitch = 128, 96, 128
	crop := image.Rect(4, 2, 68, 34)

	src := &surface{
		fourcc:  platform.FourCCNV12,
		planes:  [][]byte{fill(pitch, h, pattern(0)), fill(pitch, h/2, pattern(5))},
		pitches: []int{pitch, pitch},
	}

	cw, ch := crop.Dx(), crop.Dy()
	dst, alloc := newImage(cw, cw/2, cw/2)
	alloc(0, ch)
	alloc(1, ch/2)
	alloc(2, ch/2)

	require.NoError(t, run(t, src, dst, Request{Format: YUVPlanar, Width: w, Height: h, Crop: crop}))

	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			require.Equal(t, src.planes[0][(y+2)*pitch+x+4], dst.Channel[0][y*cw+x], "luma %d,%d", x, y)
		}
	}

	uv := src.planes[1]
	for y := 0; y < ch/2; y++ {
		for x := 0; x < cw/2; x++ {
			i := (y+1)*pitch + 4 + 2*x
			require.Equal(t, uv[i], dst.Channel[1][y*(cw/2)+x], "u %d,%d", x, y)
			require.Equal(t, uv[i+1], dst.Channel[2][y*(cw/2)+x], "v %d,%d", x, y)
		}
	}
}

func TestYUVPlanarYUYV(t *testing.T) {
	const w, h = 64, 4

	packed := fill(w*2, h, pattern(9))
	src := &surface{fourcc: platform.FourCCYUY2, planes: [][]byte{packed}, pitches: []int{w * 2}}

	dst, alloc := newImage(w, w/2, w/2)
	alloc(0, h)
	alloc(1, h)
	alloc(2, h)

	require.NoError(t, run(t, src, dst, Request{Format: YUVPlanar, Width: w, Height: h}))

	for y := 0; y < h; y++ {
		row := packed[y*w*2:]
		for x := 0; x < w/2; x++ {
			assert.Equal(t, row[4*x], dst.Channel[0][y*w+2*x])
			assert.Equal(t, row[4*x+1], dst.Channel[1][y*(w/2)+x])
			assert.Equal(t, row[4*x+2], dst.Channel[0][y*w+2*x+1])
			assert.Equal(t, row[4*x+3], dst.Channel[2][y*(w/2)+x])
		}
	}
}

func TestLumaYUYVCrop(t *testing.T) {
	const w, h = 64, 16
	crop := image.Rect(2, 3, 34, 11)

	packed := fill(w*2, h, pattern(4))
	src := &surface{fourcc: platform.FourCCYUY2, planes: [][]byte{packed}, pitches: []int{w * 2}}

	dst, alloc := newImage(crop.Dx())
	alloc(0, crop.Dy())

	require.NoError(t, run(t, src, dst, Request{Format: Y, Width: w, Height: h, Crop: crop}))

	for y := 0; y < crop.Dy(); y++ {
		for x := 0; x < crop.Dx(); x++ {
			want := packed[(y+3)*w*2+(x+2)*2]
			require.Equal(t, want, dst.Channel[0][y*crop.Dx()+x], "%d,%d", x, y)
		}
	}
}

func TestRGB440Crop(t *testing.T) {
	const w, h = 64, 64
	crop := image.Rect(8, 10, 40, 42)

	src := &surface{
		fourcc:  platform.FourCC422V,
		planes:  [][]byte{fill(w, h, pattern(0)), fill(w, h/2, pattern(1)), fill(w, h/2, pattern(2))},
		pitches: []int{w, w, w},
	}

	cw, ch := crop.Dx(), crop.Dy()
	dst, alloc := newImage(cw * 3)
	alloc(0, ch)

	require.NoError(t, run(t, src, dst, Request{Format: RGB, Width: w, Height: h, Crop: crop}))

	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			sy, sx := y+crop.Min.Y, x+crop.Min.X
			r, g, b := kernels.YUVToRGB(src.planes[0][sy*w+sx], src.planes[1][(sy>>1)*w+sx], src.planes[2][(sy>>1)*w+sx])

			i := y*cw*3 + x*3
			require.Equal(t, []byte{r, g, b}, dst.Channel[0][i:i+3], "%d,%d", x, y)
		}
	}
}

func TestRGBPlanarNativeROI(t *testing.T) {
	const w, h = 64, 64
	crop := image.Rect(8, 8, 40, 24)

	src := &surface{
		fourcc:  platform.FourCC444P,
		planes:  [][]byte{fill(w, h, pattern(0)), fill(w, h, pattern(1)), fill(w, h, pattern(2))},
		pitches: []int{w, w, w},
	}

	cw, ch := crop.Dx(), crop.Dy()
	dst, alloc := newImage(cw, cw, cw)
	alloc(0, ch)
	alloc(1, ch)
	alloc(2, ch)

	require.NoError(t, run(t, src, dst, Request{Format: RGBPlanar, Width: w, Height: h, Crop: crop, NativeROI: true}))

	r, g, b := kernels.YUVToRGB(src.planes[0][w+1], src.planes[1][w+1], src.planes[2][w+1])
	assert.Equal(t, []byte{r, g, b}, []byte{dst.Channel[0][cw+1], dst.Channel[1][cw+1], dst.Channel[2][cw+1]})
}

func TestRGBAToRGBCrop(t *testing.T) {
	const w, h = 64, 8
	crop := image.Rect(4, 1, 36, 5)

	rgba := fill(w*4, h, pattern(6))
	src := &surface{fourcc: platform.FourCCRGBA, planes: [][]byte{rgba}, pitches: []int{w * 4}}

	dst, alloc := newImage(crop.Dx() * 3)
	alloc(0, crop.Dy())

	require.NoError(t, run(t, src, dst, Request{Format: RGB, Width: w, Height: h, Crop: crop}))

	i := (1*w + 4) * 4
	assert.Equal(t, rgba[i:i+3], dst.Channel[0][:3])
}

func TestRGBPlanarCopiesRGBP(t *testing.T) {
	const w, h = 64, 8

	src := &surface{
		fourcc:  platform.FourCCRGBP,
		planes:  [][]byte{fill(w, h, pattern(0)), fill(w, h, pattern(1)), fill(w, h, pattern(2))},
		pitches: []int{w, w, w},
	}

	dst, alloc := newImage(w, w, w)
	for i := 0; i < 3; i++ {
		alloc(i, h)
	}

	require.NoError(t, run(t, src, dst, Request{Format: RGBPlanar, Width: w, Height: h}))

	for i := 0; i < 3; i++ {
		assert.Equal(t, src.planes[i], dst.Channel[i])
	}
}

func TestErrors(t *testing.T) {
	const w, h = 64, 8

	gray := &surface{fourcc: platform.FourCCY800, planes: [][]byte{fill(w, h, pattern(0))}, pitches: []int{w}}
	rgba := &surface{fourcc: platform.FourCCRGBA, planes: [][]byte{make([]byte, w*h*4)}, pitches: []int{w * 4}}

	dst, alloc := newImage(w * 3)
	alloc(0, h)

	err := run(t, rgba, dst, Request{Format: Native, Width: w, Height: h})
	require.ErrorIs(t, err, ErrNotSupported)

	err = run(t, rgba, dst, Request{Format: Y, Width: w, Height: h})
	require.ErrorIs(t, err, ErrNotSupported)

	err = run(t, gray, dst, Request{Format: Format(9), Width: w, Height: h})
	require.ErrorIs(t, err, ErrNotSupported)

	err = run(t, gray, &Image{}, Request{Format: RGB, Width: w, Height: h})
	require.ErrorIs(t, err, strided.ErrBounds)

	err = run(t, gray, dst, Request{Format: RGB, Width: w, Height: h, Crop: image.Rect(40, 0, 72, 8)})
	require.ErrorIs(t, err, strided.ErrBounds)
}
