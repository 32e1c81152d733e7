package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceRGB is the scalar double-precision reference of YUVToRGB.
func referenceRGB(y, u, v byte) (int, int, int) {
	fy := float64(y)
	fu := float64(u) - 128
	fv := float64(v) - 128

	clamp := func(f float64) int {
		r := math.RoundToEven(f)
		if r < 0 {
			return 0
		}

		if r > 255 {
			return 255
		}

		return int(r)
	}

	return clamp(fy + 1.5748*fv), clamp(fy - 0.1873*fu - 0.4681*fv), clamp(fy + 1.8556*fu)
}

func TestYUVToRGBKnownValues(t *testing.T) {
	tests := []struct {
		y, u, v byte
		r, g, b byte
	}{
		{128, 128, 128, 128, 128, 128},
		{0, 128, 128, 0, 0, 0},
		{255, 128, 128, 255, 255, 255},
		{0, 0, 0, 0, 84, 0},
		{100, 128, 200, 213, 66, 100},
		{255, 255, 255, 255, 172, 255},
	}

	for _, tt := range tests {
		r, g, b := YUVToRGB(tt.y, tt.u, tt.v)
		assert.Equal(t, [3]byte{tt.r, tt.g, tt.b}, [3]byte{r, g, b}, "yuv %d,%d,%d", tt.y, tt.u, tt.v)
	}
}

func TestYUVToRGBAgainstReference(t *testing.T) {
	for y := 0; y < 256; y += 3 {
		for u := 0; u < 256; u += 5 {
			for v := 0; v < 256; v += 7 {
				r, g, b := YUVToRGB(byte(y), byte(u), byte(v))
				rr, rg, rb := referenceRGB(byte(y), byte(u), byte(v))

				if !isClose(int(r), rr) || !isClose(int(g), rg) || !isClose(int(b), rb) {
					t.Fatalf("yuv %d,%d,%d: got %d,%d,%d want %d,%d,%d", y, u, v, r, g, b, rr, rg, rb)
				}
			}
		}
	}
}

// isClose allows the single-precision rounding difference.
func isClose(a, b int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}

	return d <= 1
}

func TestPackSaturates(t *testing.T) {
	assert.Equal(t, byte(0), pack(-300))
	assert.Equal(t, byte(255), pack(1e6))
	assert.Equal(t, byte(2), pack(2.5))
	assert.Equal(t, byte(4), pack(3.5))
	assert.Equal(t, byte(3), pack(3.49))
}

func fill(n int, seed int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*31 + seed*17) ^ (i >> 3))
	}

	return b
}

// newSource builds a source of the given layout for a w x h image with padded pitches.
func newSource(l Layout, w, h int) Source {
	const pad = 5

	switch l {
	case Layout444:
		p := w + pad
		return Source{Layout: l, Y: Plane{fill(p*h, 1), p}, U: Plane{fill(p*h, 2), p}, V: Plane{fill(p*h, 3), p}}
	case Layout440:
		p := w + pad
		return Source{Layout: l, Y: Plane{fill(p*h, 1), p}, U: Plane{fill(p*half(h), 2), p}, V: Plane{fill(p*half(h), 3), p}}
	case LayoutYUYV:
		p := half(w)*4 + pad
		return Source{Layout: l, Y: Plane{fill(p*h, 1), p}}
	case LayoutNV12:
		p := w + pad
		cp := half(w)*2 + pad
		return Source{Layout: l, Y: Plane{fill(p*h, 1), p}, U: Plane{fill(cp*half(h), 2), cp}}
	default:
		p := w + pad
		return Source{Layout: l, Y: Plane{fill(p*h, 1), p}}
	}
}

// expectedYUV samples the source with explicit nearest-neighbor chroma.
func expectedYUV(s Source, x, y int) (byte, byte, byte) {
	switch s.Layout {
	case Layout444:
		return s.Y.Pix[y*s.Y.Pitch+x], s.U.Pix[y*s.U.Pitch+x], s.V.Pix[y*s.V.Pitch+x]
	case Layout440:
		return s.Y.Pix[y*s.Y.Pitch+x], s.U.Pix[(y/2)*s.U.Pitch+x], s.V.Pix[(y/2)*s.V.Pitch+x]
	case LayoutYUYV:
		pair := s.Y.Pix[y*s.Y.Pitch+(x/2)*4:]
		if x%2 == 0 {
			return pair[0], pair[1], pair[3]
		}

		return pair[2], pair[1], pair[3]
	case LayoutNV12:
		uv := s.U.Pix[(y/2)*s.U.Pitch+(x/2)*2:]
		return s.Y.Pix[y*s.Y.Pitch+x], uv[0], uv[1]
	default:
		return s.Y.Pix[y*s.Y.Pitch+x], 128, 128
	}
}

var layouts = []Layout{Layout444, Layout440, LayoutYUYV, LayoutNV12, Layout400}

func TestRGB(t *testing.T) {
	for _, l := range layouts {
		for _, size := range [][2]int{{16, 8}, {17, 9}, {1, 1}} {
			w, h := size[0], size[1]
			t.Run(l.String(), func(t *testing.T) {
				src := newSource(l, w, h)
				pitch := w*3 + 2
				dst := Plane{make([]byte, pitch*h), pitch}

				k, err := NewRGB(src, dst, w, h)
				require.NoError(t, err)
				assert.Equal(t, h, k.Grid())
				assert.Equal(t, l.String()+"-to-rgb", k.Name())

				k.Run(0, k.Grid())

				for y := 0; y < h; y++ {
					for x := 0; x < w; x++ {
						r, g, b := YUVToRGB(expectedYUV(src, x, y))
						got := dst.Pix[y*pitch+x*3 : y*pitch+x*3+3]
						require.Equal(t, []byte{r, g, b}, got, "pixel %d,%d", x, y)
					}
				}
			})
		}
	}
}

func TestRGBPlanar(t *testing.T) {
	for _, l := range layouts {
		t.Run(l.String(), func(t *testing.T) {
			w, h := 13, 7
			src := newSource(l, w, h)
			planes := [3]Plane{}
			for i := range planes {
				planes[i] = Plane{make([]byte, (w+i)*h), w + i}
			}

			k, err := NewRGBPlanar(src, planes[0], planes[1], planes[2], w, h)
			require.NoError(t, err)

			k.Run(0, k.Grid())

			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					r, g, b := YUVToRGB(expectedYUV(src, x, y))
					assert.Equal(t, r, planes[0].Pix[y*planes[0].Pitch+x])
					assert.Equal(t, g, planes[1].Pix[y*planes[1].Pitch+x])
					assert.Equal(t, b, planes[2].Pix[y*planes[2].Pitch+x])
				}
			}
		})
	}
}

func TestRowRangesCompose(t *testing.T) {
	w, h := 24, 10
	src := newSource(LayoutNV12, w, h)

	whole := Plane{make([]byte, w*3*h), w * 3}
	split := Plane{make([]byte, w*3*h), w * 3}

	a, err := NewRGB(src, whole, w, h)
	require.NoError(t, err)
	a.Run(0, h)

	b, err := NewRGB(src, split, w, h)
	require.NoError(t, err)
	b.Run(0, 3)
	b.Run(3, 4)
	b.Run(4, h)

	assert.Equal(t, whole.Pix, split.Pix)
}

func TestRGBAToRGB(t *testing.T) {
	w, h := 9, 4
	src := Plane{fill((w*4+3)*h, 4), w*4 + 3}
	dst := Plane{make([]byte, w*3*h), w * 3}

	k, err := NewRGBAToRGB(src, dst, w, h)
	require.NoError(t, err)
	k.Run(0, h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := src.Pix[y*src.Pitch+x*4:]
			assert.Equal(t, s[:3], dst.Pix[y*dst.Pitch+x*3:y*dst.Pitch+x*3+3])
		}
	}
}

func TestUVToPlanar(t *testing.T) {
	w, h := 8, 3
	src := Plane{fill(20*h, 5), 20}
	u := Plane{make([]byte, w*h), w}
	v := Plane{make([]byte, w*h), w}

	k, err := NewUVToPlanar(src, u, v, w, h)
	require.NoError(t, err)
	k.Run(0, h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			assert.Equal(t, src.Pix[y*20+2*x], u.Pix[y*w+x])
			assert.Equal(t, src.Pix[y*20+2*x+1], v.Pix[y*w+x])
		}
	}
}

func TestYUYVToPlanar(t *testing.T) {
	w, h := 7, 3
	pitch := half(w) * 4
	src := Plane{fill(pitch*h, 6), pitch}
	y := Plane{make([]byte, w*h), w}
	u := Plane{make([]byte, half(w)*h), half(w)}
	v := Plane{make([]byte, half(w)*h), half(w)}

	k, err := NewYUYVToPlanar(src, y, u, v, w, h)
	require.NoError(t, err)
	k.Run(0, h)

	luma := Plane{make([]byte, w*h), w}
	e, err := NewExtractY(src, luma, w, h)
	require.NoError(t, err)
	e.Run(0, h)

	for row := 0; row < h; row++ {
		for x := 0; x < w; x++ {
			want, _, _ := expectedYUV(Source{Layout: LayoutYUYV, Y: src}, x, row)
			assert.Equal(t, want, y.Pix[row*w+x])
			assert.Equal(t, want, luma.Pix[row*w+x])
		}

		for x := 0; x < half(w); x++ {
			assert.Equal(t, src.Pix[row*pitch+x*4+1], u.Pix[row*half(w)+x])
			assert.Equal(t, src.Pix[row*pitch+x*4+3], v.Pix[row*half(w)+x])
		}
	}
}

func TestKernelBounds(t *testing.T) {
	w, h := 16, 8
	src := newSource(LayoutNV12, w, h)

	_, err := NewRGB(src, Plane{make([]byte, w*3*h-1), w * 3}, w, h)
	assert.ErrorIs(t, err, ErrBounds)

	_, err = NewRGB(src, Plane{make([]byte, w*3*h), w*3 - 1}, w, h)
	assert.ErrorIs(t, err, ErrBounds)

	short := src
	short.U.Pix = short.U.Pix[:len(short.U.Pix)-10]
	_, err = NewRGB(short, Plane{make([]byte, w*3*h), w * 3}, w, h)
	assert.ErrorIs(t, err, ErrBounds)

	_, err = NewRGB(Source{Layout: Layout(42)}, Plane{}, 0, 0)
	assert.ErrorIs(t, err, ErrBounds)

	_, err = NewUVToPlanar(Plane{make([]byte, 8), 8}, Plane{make([]byte, 8), 4}, Plane{make([]byte, 7), 4}, 4, 2)
	assert.ErrorIs(t, err, ErrBounds)

	_, err = NewExtractY(Plane{make([]byte, 31), 16}, Plane{make([]byte, 16), 8}, 8, 2)
	assert.ErrorIs(t, err, ErrBounds)
}
