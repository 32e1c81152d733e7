// Package jpegtest builds baseline JPEG fixtures with arbitrary sampling
// factors and restart intervals. The standard library encoder only emits
// 4:2:0 and grayscale streams.
package jpegtest

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"math"
	"math/bits"
)

// Sampling holds the H and V sampling factors of up to three components.
type Sampling [3][2]int

// Common sampling layouts.
var (
	Sampling444 = Sampling{{1, 1}, {1, 1}, {1, 1}}
	Sampling440 = Sampling{{1, 2}, {1, 1}, {1, 1}}
	Sampling422 = Sampling{{2, 1}, {1, 1}, {1, 1}}
	Sampling420 = Sampling{{2, 2}, {1, 1}, {1, 1}}
	Sampling411 = Sampling{{4, 1}, {1, 1}, {1, 1}}
)

// Options control the encoder.
type Options struct {
	// Quality is in [1, 100]. Zero selects 90.
	Quality int
	// Sampling selects the component sampling factors for color output.
	Sampling Sampling
	// Gray writes a single-component stream.
	Gray bool
	// RestartInterval emits RSTn markers every N MCUs when non-zero.
	RestartInterval int
}

// unscaledQuant are the unscaled quantization tables in zig-zag order
// (section K.1, luminance then chrominance).
var unscaledQuant = [2][64]byte{
	{
		16, 11, 12, 14, 12, 10, 16, 14,
		13, 14, 18, 17, 16, 19, 24, 40,
		26, 24, 22, 22, 24, 49, 35, 37,
		29, 40, 58, 51, 61, 60, 57, 51,
		56, 55, 64, 72, 92, 78, 64, 68,
		87, 69, 55, 56, 80, 109, 81, 87,
		95, 98, 103, 104, 103, 62, 77, 113,
		121, 112, 100, 120, 92, 101, 103, 99,
	},
	{
		17, 18, 18, 24, 21, 24, 47, 26,
		26, 47, 99, 66, 56, 66, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
	},
}

// zigzag maps the zig-zag index to the natural block index.
var zigzag = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18,
	11, 4, 5, 12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28, 35,
	42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51, 58, 59, 52, 45,
	38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
}

// huffmanSpec specifies a Huffman encoding.
type huffmanSpec struct {
	count [16]byte
	value []byte
}

// stdHuffman are the section K.3 tables: luma DC, luma AC, chroma DC, chroma AC.
var stdHuffman = [4]huffmanSpec{
	{
		[16]byte{0, 1, 5, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0},
		[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	},
	{
		[16]byte{0, 2, 1, 3, 3, 2, 4, 3, 5, 5, 4, 4, 0, 0, 1, 125},
		[]byte{
			0x01, 0x02, 0x03, 0x00, 0x04, 0x11, 0x05, 0x12,
			0x21, 0x31, 0x41, 0x06, 0x13, 0x51, 0x61, 0x07,
			0x22, 0x71, 0x14, 0x32, 0x81, 0x91, 0xa1, 0x08,
			0x23, 0x42, 0xb1, 0xc1, 0x15, 0x52, 0xd1, 0xf0,
			0x24, 0x33, 0x62, 0x72, 0x82, 0x09, 0x0a, 0x16,
			0x17, 0x18, 0x19, 0x1a, 0x25, 0x26, 0x27, 0x28,
			0x29, 0x2a, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39,
			0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49,
			0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59,
			0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
			0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79,
			0x7a, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89,
			0x8a, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98,
			0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
			0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6,
			0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3, 0xc4, 0xc5,
			0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2, 0xd3, 0xd4,
			0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda, 0xe1, 0xe2,
			0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9, 0xea,
			0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
			0xf9, 0xfa,
		},
	},
	{
		[16]byte{0, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0},
		[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	},
	{
		[16]byte{0, 2, 1, 2, 4, 4, 3, 4, 7, 5, 4, 4, 0, 1, 2, 119},
		[]byte{
			0x00, 0x01, 0x02, 0x03, 0x11, 0x04, 0x05, 0x21,
			0x31, 0x06, 0x12, 0x41, 0x51, 0x07, 0x61, 0x71,
			0x13, 0x22, 0x32, 0x81, 0x08, 0x14, 0x42, 0x91,
			0xa1, 0xb1, 0xc1, 0x09, 0x23, 0x33, 0x52, 0xf0,
			0x15, 0x62, 0x72, 0xd1, 0x0a, 0x16, 0x24, 0x34,
			0xe1, 0x25, 0xf1, 0x17, 0x18, 0x19, 0x1a, 0x26,
			0x27, 0x28, 0x29, 0x2a, 0x35, 0x36, 0x37, 0x38,
			0x39, 0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48,
			0x49, 0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58,
			0x59, 0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68,
			0x69, 0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78,
			0x79, 0x7a, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87,
			0x88, 0x89, 0x8a, 0x92, 0x93, 0x94, 0x95, 0x96,
			0x97, 0x98, 0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5,
			0xa6, 0xa7, 0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4,
			0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3,
			0xc4, 0xc5, 0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2,
			0xd3, 0xd4, 0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda,
			0xe2, 0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9,
			0xea, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
			0xf9, 0xfa,
		},
	},
}

// huffmanLUT maps a value to its codeword size (high 8 bits) and codeword.
type huffmanLUT [256]uint32

func (h *huffmanLUT) init(s huffmanSpec) {
	code, k := uint32(0), 0
	for i := 0; i < len(s.count); i++ {
		nBits := uint32(i+1) << 24
		for j := uint8(0); j < s.count[i]; j++ {
			h[s.value[k]] = nBits | code
			code++
			k++
		}
		code <<= 1
	}
}

var stdLUT [4]huffmanLUT

func init() {
	for i, s := range stdHuffman {
		stdLUT[i].init(s)
	}
}

// plane is a component sampled at its own resolution.
type plane struct {
	w, h int
	pix  []float64
}

func (p *plane) at(x, y int) float64 {
	x = min(max(x, 0), p.w-1)
	y = min(max(y, 0), p.h-1)

	return p.pix[y*p.w+x]
}

// encoder accumulates the entropy-coded bits.
type encoder struct {
	buf         bytes.Buffer
	bits, nBits uint32
	quant       [2][64]int32
}

// emit emits the least significant nBits bits of bits.
func (e *encoder) emit(b, nBits uint32) {
	nBits += e.nBits
	b <<= 32 - nBits
	b |= e.bits
	for nBits >= 8 {
		c := uint8(b >> 24)
		e.buf.WriteByte(c)
		if c == 0xff {
			e.buf.WriteByte(0x00)
		}
		b <<= 8
		nBits -= 8
	}
	e.bits, e.nBits = b, nBits
}

func (e *encoder) emitHuff(h int, value int32) {
	x := stdLUT[h][value]
	e.emit(x&(1<<24-1), x>>24)
}

func (e *encoder) emitHuffRLE(h int, runLength, value int32) {
	a, b := value, value
	if a < 0 {
		a, b = -value, value-1
	}

	nBits := uint32(bits.Len32(uint32(a)))
	e.emitHuff(h, runLength<<4|int32(nBits))
	if nBits > 0 {
		e.emit(uint32(b)&(1<<nBits-1), nBits)
	}
}

// padToByte flushes pending bits, padding with ones.
func (e *encoder) padToByte() {
	if e.nBits > 0 {
		e.emit(0x7f, 7)
	}
	e.bits, e.nBits = 0, 0
}

func (e *encoder) marker(m byte, length int) {
	e.buf.Write([]byte{0xff, m, byte(length >> 8), byte(length)})
}

// fdct computes the 2-D forward DCT of a level-shifted block.
func fdct(in *[64]float64, out *[64]float64) {
	for v := 0; v < 8; v++ {
		for u := 0; u < 8; u++ {
			var sum float64
			for y := 0; y < 8; y++ {
				for x := 0; x < 8; x++ {
					sum += in[y*8+x] *
						math.Cos(float64(2*x+1)*float64(u)*math.Pi/16) *
						math.Cos(float64(2*y+1)*float64(v)*math.Pi/16)
				}
			}
			cu, cv := 1.0, 1.0
			if u == 0 {
				cu = 1 / math.Sqrt2
			}
			if v == 0 {
				cv = 1 / math.Sqrt2
			}
			out[v*8+u] = 0.25 * cu * cv * sum
		}
	}
}

// writeBlock encodes one block and returns the new DC predictor.
func (e *encoder) writeBlock(in *[64]float64, q int, prevDC int32) int32 {
	var coef [64]float64
	fdct(in, &coef)

	var zz [64]int32
	for k := 0; k < 64; k++ {
		zz[k] = int32(math.Round(coef[zigzag[k]] / float64(e.quant[q][k])))
	}

	dcTable, acTable := 2*q, 2*q+1
	e.emitHuffRLE(dcTable, 0, zz[0]-prevDC)

	runLength := int32(0)
	for k := 1; k < 64; k++ {
		if zz[k] == 0 {
			runLength++
			continue
		}
		for runLength > 15 {
			e.emitHuff(acTable, 0xf0)
			runLength -= 16
		}
		e.emitHuffRLE(acTable, runLength, zz[k])
		runLength = 0
	}

	if runLength > 0 {
		e.emitHuff(acTable, 0x00)
	}

	return zz[0]
}

// Encode writes m as a baseline JPEG.
func Encode(m image.Image, o Options) ([]byte, error) {
	b := m.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 || w > 65535 || h > 65535 {
		return nil, errors.New("jpegtest: invalid image size")
	}

	quality := o.Quality
	if quality == 0 {
		quality = 90
	}
	quality = min(max(quality, 1), 100)

	scale := 5000 / quality
	if quality >= 50 {
		scale = 200 - quality*2
	}

	e := new(encoder)
	for i := range e.quant {
		for j := range e.quant[i] {
			x := (int32(unscaledQuant[i][j])*int32(scale) + 50) / 100
			e.quant[i][j] = min(max(x, 1), 255)
		}
	}

	ncomp := 3
	sampling := o.Sampling
	if o.Gray {
		ncomp = 1
		sampling = Sampling{{1, 1}}
	}

	if sampling == (Sampling{}) {
		sampling = Sampling444
	}

	hmax, vmax := 1, 1
	for i := 0; i < ncomp; i++ {
		hmax = max(hmax, sampling[i][0])
		vmax = max(vmax, sampling[i][1])
	}

	// Full resolution YCbCr.
	full := [3][]float64{make([]float64, w*h), make([]float64, w*h), make([]float64, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBAModel.Convert(m.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			yy, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
			full[0][y*w+x] = float64(yy)
			full[1][y*w+x] = float64(cb)
			full[2][y*w+x] = float64(cr)
		}
	}

	// Box-filter each component down to its own resolution.
	var planes [3]plane
	for i := 0; i < ncomp; i++ {
		sx, sy := hmax/sampling[i][0], vmax/sampling[i][1]
		p := plane{w: (w*sampling[i][0] + hmax - 1) / hmax, h: (h*sampling[i][1] + vmax - 1) / vmax}
		p.pix = make([]float64, p.w*p.h)
		for y := 0; y < p.h; y++ {
			for x := 0; x < p.w; x++ {
				var sum float64
				var n int
				for dy := 0; dy < sy; dy++ {
					for dx := 0; dx < sx; dx++ {
						fx, fy := x*sx+dx, y*sy+dy
						if fx < w && fy < h {
							sum += full[i][fy*w+fx]
							n++
						}
					}
				}
				p.pix[y*p.w+x] = sum / float64(n)
			}
		}
		planes[i] = p
	}

	out := &e.buf
	out.Write([]byte{0xff, 0xd8})

	// DQT.
	nq := 2
	if ncomp == 1 {
		nq = 1
	}
	e.marker(0xdb, 2+nq*65)
	for i := 0; i < nq; i++ {
		out.WriteByte(byte(i))
		for j := 0; j < 64; j++ {
			out.WriteByte(byte(e.quant[i][j]))
		}
	}

	// SOF0.
	e.marker(0xc0, 8+3*ncomp)
	out.Write([]byte{8, byte(h >> 8), byte(h), byte(w >> 8), byte(w), byte(ncomp)})
	for i := 0; i < ncomp; i++ {
		q := byte(0)
		if i > 0 {
			q = 1
		}
		out.Write([]byte{byte(i + 1), byte(sampling[i][0]<<4 | sampling[i][1]), q})
	}

	// DHT.
	nh := 4
	if ncomp == 1 {
		nh = 2
	}
	length := 2
	for i := 0; i < nh; i++ {
		length += 17 + len(stdHuffman[i].value)
	}
	e.marker(0xc4, length)
	for i := 0; i < nh; i++ {
		out.WriteByte([]byte{0x00, 0x10, 0x01, 0x11}[i])
		out.Write(stdHuffman[i].count[:])
		out.Write(stdHuffman[i].value)
	}

	if o.RestartInterval > 0 {
		e.marker(0xdd, 4)
		out.Write([]byte{byte(o.RestartInterval >> 8), byte(o.RestartInterval)})
	}

	// SOS.
	e.marker(0xda, 6+2*ncomp)
	out.WriteByte(byte(ncomp))
	for i := 0; i < ncomp; i++ {
		t := byte(0x00)
		if i > 0 {
			t = 0x11
		}
		out.Write([]byte{byte(i + 1), t})
	}
	out.Write([]byte{0x00, 0x3f, 0x00})

	mcuW, mcuH := 8*hmax, 8*vmax
	mbw, mbh := (w+mcuW-1)/mcuW, (h+mcuH-1)/mcuH
	if ncomp == 1 {
		mbw, mbh = (w+7)/8, (h+7)/8
	}

	var prevDC [3]int32
	var blk [64]float64
	mcu, rst := 0, 0

	for my := 0; my < mbh; my++ {
		for mx := 0; mx < mbw; mx++ {
			if o.RestartInterval > 0 && mcu > 0 && mcu%o.RestartInterval == 0 {
				e.padToByte()
				out.Write([]byte{0xff, byte(0xd0 + rst)})
				rst = (rst + 1) & 7
				prevDC = [3]int32{}
			}

			for i := 0; i < ncomp; i++ {
				hs, vs := sampling[i][0], sampling[i][1]
				q := 0
				if i > 0 {
					q = 1
				}
				for by := 0; by < vs; by++ {
					for bx := 0; bx < hs; bx++ {
						x0 := (mx*hs + bx) * 8
						y0 := (my*vs + by) * 8
						for y := 0; y < 8; y++ {
							for x := 0; x < 8; x++ {
								blk[y*8+x] = planes[i].at(x0+x, y0+y) - 128
							}
						}
						prevDC[i] = e.writeBlock(&blk, q, prevDC[i])
					}
				}
			}
			mcu++
		}
	}

	e.padToByte()
	out.Write([]byte{0xff, 0xd9})

	return out.Bytes(), nil
}

// Gradient returns a deterministic test pattern with smooth ramps and a few
// hard edges.
func Gradient(w, h int) *image.RGBA {
	m := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r := uint8(x * 255 / max(w-1, 1))
			g := uint8(y * 255 / max(h-1, 1))
			bl := uint8((x + y) * 255 / max(w+h-2, 1))
			if (x/16+y/16)%4 == 0 {
				bl = 255 - bl
			}
			m.SetRGBA(x, y, color.RGBA{R: r, G: g, B: bl, A: 255})
		}
	}

	return m
}
