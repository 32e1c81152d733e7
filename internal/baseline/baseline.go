// Package baseline is a software baseline JPEG decoder driven by the VA
// parameter buffers instead of the marker stream. It decodes the
// entropy-coded segment of a slice into one plane per component.
package baseline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/vcnjpeg/internal/parser"
	"github.com/gen2brain/vcnjpeg/internal/vabuf"
)

// Standard error types for slice decoding.
var (
	ErrSyntax     = errors.New("syntax error")
	ErrParameters = errors.New("invalid parameter buffer")
)

// vlcCode represents a single entry in the Huffman lookup table.
type vlcCode struct {
	bits, code uint8
}

// Plane is one decoded component.
type Plane struct {
	Width, Height int    // Component dimensions in samples.
	H, V          int    // Sampling factors.
	Stride        int    // Bytes between rows, padded to whole blocks.
	Pix           []byte // Stride times the padded block height.
}

// At returns the sample at (x, y), clamped to the component dimensions.
func (p *Plane) At(x, y int) byte {
	x = min(max(x, 0), p.Width-1)
	y = min(max(y, 0), p.Height-1)

	return p.Pix[y*p.Stride+x]
}

// Frame is a decoded picture.
type Frame struct {
	Width, Height int
	HMax, VMax    int // Largest sampling factors.
	Planes        []Plane
}

// component stores the per-scan state of one color component.
type component struct {
	ssX, ssY           int
	qtSel              int
	dcTabSel, acTabSel int
	dcPred             int
	plane              *Plane
}

// decoder holds the state of one slice decode.
type decoder struct {
	data              []byte
	pos               int
	size              int
	buf               uint64
	bufBits           int
	block             [64]int32
	mbWidth, mbHeight int
	ncomp             int
	comp              [parser.MaxComponents]component
	rstInterval       int
	qtab              *vabuf.IQMatrix
	dcTab, acTab      [parser.MaxHuffmanTables]*[65536]vlcCode
}

// errDecode is used for internal panics during the hot decoding path.
type errDecode struct{ error }

func newDecoder() *decoder {
	d := new(decoder)
	for i := 0; i < parser.MaxHuffmanTables; i++ {
		d.dcTab[i] = new([65536]vlcCode)
		d.acTab[i] = new([65536]vlcCode)
	}

	return d
}

// reset clears the decoder state for reuse, preserving the allocated tables.
func (d *decoder) reset() {
	dc, ac := d.dcTab, d.acTab
	*d = decoder{}
	d.dcTab, d.acTab = dc, ac
}

func (d *decoder) panic(err error) {
	panic(errDecode{err})
}

var decoderPool = sync.Pool{
	New: func() interface{} {
		return newDecoder()
	},
}

// zz maps the zigzag coefficient order to the natural block position.
var zz = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18,
	11, 4, 5, 12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28, 35,
	42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51, 58, 59, 52, 45,
	38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
}

// Decode decodes a slice described by the four parameter buffers. data is the
// slice data buffer; the slice parameter locates the entropy-coded segment in it.
func Decode(pic *vabuf.PictureParameter, iq *vabuf.IQMatrix, huff *vabuf.HuffmanTable, slice *vabuf.SliceParameter, data []byte) (*Frame, error) {
	d := decoderPool.Get().(*decoder)
	defer func() {
		d.reset()
		decoderPool.Put(d)
	}()

	start, end := int(slice.DataOffset), int(slice.DataOffset)+int(slice.DataSize)
	if end > len(data) {
		return nil, fmt.Errorf("slice data %d:%d exceeds buffer of %d bytes: %w", start, end, len(data), ErrParameters)
	}

	f, err := d.setup(pic, iq, huff, slice)
	if err != nil {
		return nil, err
	}

	d.data = data[start:end]
	d.size = len(d.data)

	if err := d.decodeScan(); err != nil {
		return nil, err
	}

	return f, nil
}

// setup validates the parameter buffers and allocates the component planes.
func (d *decoder) setup(pic *vabuf.PictureParameter, iq *vabuf.IQMatrix, huff *vabuf.HuffmanTable, slice *vabuf.SliceParameter) (*Frame, error) {
	d.ncomp = int(pic.NumComponents)
	if d.ncomp != 1 && d.ncomp != 3 {
		return nil, fmt.Errorf("%d components: %w", d.ncomp, ErrParameters)
	}

	if int(slice.NumComponents) != d.ncomp {
		return nil, fmt.Errorf("slice has %d of %d components: %w", slice.NumComponents, d.ncomp, ErrParameters)
	}

	if pic.Width == 0 || pic.Height == 0 {
		return nil, fmt.Errorf("picture %dx%d: %w", pic.Width, pic.Height, ErrParameters)
	}

	f := &Frame{Width: int(pic.Width), Height: int(pic.Height), HMax: 1, VMax: 1}
	f.Planes = make([]Plane, d.ncomp)

	for i := 0; i < d.ncomp; i++ {
		pc := pic.Components[i]
		sc := slice.Components[i]

		if sc.Selector != pc.ID {
			return nil, fmt.Errorf("slice component %d does not match picture component %d: %w", sc.Selector, pc.ID, ErrParameters)
		}

		if pc.H == 0 || pc.V == 0 || pc.H&(pc.H-1) != 0 || pc.V&(pc.V-1) != 0 || pc.H > 4 || pc.V > 4 {
			return nil, fmt.Errorf("sampling factors %dx%d: %w", pc.H, pc.V, ErrParameters)
		}

		if int(pc.QuantSel) >= parser.MaxQuantTables || !iq.Load[pc.QuantSel] {
			return nil, fmt.Errorf("quantization table %d not loaded: %w", pc.QuantSel, ErrParameters)
		}

		if int(sc.DC) >= parser.MaxHuffmanTables || int(sc.AC) >= parser.MaxHuffmanTables {
			return nil, fmt.Errorf("huffman selectors %d/%d: %w", sc.DC, sc.AC, ErrParameters)
		}

		if !huff.Load[sc.DC] || !huff.Load[sc.AC] {
			return nil, fmt.Errorf("huffman tables %d/%d not loaded: %w", sc.DC, sc.AC, ErrParameters)
		}

		c := &d.comp[i]
		c.ssX, c.ssY = int(pc.H), int(pc.V)
		c.qtSel = int(pc.QuantSel)
		c.dcTabSel, c.acTabSel = int(sc.DC), int(sc.AC)

		f.HMax = max(f.HMax, c.ssX)
		f.VMax = max(f.VMax, c.ssY)
	}

	// A single component scan is not interleaved.
	if d.ncomp == 1 {
		d.comp[0].ssX, d.comp[0].ssY = 1, 1
		f.HMax, f.VMax = 1, 1
	}

	for i := 0; i < parser.MaxHuffmanTables; i++ {
		if !huff.Load[i] {
			continue
		}

		t := &huff.Tables[i]
		if err := buildVLC(d.dcTab[i], t.NumDC[:], t.DCValues[:]); err != nil {
			return nil, fmt.Errorf("DC table %d: %w", i, err)
		}

		if err := buildVLC(d.acTab[i], t.NumAC[:], t.ACValues[:]); err != nil {
			return nil, fmt.Errorf("AC table %d: %w", i, err)
		}
	}

	d.qtab = iq
	d.rstInterval = int(slice.RestartInterval)

	mbSizeX, mbSizeY := f.HMax<<3, f.VMax<<3
	d.mbWidth = (f.Width + mbSizeX - 1) / mbSizeX
	d.mbHeight = (f.Height + mbSizeY - 1) / mbSizeY

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		p := &f.Planes[i]
		p.H, p.V = c.ssX, c.ssY
		p.Width = (f.Width*c.ssX + f.HMax - 1) / f.HMax
		p.Height = (f.Height*c.ssY + f.VMax - 1) / f.VMax
		p.Stride = d.mbWidth * c.ssX << 3
		p.Pix = make([]byte, p.Stride*(d.mbHeight*c.ssY<<3))
		c.plane = p
	}

	return f, nil
}

// buildVLC fills a lookup table from canonical Huffman code counts.
func buildVLC(vlc *[65536]vlcCode, counts, values []uint8) error {
	var n int
	for _, num := range counts {
		n += int(num)
	}

	if n > len(values) {
		return fmt.Errorf("%d codes for %d values: %w", n, len(values), ErrParameters)
	}

	*vlc = [65536]vlcCode{}

	var huffCode uint32
	valueIdx := 0

	for codeLen := 1; codeLen <= 16; codeLen++ {
		numCodes := int(counts[codeLen-1])
		for k := 0; k < numCodes; k++ {
			shift := 16 - codeLen
			baseIndex := huffCode << shift
			if baseIndex+(1<<shift) > 65536 {
				return fmt.Errorf("code space overflow: %w", ErrParameters)
			}

			for j := uint32(0); j < 1<<shift; j++ {
				vlc[baseIndex+j] = vlcCode{bits: uint8(codeLen), code: values[valueIdx]}
			}

			valueIdx++
			huffCode++
		}

		huffCode <<= 1
	}

	return nil
}

// getVLC decodes one Huffman symbol and its magnitude bits. The symbol is
// stored in code when it is not nil.
func (d *decoder) getVLC(vlc *[65536]vlcCode, code *uint8) int {
	entry := vlc[d.showBits(16)]
	huffBits := int(entry.bits)
	if huffBits == 0 {
		d.panic(ErrSyntax)
	}

	if code != nil {
		*code = entry.code
	}

	valBits := int(entry.code & 15)
	d.skipBits(huffBits)

	if valBits == 0 {
		return 0
	}

	value := d.getBits(valBits)

	// Sign extension.
	if value < (1 << (valBits - 1)) {
		value += ((-1) << valBits) + 1
	}

	return value
}

// decodeBlock entropy decodes, dequantizes and transforms one 8x8 block.
func (d *decoder) decodeBlock(c *component, outOffset int) {
	var code uint8

	d.block = [64]int32{}

	qt := &d.qtab.Tables[c.qtSel]
	dcVLC := d.dcTab[c.dcTabSel]
	acVLC := d.acTab[c.acTabSel]

	c.dcPred += d.getVLC(dcVLC, nil)
	d.block[0] = int32(c.dcPred) * int32(qt[0])

	coef := 1
	for coef <= 63 {
		value := d.getVLC(acVLC, &code)

		if code == 0 { // EOB
			break
		}

		if code&0x0F == 0 {
			if code != 0xF0 { // ZRL
				d.panic(ErrSyntax)
			}

			coef += 16

			continue
		}

		coef += int(code >> 4)
		if coef > 63 {
			d.panic(ErrSyntax)
		}

		d.block[zz[coef]] = int32(value) * int32(qt[coef])
		coef++
	}

	idct(&d.block, c.plane.Pix, outOffset, c.plane.Stride)
}

// decodeScan decodes every MCU of the slice.
func (d *decoder) decodeScan() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if de, ok := r.(errDecode); ok {
				err = de.error

				return
			}

			panic(r)
		}
	}()

	rstCount := d.rstInterval
	nextRst := 0
	last := d.mbWidth*d.mbHeight - 1

	for mby := 0; mby < d.mbHeight; mby++ {
		for mbx := 0; mbx < d.mbWidth; mbx++ {
			for i := 0; i < d.ncomp; i++ {
				c := &d.comp[i]

				for sby := 0; sby < c.ssY; sby++ {
					for sbx := 0; sbx < c.ssX; sbx++ {
						offset := ((mby*c.ssY+sby)*c.plane.Stride + mbx*c.ssX + sbx) << 3

						d.decodeBlock(c, offset)
					}
				}
			}

			if d.rstInterval == 0 || mby*d.mbWidth+mbx == last {
				continue
			}

			rstCount--
			if rstCount == 0 {
				d.byteAlign()

				m := d.getBits(16)
				if m&0xFFF8 != 0xFFD0 || m&7 != nextRst {
					d.panic(fmt.Errorf("expected RST%d, got 0x%04X: %w", nextRst, m, ErrSyntax))
				}

				nextRst = (nextRst + 1) & 7
				rstCount = d.rstInterval

				for k := range d.comp {
					d.comp[k].dcPred = 0
				}
			}
		}
	}

	return nil
}
