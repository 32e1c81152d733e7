// Package vabuf encodes and decodes the VA-API JPEG baseline parameter
// buffers. Every buffer has a fixed size that must match the driver's
// structure exactly; a mismatch is an error, never a truncation.
package vabuf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gen2brain/vcnjpeg/internal/parser"
)

// ErrSize is returned when a buffer does not have the driver's exact size.
var ErrSize = errors.New("vabuf: buffer size mismatch")

// Sizes of the driver structures.
const (
	PictureParameterSize = 1060
	IQMatrixSize         = 276
	HuffmanTableSize     = 436
	SliceParameterSize   = 56
)

// Structure constants of libva's va_dec_jpeg.h.
const (
	maxPictureComponents = 255
	maxSliceComponents   = 4
	huffmanTableStride   = 208
)

var le = binary.LittleEndian

// Rectangle is VARectangle.
type Rectangle struct {
	X, Y          int16
	Width, Height uint16
}

// PictureComponent is one frame component entry.
type PictureComponent struct {
	ID, H, V, QuantSel uint8
}

// PictureParameter is VAPictureParameterBufferJPEGBaseline.
type PictureParameter struct {
	Width, Height uint16
	Components    [parser.MaxComponents]PictureComponent
	NumComponents uint8
	ColorSpace    uint8
	Rotation      uint32
	Crop          Rectangle
}

// IQMatrix is VAIQMatrixBufferJPEGBaseline.
type IQMatrix struct {
	Load   [parser.MaxQuantTables]bool
	Tables [parser.MaxQuantTables][64]uint8
}

// HuffmanTable is VAHuffmanTableBufferJPEGBaseline.
type HuffmanTable struct {
	Load   [parser.MaxHuffmanTables]bool
	Tables [parser.MaxHuffmanTables]parser.HuffmanTable
}

// SliceComponent is one scan component entry.
type SliceComponent struct {
	Selector, DC, AC uint8
}

// SliceParameter is VASliceParameterBufferJPEGBaseline.
type SliceParameter struct {
	DataSize        uint32
	DataOffset      uint32
	DataFlag        uint32
	HPos, VPos      uint32
	Components      [parser.MaxComponents]SliceComponent
	NumComponents   uint8
	RestartInterval uint16
	NumMCUs         uint32
}

// NewPictureParameter builds the picture parameter buffer of a parsed stream.
func NewPictureParameter(p *parser.Params) PictureParameter {
	pp := PictureParameter{
		Width:         uint16(p.Picture.Width),
		Height:        uint16(p.Picture.Height),
		NumComponents: uint8(p.Picture.NumComponents),
	}

	for i, c := range p.Picture.Components {
		pp.Components[i] = PictureComponent{ID: c.ID, H: c.H, V: c.V, QuantSel: c.QuantSel}
	}

	return pp
}

// NewIQMatrix builds the quantization matrix buffer of a parsed stream.
func NewIQMatrix(p *parser.Params) IQMatrix {
	return IQMatrix{Load: p.Quant.Load, Tables: p.Quant.Tables}
}

// NewHuffmanTable builds the Huffman table buffer of a parsed stream.
func NewHuffmanTable(p *parser.Params) HuffmanTable {
	return HuffmanTable{Load: p.Huffman.Load, Tables: p.Huffman.Tables}
}

// NewSliceParameter builds the slice parameter buffer of a parsed stream.
func NewSliceParameter(p *parser.Params) SliceParameter {
	sp := SliceParameter{
		DataSize:        uint32(len(p.Data)),
		NumComponents:   uint8(p.Slice.NumComponents),
		RestartInterval: uint16(p.Slice.RestartInterval),
		NumMCUs:         uint32(p.Slice.NumMCUs),
	}

	for i, c := range p.Slice.Components {
		sp.Components[i] = SliceComponent{Selector: c.Selector, DC: c.DC, AC: c.AC}
	}

	return sp
}

func putBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

// MarshalBinary encodes the buffer in driver layout.
func (p *PictureParameter) MarshalBinary() ([]byte, error) {
	b := make([]byte, PictureParameterSize)
	le.PutUint16(b[0:], p.Width)
	le.PutUint16(b[2:], p.Height)

	for i, c := range p.Components {
		o := 4 + i*4
		b[o], b[o+1], b[o+2], b[o+3] = c.ID, c.H, c.V, c.QuantSel
	}

	o := 4 + maxPictureComponents*4
	b[o] = p.NumComponents
	b[o+1] = p.ColorSpace
	le.PutUint32(b[1028:], p.Rotation)
	le.PutUint16(b[1032:], uint16(p.Crop.X))
	le.PutUint16(b[1034:], uint16(p.Crop.Y))
	le.PutUint16(b[1036:], p.Crop.Width)
	le.PutUint16(b[1038:], p.Crop.Height)

	return b, nil
}

// UnmarshalBinary decodes a buffer in driver layout.
func (p *PictureParameter) UnmarshalBinary(b []byte) error {
	if len(b) != PictureParameterSize {
		return fmt.Errorf("picture parameter of %d bytes: %w", len(b), ErrSize)
	}

	p.Width = le.Uint16(b[0:])
	p.Height = le.Uint16(b[2:])

	for i := range p.Components {
		o := 4 + i*4
		p.Components[i] = PictureComponent{ID: b[o], H: b[o+1], V: b[o+2], QuantSel: b[o+3]}
	}

	o := 4 + maxPictureComponents*4
	p.NumComponents = b[o]
	p.ColorSpace = b[o+1]
	p.Rotation = le.Uint32(b[1028:])
	p.Crop = Rectangle{
		X:      int16(le.Uint16(b[1032:])),
		Y:      int16(le.Uint16(b[1034:])),
		Width:  le.Uint16(b[1036:]),
		Height: le.Uint16(b[1038:]),
	}

	return nil
}

// MarshalBinary encodes the buffer in driver layout.
func (m *IQMatrix) MarshalBinary() ([]byte, error) {
	b := make([]byte, IQMatrixSize)
	for i := range m.Load {
		putBool(b[i:], m.Load[i])
		copy(b[4+i*64:], m.Tables[i][:])
	}

	return b, nil
}

// UnmarshalBinary decodes a buffer in driver layout.
func (m *IQMatrix) UnmarshalBinary(b []byte) error {
	if len(b) != IQMatrixSize {
		return fmt.Errorf("quantization matrix of %d bytes: %w", len(b), ErrSize)
	}

	for i := range m.Load {
		m.Load[i] = b[i] != 0
		copy(m.Tables[i][:], b[4+i*64:4+(i+1)*64])
	}

	return nil
}

// MarshalBinary encodes the buffer in driver layout.
func (h *HuffmanTable) MarshalBinary() ([]byte, error) {
	b := make([]byte, HuffmanTableSize)
	for i := range h.Load {
		putBool(b[i:], h.Load[i])

		t := &h.Tables[i]
		o := 2 + i*huffmanTableStride
		copy(b[o:], t.NumDC[:])
		copy(b[o+16:], t.DCValues[:])
		copy(b[o+28:], t.NumAC[:])
		copy(b[o+44:], t.ACValues[:])
	}

	return b, nil
}

// UnmarshalBinary decodes a buffer in driver layout.
func (h *HuffmanTable) UnmarshalBinary(b []byte) error {
	if len(b) != HuffmanTableSize {
		return fmt.Errorf("huffman table of %d bytes: %w", len(b), ErrSize)
	}

	for i := range h.Load {
		h.Load[i] = b[i] != 0

		t := &h.Tables[i]
		o := 2 + i*huffmanTableStride
		copy(t.NumDC[:], b[o:o+16])
		copy(t.DCValues[:], b[o+16:o+28])
		copy(t.NumAC[:], b[o+28:o+44])
		copy(t.ACValues[:], b[o+44:o+206])
	}

	return nil
}

// MarshalBinary encodes the buffer in driver layout.
func (s *SliceParameter) MarshalBinary() ([]byte, error) {
	b := make([]byte, SliceParameterSize)
	le.PutUint32(b[0:], s.DataSize)
	le.PutUint32(b[4:], s.DataOffset)
	le.PutUint32(b[8:], s.DataFlag)
	le.PutUint32(b[12:], s.HPos)
	le.PutUint32(b[16:], s.VPos)

	for i, c := range s.Components {
		o := 20 + i*3
		b[o], b[o+1], b[o+2] = c.Selector, c.DC, c.AC
	}

	b[20+maxSliceComponents*3] = s.NumComponents
	le.PutUint16(b[34:], s.RestartInterval)
	le.PutUint32(b[36:], s.NumMCUs)

	return b, nil
}

// UnmarshalBinary decodes a buffer in driver layout.
func (s *SliceParameter) UnmarshalBinary(b []byte) error {
	if len(b) != SliceParameterSize {
		return fmt.Errorf("slice parameter of %d bytes: %w", len(b), ErrSize)
	}

	s.DataSize = le.Uint32(b[0:])
	s.DataOffset = le.Uint32(b[4:])
	s.DataFlag = le.Uint32(b[8:])
	s.HPos = le.Uint32(b[12:])
	s.VPos = le.Uint32(b[16:])

	for i := range s.Components {
		o := 20 + i*3
		s.Components[i] = SliceComponent{Selector: b[o], DC: b[o+1], AC: b[o+2]}
	}

	s.NumComponents = b[20+maxSliceComponents*3]
	s.RestartInterval = le.Uint16(b[34:])
	s.NumMCUs = le.Uint32(b[36:])

	return nil
}
