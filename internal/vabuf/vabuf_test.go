package vabuf

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vcnjpeg/internal/jpegtest"
	"github.com/gen2brain/vcnjpeg/internal/parser"
)

func parse(t *testing.T, o jpegtest.Options) *parser.Params {
	t.Helper()

	data, err := jpegtest.Encode(jpegtest.Gradient(80, 48), o)
	require.NoError(t, err)

	p, err := parser.Parse(data)
	require.NoError(t, err)

	return p
}

func TestPictureParameterLayout(t *testing.T) {
	p := parse(t, jpegtest.Options{Sampling: jpegtest.Sampling420})

	pp := NewPictureParameter(p)
	pp.Crop = Rectangle{X: 8, Y: 16, Width: 32, Height: 24}

	b, err := pp.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, PictureParameterSize)

	assert.Equal(t, uint16(80), binary.LittleEndian.Uint16(b[0:]))
	assert.Equal(t, uint16(48), binary.LittleEndian.Uint16(b[2:]))

	// First component: id, h=2, v=2, table 0.
	assert.Equal(t, []byte{p.Picture.Components[0].ID, 2, 2, 0}, b[4:8])
	assert.Equal(t, byte(1), b[9])
	assert.Equal(t, byte(3), b[1024])
	assert.Equal(t, uint16(8), binary.LittleEndian.Uint16(b[1032:]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(b[1034:]))
	assert.Equal(t, uint16(32), binary.LittleEndian.Uint16(b[1036:]))
	assert.Equal(t, uint16(24), binary.LittleEndian.Uint16(b[1038:]))
	assert.Equal(t, make([]byte, 20), b[1040:])

	var got PictureParameter
	require.NoError(t, got.UnmarshalBinary(b))

	if diff := cmp.Diff(pp, got); diff != "" {
		t.Errorf("picture parameter mismatch (-want +got):\n%s", diff)
	}
}

func TestNegativeCropOrigin(t *testing.T) {
	pp := PictureParameter{Crop: Rectangle{X: -4, Y: -1}}

	b, err := pp.MarshalBinary()
	require.NoError(t, err)

	var got PictureParameter
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, int16(-4), got.Crop.X)
	assert.Equal(t, int16(-1), got.Crop.Y)
}

func TestIQMatrixLayout(t *testing.T) {
	p := parse(t, jpegtest.Options{Sampling: jpegtest.Sampling444, Quality: 75})

	m := NewIQMatrix(p)
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, IQMatrixSize)

	assert.Equal(t, []byte{1, 1, 0, 0}, b[:4])
	assert.Equal(t, p.Quant.Tables[0][:], b[4:68])
	assert.Equal(t, p.Quant.Tables[1][:], b[68:132])
	assert.Equal(t, make([]byte, 16), b[260:])

	var got IQMatrix
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, m, got)
}

func TestHuffmanTableLayout(t *testing.T) {
	p := parse(t, jpegtest.Options{Sampling: jpegtest.Sampling422})

	h := NewHuffmanTable(p)
	b, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, HuffmanTableSize)

	assert.Equal(t, []byte{1, 1}, b[:2])

	for i := 0; i < 2; i++ {
		o := 2 + i*huffmanTableStride
		tbl := p.Huffman.Tables[i]
		assert.Equal(t, tbl.NumDC[:], b[o:o+16])
		assert.Equal(t, tbl.DCValues[:], b[o+16:o+28])
		assert.Equal(t, tbl.NumAC[:], b[o+28:o+44])
		assert.Equal(t, tbl.ACValues[:], b[o+44:o+206])
		assert.Equal(t, []byte{0, 0}, b[o+206:o+208])
	}

	assert.Equal(t, make([]byte, 16), b[420:])

	var got HuffmanTable
	require.NoError(t, got.UnmarshalBinary(b))

	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("huffman table mismatch (-want +got):\n%s", diff)
	}
}

func TestSliceParameterLayout(t *testing.T) {
	p := parse(t, jpegtest.Options{Sampling: jpegtest.Sampling420, RestartInterval: 2})

	s := NewSliceParameter(p)
	assert.Equal(t, uint32(len(p.Data)), s.DataSize)
	assert.Zero(t, s.DataOffset)
	assert.Equal(t, uint32(5*3), s.NumMCUs)

	b, err := s.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, SliceParameterSize)

	assert.Equal(t, uint32(len(p.Data)), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, []byte{p.Picture.Components[0].ID, 0, 0}, b[20:23])
	assert.Equal(t, []byte{p.Picture.Components[1].ID, 1, 1}, b[23:26])
	assert.Equal(t, byte(3), b[32])
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(b[34:]))
	assert.Equal(t, uint32(15), binary.LittleEndian.Uint32(b[36:]))
	assert.Equal(t, make([]byte, 16), b[40:])

	var got SliceParameter
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, s, got)
}

func TestUnmarshalSize(t *testing.T) {
	tests := []struct {
		name string
		u    interface{ UnmarshalBinary([]byte) error }
		size int
	}{
		{"picture", new(PictureParameter), PictureParameterSize},
		{"iq", new(IQMatrix), IQMatrixSize},
		{"huffman", new(HuffmanTable), HuffmanTableSize},
		{"slice", new(SliceParameter), SliceParameterSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.u.UnmarshalBinary(make([]byte, tt.size-1)), ErrSize)
			assert.ErrorIs(t, tt.u.UnmarshalBinary(make([]byte, tt.size+1)), ErrSize)
			assert.NoError(t, tt.u.UnmarshalBinary(make([]byte, tt.size)))
		})
	}
}
