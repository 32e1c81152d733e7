package platform

// FourCC is a VA four-character pixel format code.
type FourCC uint32

// MakeFourCC packs four characters little-endian.
func MakeFourCC(c0, c1, c2, c3 byte) FourCC {
	return FourCC(uint32(c0) | uint32(c1)<<8 | uint32(c2)<<16 | uint32(c3)<<24)
}

// Surface pixel formats.
const (
	FourCCNV12 FourCC = 'N' | 'V'<<8 | '1'<<16 | '2'<<24 // Y plane, interleaved UV at half resolution.
	FourCCYUY2 FourCC = 'Y' | 'U'<<8 | 'Y'<<16 | '2'<<24 // Packed Y0 U Y1 V.
	FourCCYUYV FourCC = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24 // Mesa alias of YUY2.
	FourCC444P FourCC = '4' | '4'<<8 | '4'<<16 | 'P'<<24 // Three full-resolution planes.
	FourCC422V FourCC = '4' | '2'<<8 | '2'<<16 | 'V'<<24 // Three planes, chroma at half height.
	FourCCY800 FourCC = 'Y' | '8'<<8 | '0'<<16 | '0'<<24 // Luma only.
	FourCCRGBA FourCC = 'R' | 'G'<<8 | 'B'<<16 | 'A'<<24 // Packed R G B A.
	FourCCRGBP FourCC = 'R' | 'G'<<8 | 'B'<<16 | 'P'<<24 // Three planes R, G, B.
)

// String returns the four characters of the code.
func (f FourCC) String() string {
	b := [4]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}

	return string(b[:])
}

// Normalize maps driver aliases to the canonical code.
func (f FourCC) Normalize() FourCC {
	if f == FourCCYUYV {
		return FourCCYUY2
	}

	return f
}
