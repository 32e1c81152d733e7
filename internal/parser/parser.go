// Package parser turns a baseline JPEG byte stream into the parameter records
// submitted to the hardware decoder.
package parser

import (
	"errors"
	"fmt"
)

// Standard error types for stream parsing.
var (
	ErrBadJPEG     = errors.New("bad jpeg")
	ErrUnsupported = errors.New("unsupported jpeg")
)

// Table capacities of the hardware parameter buffers.
const (
	MaxComponents    = 3
	MaxQuantTables   = 4
	MaxHuffmanTables = 2
	MaxDCValues      = 12
	MaxACValues      = 162
)

// JPEG markers.
const (
	markerSOF0 = 0xC0
	markerSOF1 = 0xC1
	markerDHT  = 0xC4
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerDQT  = 0xDB
	markerDRI  = 0xDD
	markerAPP1 = 0xE1
)

// Subsampling is the chroma subsampling of a stream.
type Subsampling int

const (
	Sub444 Subsampling = iota
	Sub440
	Sub422
	Sub420
	Sub411
	Sub400
	SubUnknown
)

// String returns the conventional name of the subsampling.
func (s Subsampling) String() string {
	switch s {
	case Sub444:
		return "4:4:4"
	case Sub440:
		return "4:4:0"
	case Sub422:
		return "4:2:2"
	case Sub420:
		return "4:2:0"
	case Sub411:
		return "4:1:1"
	case Sub400:
		return "4:0:0"
	default:
		return "unknown"
	}
}

// Component is a frame component as declared by the SOF segment.
type Component struct {
	ID       uint8 // Component identifier.
	H, V     uint8 // Horizontal and vertical sampling factors.
	QuantSel uint8 // Quantization table selector.
}

// Picture holds the frame header.
type Picture struct {
	Width, Height int
	NumComponents int
	Components    [MaxComponents]Component
}

// QuantTables holds the quantization tables in zig-zag order.
type QuantTables struct {
	Load   [MaxQuantTables]bool
	Tables [MaxQuantTables][64]uint8
}

// HuffmanTable is one DC/AC table pair.
type HuffmanTable struct {
	NumDC    [16]uint8
	DCValues [MaxDCValues]uint8
	NumAC    [16]uint8
	ACValues [MaxACValues]uint8
}

// HuffmanTables holds the Huffman table pairs.
type HuffmanTables struct {
	Load   [MaxHuffmanTables]bool
	Tables [MaxHuffmanTables]HuffmanTable
}

// ScanComponent holds the table selectors of one scan component.
type ScanComponent struct {
	Selector uint8
	DC, AC   uint8
}

// Slice holds the scan header and the entropy-coded segment geometry.
type Slice struct {
	NumComponents   int
	Components      [MaxComponents]ScanComponent
	RestartInterval int
	NumMCUs         int
	DataOffset      int // Offset of the entropy-coded data in the source buffer.
}

// Params is the parse result of a single stream. It is created fresh on every
// call to Parse and borrows its Data from the parsed buffer.
type Params struct {
	Picture     Picture
	Quant       QuantTables
	Huffman     HuffmanTables
	Slice       Slice
	Subsampling Subsampling
	Data        []byte // Entropy-coded segment, a view into the source buffer.
	Exif        []byte // TIFF payload of the first APP1 Exif segment, if any.
}

// scanner holds the per-call cursor state.
type scanner struct {
	data   []byte // Input buffer.
	pos    int    // Current position index in the input buffer.
	length int    // Remaining payload of the current segment.
	p      *Params
}

// Parse parses a baseline JPEG stream. On failure no partial result is returned.
func Parse(data []byte) (*Params, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, fmt.Errorf("missing SOI marker: %w", ErrBadJPEG)
	}

	s := &scanner{data: data, pos: 2, p: new(Params)}

	var sofFound, dhtFound, dqtFound, sosFound bool

	for !sosFound {
		// Skip fill bytes.
		for s.pos < len(s.data) && s.data[s.pos] == 0xFF {
			s.pos++
		}

		if s.pos >= len(s.data) {
			return nil, fmt.Errorf("unexpected end of stream before SOS: %w", ErrBadJPEG)
		}

		marker := s.data[s.pos]
		s.pos++

		switch {
		case marker == markerSOF0 || marker == markerSOF1:
			if err := s.parseSOF(); err != nil {
				return nil, err
			}

			sofFound = true
		case marker == markerDHT:
			if err := s.parseDHT(); err != nil {
				return nil, err
			}

			dhtFound = true
		case marker == markerDQT:
			if err := s.parseDQT(); err != nil {
				return nil, err
			}

			dqtFound = true
		case marker == markerDRI:
			if err := s.parseDRI(); err != nil {
				return nil, err
			}
		case marker == markerSOS:
			if !sofFound {
				return nil, fmt.Errorf("scan before frame header: %w", ErrBadJPEG)
			}

			if err := s.parseSOS(); err != nil {
				return nil, err
			}

			sosFound = true
		case marker >= 0xC2 && marker <= 0xCF && marker != markerDHT && marker != 0xC8 && marker != 0xCC:
			return nil, fmt.Errorf("frame type 0x%02X: %w", marker, ErrUnsupported)
		case marker == markerAPP1:
			if err := s.parseAPP1(); err != nil {
				return nil, err
			}
		case marker == markerSOI || marker == markerEOI || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01:
			// Standalone markers carry no length.
		default:
			if err := s.skipSegment(); err != nil {
				return nil, err
			}
		}
	}

	if !dhtFound {
		return nil, fmt.Errorf("no Huffman table: %w", ErrBadJPEG)
	}

	if !dqtFound {
		return nil, fmt.Errorf("no quantization table: %w", ErrBadJPEG)
	}

	s.parseEOI()

	return s.p, nil
}

// decode16 reads a 16-bit big-endian integer at the specified offset from the cursor.
func (s *scanner) decode16(offset int) int {
	p := s.pos + offset

	return (int(s.data[p]) << 8) | int(s.data[p+1])
}

// decodeLength reads the segment length field and checks it against the buffer.
func (s *scanner) decodeLength() error {
	if len(s.data)-s.pos < 2 {
		return fmt.Errorf("truncated segment length: %w", ErrBadJPEG)
	}

	length := s.decode16(0)
	if length < 2 {
		return fmt.Errorf("segment length %d: %w", length, ErrBadJPEG)
	}

	if s.pos+length > len(s.data) {
		return fmt.Errorf("segment length %d exceeds stream: %w", length, ErrBadJPEG)
	}

	s.length = length - 2
	s.pos += 2

	return nil
}

// skip consumes count bytes of the current segment payload.
func (s *scanner) skip(count int) error {
	if count > s.length {
		return fmt.Errorf("segment overrun: %w", ErrBadJPEG)
	}

	s.pos += count
	s.length -= count

	return nil
}

// skipSegment skips a length-carrying segment.
func (s *scanner) skipSegment() error {
	if err := s.decodeLength(); err != nil {
		return err
	}

	return s.skip(s.length)
}

// parseAPP1 records the payload of an Exif segment. Other APP1 segments,
// such as XMP, are skipped.
func (s *scanner) parseAPP1() error {
	if err := s.decodeLength(); err != nil {
		return err
	}

	const header = "Exif\x00\x00"
	if s.p.Exif == nil && s.length > len(header) && string(s.data[s.pos:s.pos+len(header)]) == header {
		s.p.Exif = s.data[s.pos+len(header) : s.pos+s.length]
	}

	return s.skip(s.length)
}

// parseSOF decodes the frame header.
func (s *scanner) parseSOF() error {
	if err := s.decodeLength(); err != nil {
		return err
	}

	if s.length < 6 {
		return fmt.Errorf("short frame header: %w", ErrBadJPEG)
	}

	pic := &s.p.Picture
	pic.Height = s.decode16(1)
	pic.Width = s.decode16(3)
	pic.NumComponents = int(s.data[s.pos+5])

	if pic.Width == 0 || pic.Height == 0 {
		return fmt.Errorf("invalid dimensions %dx%d: %w", pic.Width, pic.Height, ErrBadJPEG)
	}

	if pic.NumComponents == 0 || pic.NumComponents > MaxComponents {
		return fmt.Errorf("invalid number of components %d: %w", pic.NumComponents, ErrBadJPEG)
	}

	if err := s.skip(6); err != nil {
		return err
	}

	if s.length < pic.NumComponents*3 {
		return fmt.Errorf("short frame header: %w", ErrBadJPEG)
	}

	for i := 0; i < pic.NumComponents; i++ {
		c := &pic.Components[i]
		c.ID = s.data[s.pos]
		c.H = s.data[s.pos+1] >> 4
		c.V = s.data[s.pos+1] & 0x0F
		c.QuantSel = s.data[s.pos+2]

		if c.QuantSel >= MaxQuantTables {
			return fmt.Errorf("invalid quantization table selector %d: %w", c.QuantSel, ErrBadJPEG)
		}

		if err := s.skip(3); err != nil {
			return err
		}
	}

	// The MCU count follows the first component's sampling factors.
	c0 := pic.Components[0]
	if c0.H == 0 || c0.V == 0 {
		return fmt.Errorf("invalid sampling factors %dx%d: %w", c0.H, c0.V, ErrBadJPEG)
	}

	mcuW, mcuH := int(c0.H)*8, int(c0.V)*8
	s.p.Slice.NumMCUs = ((pic.Width + mcuW - 1) / mcuW) * ((pic.Height + mcuH - 1) / mcuH)

	c := pic.Components
	s.p.Subsampling = ChromaSubsampling(c[0].H, c[1].H, c[2].H, c[0].V, c[1].V, c[2].V)

	return s.skip(s.length)
}

// parseDQT decodes one or more 8-bit quantization tables.
func (s *scanner) parseDQT() error {
	if err := s.decodeLength(); err != nil {
		return err
	}

	for s.length > 0 {
		i := int(s.data[s.pos])
		if i>>4 != 0 {
			return fmt.Errorf("16-bit quantization table: %w", ErrBadJPEG)
		}

		if i >= MaxQuantTables {
			return fmt.Errorf("invalid quantization table index %d: %w", i, ErrBadJPEG)
		}

		if s.length < 65 {
			return fmt.Errorf("short quantization table: %w", ErrBadJPEG)
		}

		copy(s.p.Quant.Tables[i][:], s.data[s.pos+1:s.pos+65])
		s.p.Quant.Load[i] = true

		if err := s.skip(65); err != nil {
			return err
		}
	}

	return nil
}

// parseDHT decodes one or more Huffman table specifications.
func (s *scanner) parseDHT() error {
	if err := s.decodeLength(); err != nil {
		return err
	}

	for s.length > 0 {
		if s.length < 17 {
			return fmt.Errorf("short Huffman table: %w", ErrBadJPEG)
		}

		index := s.data[s.pos]
		isAC := index&0xF0 != 0
		id := int(index & 0x0F)

		if id >= MaxHuffmanTables {
			return fmt.Errorf("invalid Huffman table id %d: %w", id, ErrBadJPEG)
		}

		t := &s.p.Huffman.Tables[id]
		counts := s.data[s.pos+1 : s.pos+17]

		var n int
		for _, num := range counts {
			n += int(num)
		}

		if err := s.skip(17); err != nil {
			return err
		}

		if n > s.length {
			return fmt.Errorf("Huffman values exceed segment: %w", ErrBadJPEG)
		}

		values := s.data[s.pos : s.pos+n]
		if isAC {
			if n > MaxACValues {
				return fmt.Errorf("AC Huffman table with %d values: %w", n, ErrBadJPEG)
			}

			copy(t.NumAC[:], counts)
			t.ACValues = [MaxACValues]uint8{}
			copy(t.ACValues[:], values)
		} else {
			if n > MaxDCValues {
				return fmt.Errorf("DC Huffman table with %d values: %w", n, ErrBadJPEG)
			}

			copy(t.NumDC[:], counts)
			t.DCValues = [MaxDCValues]uint8{}
			copy(t.DCValues[:], values)
		}

		s.p.Huffman.Load[id] = true

		if err := s.skip(n); err != nil {
			return err
		}
	}

	return nil
}

// parseDRI decodes the restart interval.
func (s *scanner) parseDRI() error {
	if err := s.decodeLength(); err != nil {
		return err
	}

	if s.length != 2 {
		return fmt.Errorf("invalid DRI length %d: %w", s.length+2, ErrBadJPEG)
	}

	s.p.Slice.RestartInterval = s.decode16(0)

	return s.skip(2)
}

// parseSOS decodes the scan header and leaves the cursor at the entropy-coded data.
func (s *scanner) parseSOS() error {
	if err := s.decodeLength(); err != nil {
		return err
	}

	if s.length < 1 {
		return fmt.Errorf("short scan header: %w", ErrBadJPEG)
	}

	n := int(s.data[s.pos])
	if n == 0 || n > MaxComponents {
		return fmt.Errorf("invalid number of scan components %d: %w", n, ErrBadJPEG)
	}

	if err := s.skip(1); err != nil {
		return err
	}

	if s.length < n*2+3 {
		return fmt.Errorf("short scan header: %w", ErrBadJPEG)
	}

	sl := &s.p.Slice
	sl.NumComponents = n

	for i := 0; i < n; i++ {
		sel := s.data[s.pos]
		table := s.data[s.pos+1]

		c := &sl.Components[i]
		c.Selector = sel
		c.DC = table >> 4
		c.AC = table & 0x0F

		if c.AC >= 4 {
			return fmt.Errorf("invalid AC table selector %d: %w", c.AC, ErrBadJPEG)
		}

		if c.DC >= 4 {
			return fmt.Errorf("invalid DC table selector %d: %w", c.DC, ErrBadJPEG)
		}

		if sel != s.p.Picture.Components[i].ID {
			return fmt.Errorf("scan component %d does not match frame component %d: %w",
				sel, s.p.Picture.Components[i].ID, ErrBadJPEG)
		}

		if err := s.skip(2); err != nil {
			return err
		}
	}

	// Spectral selection and successive approximation are fixed for baseline.
	if err := s.skip(3); err != nil {
		return err
	}

	return s.skip(s.length)
}

// parseEOI records the entropy-coded segment up to, not including, the EOI
// marker. A stream without EOI runs to the end of the buffer.
func (s *scanner) parseEOI() {
	start := s.pos
	end := start

	for end < len(s.data)-1 && !(s.data[end] == 0xFF && s.data[end+1] == markerEOI) {
		end++
	}

	if end >= len(s.data)-1 {
		end = len(s.data)
	}

	s.p.Slice.DataOffset = start
	s.p.Data = s.data[start:end:end]
}

// ChromaSubsampling classifies the sampling-factor triples of the first three
// components. Unrecognized combinations yield SubUnknown.
func ChromaSubsampling(h1, h2, h3, v1, v2, v3 uint8) Subsampling {
	type triple struct{ h1, h2, h3, v1, v2, v3 uint8 }

	switch (triple{h1, h2, h3, v1, v2, v3}) {
	case triple{1, 1, 1, 1, 1, 1}, triple{2, 2, 2, 2, 2, 2}, triple{4, 4, 4, 4, 4, 4}:
		return Sub444
	case triple{1, 1, 1, 2, 1, 1}:
		return Sub440
	case triple{2, 1, 1, 1, 1, 1}, triple{2, 1, 1, 2, 2, 2}, triple{2, 2, 2, 2, 1, 1}:
		return Sub422
	case triple{2, 1, 1, 2, 1, 1}:
		return Sub420
	case triple{4, 1, 1, 1, 1, 1}:
		return Sub411
	case triple{1, 0, 0, 1, 0, 0}, triple{4, 0, 0, 4, 0, 0}:
		return Sub400
	default:
		return SubUnknown
	}
}
