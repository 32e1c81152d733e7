package vcnjpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNoExif is returned when a stream carries no Exif segment.
var ErrNoExif = errors.New("no exif data")

// EXIF tag constants
const (
	// Main IFD tags
	tagImageWidth     = 0x0100
	tagImageLength    = 0x0101
	tagMake           = 0x010F
	tagModel          = 0x0110
	tagOrientation    = 0x0112
	tagSoftware       = 0x0131
	tagDateTime       = 0x0132
	tagExifIFDPointer = 0x8769
	tagGPSIFDPointer  = 0x8825

	// EXIF SubIFD tags
	tagExposureTime     = 0x829A
	tagFNumber          = 0x829D
	tagISOSpeedRatings  = 0x8827
	tagDateTimeOriginal = 0x9003
	tagFocalLength      = 0x920A

	// GPS SubIFD tags
	tagGPSLatitudeRef  = 0x0001
	tagGPSLatitude     = 0x0002
	tagGPSLongitudeRef = 0x0003
	tagGPSLongitude    = 0x0004
)

// EXIF data type constants
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
)

// Exif holds the metadata of the Exif segment of a stream. Orientation is
// reported as stored; decoded planes are never rotated.
type Exif struct {
	Orientation   int // 1..8, zero when absent.
	Width, Height int
	Make, Model   string
	Software      string
	DateTime      string

	ExposureTime     float64
	FNumber          float64
	ISOSpeed         int
	FocalLength      float64
	DateTimeOriginal string

	GPSLatitude, GPSLongitude float64
}

// ifdEntry is one 12-byte directory entry.
type ifdEntry struct {
	tag, typ uint16
	count    uint32
	value    []byte // Value bytes, inline or at the stored offset.
}

type tiff struct {
	data  []byte
	order binary.ByteOrder
}

func (t *tiff) size(typ uint16, count uint32) int {
	switch typ {
	case typeShort:
		return 2 * int(count)
	case typeLong:
		return 4 * int(count)
	case typeRational:
		return 8 * int(count)
	default:
		return int(count)
	}
}

// entries reads the directory at offset. Entries pointing outside the data are
// dropped.
func (t *tiff) entries(offset int) []ifdEntry {
	if offset < 8 || offset+2 > len(t.data) {
		return nil
	}

	n := int(t.order.Uint16(t.data[offset:]))

	var out []ifdEntry
	for i := 0; i < n; i++ {
		p := offset + 2 + i*12
		if p+12 > len(t.data) {
			break
		}

		e := ifdEntry{
			tag:   t.order.Uint16(t.data[p:]),
			typ:   t.order.Uint16(t.data[p+2:]),
			count: t.order.Uint32(t.data[p+4:]),
		}

		size := t.size(e.typ, e.count)
		if size <= 4 {
			e.value = t.data[p+8 : p+8+size]
		} else {
			off := int(t.order.Uint32(t.data[p+8:]))
			if size < 0 || off < 0 || off+size > len(t.data) {
				continue
			}

			e.value = t.data[off : off+size]
		}

		out = append(out, e)
	}

	return out
}

func (t *tiff) uint(e ifdEntry) int {
	switch {
	case e.typ == typeShort && len(e.value) >= 2:
		return int(t.order.Uint16(e.value))
	case e.typ == typeLong && len(e.value) >= 4:
		return int(t.order.Uint32(e.value))
	case e.typ == typeByte && len(e.value) >= 1:
		return int(e.value[0])
	}

	return 0
}

func (t *tiff) string(e ifdEntry) string {
	if e.typ != typeASCII {
		return ""
	}

	for i, c := range e.value {
		if c == 0 {
			return string(e.value[:i])
		}
	}

	return string(e.value)
}

func (t *tiff) rational(e ifdEntry, i int) float64 {
	if e.typ != typeRational || len(e.value) < (i+1)*8 {
		return 0
	}

	num := t.order.Uint32(e.value[i*8:])
	den := t.order.Uint32(e.value[i*8+4:])
	if den == 0 {
		return 0
	}

	return float64(num) / float64(den)
}

// degrees converts a degrees, minutes, seconds triple.
func (t *tiff) degrees(e ifdEntry, ref string, negative string) float64 {
	if e.count != 3 {
		return 0
	}

	d := t.rational(e, 0) + t.rational(e, 1)/60 + t.rational(e, 2)/3600
	if ref == negative {
		d = -d
	}

	return d
}

// parseExif decodes a TIFF structure.
func parseExif(data []byte) (*Exif, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("exif data of %d bytes: %w", len(data), ErrBadJPEG)
	}

	t := &tiff{data: data}

	switch string(data[:2]) {
	case "II":
		t.order = binary.LittleEndian
	case "MM":
		t.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("exif byte order %q: %w", data[:2], ErrBadJPEG)
	}

	if t.order.Uint16(data[2:]) != 42 {
		return nil, fmt.Errorf("exif magic number: %w", ErrBadJPEG)
	}

	ifd := t.order.Uint32(data[4:])
	if ifd < 8 || uint64(ifd) >= uint64(len(data)) {
		return nil, fmt.Errorf("exif directory offset %d: %w", ifd, ErrBadJPEG)
	}

	x := &Exif{}

	var sub, gps int
	for _, e := range t.entries(int(ifd)) {
		switch e.tag {
		case tagOrientation:
			x.Orientation = t.uint(e)
		case tagImageWidth:
			x.Width = t.uint(e)
		case tagImageLength:
			x.Height = t.uint(e)
		case tagMake:
			x.Make = t.string(e)
		case tagModel:
			x.Model = t.string(e)
		case tagSoftware:
			x.Software = t.string(e)
		case tagDateTime:
			x.DateTime = t.string(e)
		case tagExifIFDPointer:
			sub = t.uint(e)
		case tagGPSIFDPointer:
			gps = t.uint(e)
		}
	}

	for _, e := range t.entries(sub) {
		switch e.tag {
		case tagExposureTime:
			x.ExposureTime = t.rational(e, 0)
		case tagFNumber:
			x.FNumber = t.rational(e, 0)
		case tagISOSpeedRatings:
			x.ISOSpeed = t.uint(e)
		case tagFocalLength:
			x.FocalLength = t.rational(e, 0)
		case tagDateTimeOriginal:
			x.DateTimeOriginal = t.string(e)
		}
	}

	var latRef, lonRef string
	var lat, lon ifdEntry
	for _, e := range t.entries(gps) {
		switch e.tag {
		case tagGPSLatitudeRef:
			latRef = t.string(e)
		case tagGPSLatitude:
			lat = e
		case tagGPSLongitudeRef:
			lonRef = t.string(e)
		case tagGPSLongitude:
			lon = e
		}
	}

	x.GPSLatitude = t.degrees(lat, latRef, "S")
	x.GPSLongitude = t.degrees(lon, lonRef, "W")

	return x, nil
}

// Exif decodes the Exif segment of a parsed stream.
func (s *Stream) Exif() (*Exif, error) {
	if s == nil || s.params == nil {
		return nil, fmt.Errorf("stream not parsed: %w", ErrInvalidParameter)
	}

	if s.params.Exif == nil {
		return nil, ErrNoExif
	}

	return parseExif(s.params.Exif)
}
