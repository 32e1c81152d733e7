// Package strided implements the pitch-aware two-dimensional copy shared by
// every plane transfer.
package strided

import (
	"errors"
	"fmt"
)

// ErrBounds is returned when a copy region does not fit its buffers.
var ErrBounds = errors.New("region out of bounds")

// Extent returns the number of bytes a region of height rows of width bytes
// spans in a buffer with the given pitch.
func Extent(pitch, width, height int) int {
	if height <= 0 || width <= 0 {
		return 0
	}

	return (height-1)*pitch + width
}

// Check validates a copy of height rows of width bytes between buffers with
// the given pitches.
func Check(dst []byte, dstPitch int, src []byte, srcPitch int, width, height int) error {
	if width < 0 || height < 0 {
		return fmt.Errorf("negative extent %dx%d: %w", width, height, ErrBounds)
	}

	if height > 1 && (width > dstPitch || width > srcPitch) {
		return fmt.Errorf("row of %d bytes exceeds pitch %d/%d: %w", width, dstPitch, srcPitch, ErrBounds)
	}

	if n := Extent(dstPitch, width, height); n > len(dst) {
		return fmt.Errorf("destination of %d bytes, need %d: %w", len(dst), n, ErrBounds)
	}

	if n := Extent(srcPitch, width, height); n > len(src) {
		return fmt.Errorf("source of %d bytes, need %d: %w", len(src), n, ErrBounds)
	}

	return nil
}

// Copy copies height rows of width bytes. Equal pitches spanning whole rows
// collapse into a single contiguous copy.
func Copy(dst []byte, dstPitch int, src []byte, srcPitch int, width, height int) error {
	if err := Check(dst, dstPitch, src, srcPitch, width, height); err != nil {
		return err
	}

	if width == 0 || height == 0 {
		return nil
	}

	if dstPitch == srcPitch && width == dstPitch {
		n := width * height
		copy(dst[:n], src[:n])

		return nil
	}

	for y := 0; y < height; y++ {
		copy(dst[y*dstPitch:y*dstPitch+width], src[y*srcPitch:y*srcPitch+width])
	}

	return nil
}
