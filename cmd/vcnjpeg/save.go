package main

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/xfmoulet/qoi"

	"github.com/gen2brain/vcnjpeg"
)

// plane is the written part of one channel.
type plane struct {
	rowBytes, rows int
}

// planes returns the channel geometry of a decode of info in format.
func planes(info vcnjpeg.ImageInfo, format vcnjpeg.OutputFormat, crop vcnjpeg.Crop) ([]plane, error) {
	w, h := outputSize(info, crop)
	hw, hh := (w+1)>>1, (h+1)>>1

	switch format {
	case vcnjpeg.Native:
		switch info.Subsampling {
		case vcnjpeg.Subsampling444:
			return []plane{{w, h}, {w, h}, {w, h}}, nil
		case vcnjpeg.Subsampling440:
			return []plane{{w, h}, {w, h >> 1}, {w, h >> 1}}, nil
		case vcnjpeg.Subsampling422:
			return []plane{{w * 2, h}}, nil
		case vcnjpeg.Subsampling420:
			return []plane{{w, h}, {w, h >> 1}}, nil
		case vcnjpeg.Subsampling400:
			return []plane{{w, h}}, nil
		}
	case vcnjpeg.YUVPlanar:
		switch info.Subsampling {
		case vcnjpeg.Subsampling444:
			return []plane{{w, h}, {w, h}, {w, h}}, nil
		case vcnjpeg.Subsampling440:
			return []plane{{w, h}, {w, hh}, {w, hh}}, nil
		case vcnjpeg.Subsampling422:
			return []plane{{w, h}, {hw, h}, {hw, h}}, nil
		case vcnjpeg.Subsampling420:
			return []plane{{w, h}, {hw, hh}, {hw, hh}}, nil
		case vcnjpeg.Subsampling400:
			return []plane{{w, h}}, nil
		}
	case vcnjpeg.Y:
		return []plane{{w, h}}, nil
	case vcnjpeg.RGB:
		return []plane{{w * 3, h}}, nil
	case vcnjpeg.RGBPlanar:
		return []plane{{w, h}, {w, h}, {w, h}}, nil
	}

	return nil, fmt.Errorf("%v output of %v: %w", format, info.Subsampling, vcnjpeg.ErrJPEGNotSupported)
}

// outputSize returns the picture size, or the crop size when the crop is
// valid.
func outputSize(info vcnjpeg.ImageInfo, crop vcnjpeg.Crop) (int, int) {
	w, h := info.Width[0], info.Height[0]

	cw, ch := crop.Right-crop.Left, crop.Bottom-crop.Top
	if cw > 0 && ch > 0 && cw <= w && ch <= h {
		return cw, ch
	}

	return w, h
}

// outputName returns the file name of a decoded image, as in
// "name_64x48_nv12.yuv".
func outputName(path string, info vcnjpeg.ImageInfo, format vcnjpeg.OutputFormat, crop vcnjpeg.Crop) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	w, h := outputSize(info, crop)

	ext, desc := "yuv", ""

	switch format {
	case vcnjpeg.Native:
		switch info.Subsampling {
		case vcnjpeg.Subsampling422:
			desc = "422_yuyv"
		case vcnjpeg.Subsampling420:
			desc = "nv12"
		default:
			desc = strings.ReplaceAll(info.Subsampling.String(), ":", "")
		}
	case vcnjpeg.YUVPlanar:
		desc = "planar"
	case vcnjpeg.Y:
		desc = "400"
	case vcnjpeg.RGB:
		ext, desc = "rgb", "packed"
	case vcnjpeg.RGBPlanar:
		ext, desc = "rgb", "planar"
	}

	return fmt.Sprintf("%s_%dx%d_%s.%s", base, w, h, desc, ext)
}

// saver writes decoded images into a directory.
type saver struct {
	dir      string
	format   vcnjpeg.OutputFormat
	crop     vcnjpeg.Crop
	compress bool
	qoi      bool
}

// save writes img and returns the path of the written file.
func (s *saver) save(path string, info vcnjpeg.ImageInfo, img *vcnjpeg.Image) (string, error) {
	name := filepath.Join(s.dir, outputName(path, info, s.format, s.crop))

	if s.qoi && (s.format == vcnjpeg.RGB || s.format == vcnjpeg.RGBPlanar) {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".qoi"
		return name, writeFile(name, func(w io.Writer) error { return s.writeQOI(w, info, img) })
	}

	ps, err := planes(info, s.format, s.crop)
	if err != nil {
		return "", err
	}

	if !s.compress {
		return name, writeFile(name, func(w io.Writer) error { return writePlanes(w, img, ps) })
	}

	name += ".zst"

	return name, writeFile(name, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(runtime.NumCPU()))
		if err != nil {
			return err
		}

		if err := writePlanes(enc, img, ps); err != nil {
			enc.Close()
			return err
		}

		return enc.Close()
	})
}

func writeFile(name string, fn func(io.Writer) error) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		_ = f.Close()
		return err
	}

	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// writePlanes writes the rows of each channel without their padding.
func writePlanes(w io.Writer, img *vcnjpeg.Image, ps []plane) error {
	for i, p := range ps {
		ch, pitch := img.Channel[i], img.Pitch[i]
		if p.rows > 0 && (p.rowBytes > pitch || (p.rows-1)*pitch+p.rowBytes > len(ch)) {
			return fmt.Errorf("channel %d holds %d bytes: %w", i, len(ch), vcnjpeg.ErrInvalidParameter)
		}

		for y := 0; y < p.rows; y++ {
			if _, err := w.Write(ch[y*pitch : y*pitch+p.rowBytes]); err != nil {
				return err
			}
		}
	}

	return nil
}

// writeQOI encodes an RGB or planar RGB decode.
func (s *saver) writeQOI(w io.Writer, info vcnjpeg.ImageInfo, img *vcnjpeg.Image) error {
	width, height := outputSize(info, s.crop)

	m := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := m.Pix[y*m.Stride:]

		for x := 0; x < width; x++ {
			if s.format == vcnjpeg.RGB {
				copy(row[x*4:x*4+3], img.Channel[0][y*img.Pitch[0]+x*3:])
			} else {
				for c := 0; c < 3; c++ {
					row[x*4+c] = img.Channel[c][y*img.Pitch[c]+x]
				}
			}

			row[x*4+3] = 0xFF
		}
	}

	return qoi.Encode(w, m)
}
