package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gen2brain/vcnjpeg"
)

type decodeFlags struct {
	output   string
	format   string
	crop     string
	threads  int
	batch    int
	compress bool
	qoi      bool
}

func newDecodeCmd(g *globalFlags) *cobra.Command {
	f := &decodeFlags{}

	cmd := &cobra.Command{
		Use:   "decode [flags] path...",
		Short: "Decode JPEG files or directories of JPEG files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, g, f, args)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "directory the decoded images are written to")
	fl.StringVar(&f.format, "format", "native", "output format: native, yuv_planar, y, rgb or rgb_planar")
	fl.StringVar(&f.crop, "crop", "", "crop rectangle as left,top,right,bottom")
	fl.IntVarP(&f.threads, "threads", "t", 1, "number of decoders decoding in parallel")
	fl.IntVarP(&f.batch, "batch", "b", 0, "decode in batches of this size on one decoder")
	fl.BoolVar(&f.compress, "compress", false, "compress the written planes with zstd")
	fl.BoolVar(&f.qoi, "qoi", false, "write RGB output as QOI images")

	return cmd
}

// parseFormat accepts the format names with dashes or underscores.
func parseFormat(s string) (vcnjpeg.OutputFormat, error) {
	name := strings.ReplaceAll(strings.ToLower(s), "_", "-")

	for f := vcnjpeg.Native; f <= vcnjpeg.RGBPlanar; f++ {
		if f.String() == name {
			return f, nil
		}
	}

	return 0, fmt.Errorf("output format %q: %w", s, vcnjpeg.ErrInvalidParameter)
}

func parseCrop(s string) (vcnjpeg.Crop, error) {
	if s == "" {
		return vcnjpeg.Crop{}, nil
	}

	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return vcnjpeg.Crop{}, fmt.Errorf("crop %q is not left,top,right,bottom: %w", s, vcnjpeg.ErrInvalidParameter)
	}

	var v [4]int
	for i, field := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return vcnjpeg.Crop{}, fmt.Errorf("crop %q: %w", s, vcnjpeg.ErrInvalidParameter)
		}

		v[i] = n
	}

	return vcnjpeg.Crop{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}, nil
}

// collect expands directories into the JPEG files below them.
func collect(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}

		if !fi.IsDir() {
			files = append(files, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			switch strings.ToLower(filepath.Ext(path)) {
			case ".jpg", ".jpeg":
				if !d.IsDir() {
					files = append(files, path)
				}
			}

			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return files, nil
}

// stats counts decoded images.
type stats struct {
	mu      sync.Mutex
	images  int
	failed  int
	pixels  int
	started time.Time
}

func (s *stats) add(info vcnjpeg.ImageInfo, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.failed++
		return
	}

	s.images++
	s.pixels += info.Width[0] * info.Height[0]
}

func (s *stats) log(log logrus.FieldLogger) {
	elapsed := time.Since(s.started)

	log.WithFields(logrus.Fields{
		"images":  s.images,
		"failed":  s.failed,
		"elapsed": elapsed.Round(time.Millisecond),
		"mpixels": fmt.Sprintf("%.2f", float64(s.pixels)/1e6),
		"fps":     fmt.Sprintf("%.1f", float64(s.images)/max(elapsed.Seconds(), 1e-9)),
	}).Info("decode finished")
}

func runDecode(cmd *cobra.Command, g *globalFlags, f *decodeFlags, args []string) error {
	opts, log, err := g.options()
	if err != nil {
		return err
	}

	format, err := parseFormat(f.format)
	if err != nil {
		return err
	}

	crop, err := parseCrop(f.crop)
	if err != nil {
		return err
	}

	files, err := collect(args)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no JPEG files in %s: %w", strings.Join(args, ", "), vcnjpeg.ErrInvalidParameter)
	}

	params := vcnjpeg.DecodeParams{OutputFormat: format, Crop: crop}

	var sv *saver
	if f.output != "" {
		sv = &saver{dir: f.output, format: format, crop: crop, compress: f.compress, qoi: f.qoi}
	}

	st := &stats{started: time.Now()}

	done := func(path string, info vcnjpeg.ImageInfo, img *vcnjpeg.Image, err error) error {
		st.add(info, err)

		entry := log.WithField("file", path)
		if err != nil {
			entry.WithError(err).WithField("status", vcnjpeg.StatusOf(err).Name()).Warn("decode failed")
			return nil
		}

		entry = entry.WithFields(logrus.Fields{
			"size":        fmt.Sprintf("%dx%d", info.Width[0], info.Height[0]),
			"subsampling": info.Subsampling,
		})

		if sv != nil {
			name, err := sv.save(path, info, img)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			entry = entry.WithField("output", name)
		}

		entry.Debug("decoded")

		return nil
	}

	if f.batch > 1 {
		err = decodeBatches(opts, files, f.batch, &params, done)
	} else {
		err = vcnjpeg.DecodeFiles(cmd.Context(), files, f.threads, opts, params, done)
	}

	st.log(log)

	return err
}

// decodeBatches decodes files in groups of size on one decoder. A group that
// fails to decode is reported file by file.
func decodeBatches(opts *vcnjpeg.Options, files []string, size int, params *vcnjpeg.DecodeParams, done vcnjpeg.FileFunc) error {
	d, err := vcnjpeg.New(opts)
	if err != nil {
		return err
	}
	defer d.Close()

	for _, group := range lo.Chunk(files, size) {
		var (
			paths   []string
			streams []*vcnjpeg.Stream
			infos   []vcnjpeg.ImageInfo
			dsts    []*vcnjpeg.Image
		)

		for _, path := range group {
			s, info, img, err := prepare(d, path, params)
			if err != nil {
				if err := done(path, info, nil, err); err != nil {
					return err
				}

				continue
			}

			paths = append(paths, path)
			streams = append(streams, s)
			infos = append(infos, info)
			dsts = append(dsts, img)
		}

		if len(streams) == 0 {
			continue
		}

		err := d.DecodeBatched(streams, []*vcnjpeg.DecodeParams{params}, dsts)

		for i, path := range paths {
			img := dsts[i]
			if err != nil {
				img = nil
			}

			if err := done(path, infos[i], img, err); err != nil {
				return err
			}
		}
	}

	return nil
}

// prepare parses path and allocates its destination.
func prepare(d *vcnjpeg.Decoder, path string, params *vcnjpeg.DecodeParams) (*vcnjpeg.Stream, vcnjpeg.ImageInfo, *vcnjpeg.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vcnjpeg.ImageInfo{}, nil, fmt.Errorf("%w: %w", vcnjpeg.ErrInvalidParameter, err)
	}

	s := vcnjpeg.NewStream()
	if err := s.Parse(data); err != nil {
		return nil, vcnjpeg.ImageInfo{}, nil, err
	}

	info, err := d.ImageInfo(s)
	if err != nil {
		return nil, info, nil, err
	}

	img, err := vcnjpeg.NewImage(info, params.OutputFormat, params.Crop)
	if err != nil {
		return nil, info, nil, err
	}

	return s, info, img, nil
}
