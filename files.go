package vcnjpeg

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
)

// FileFunc receives the result of decoding one file. Err carries the status
// of a failed decode, in which case img is nil. A non-nil return stops
// DecodeFiles.
type FileFunc func(path string, info ImageInfo, img *Image, err error) error

// DecodeFiles decodes paths with n decoders opened from opts, each decoding
// one file at a time. Files are dispatched in order to the first free decoder,
// so fn is called concurrently and in no particular order. Destinations are
// allocated with NewImage.
func DecodeFiles(ctx context.Context, paths []string, n int, opts *Options, params DecodeParams, fn FileFunc) (err error) {
	n = min(max(n, 1), max(len(paths), 1))

	free := make(chan *Decoder, n)
	defer func() {
		close(free)

		for d := range free {
			err = errors.Join(err, d.Close())
		}
	}()

	for i := 0; i < n; i++ {
		d, err := New(opts)
		if err != nil {
			return fmt.Errorf("decoder %d: %w", i, err)
		}

		free <- d
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)

	for _, path := range paths {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			d := <-free
			defer func() { free <- d }()

			info, img, err := d.decodeFile(path, &params)

			return fn(path, info, img, err)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

func (d *Decoder) decodeFile(path string, params *DecodeParams) (ImageInfo, *Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageInfo{}, nil, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}

	s := NewStream()
	if err := s.Parse(data); err != nil {
		return ImageInfo{}, nil, err
	}

	info, err := d.ImageInfo(s)
	if err != nil {
		return ImageInfo{}, nil, err
	}

	img, err := NewImage(info, params.OutputFormat, params.Crop)
	if err != nil {
		return info, nil, err
	}

	if err := d.Decode(s, params, img); err != nil {
		return info, nil, err
	}

	return info, img, nil
}
