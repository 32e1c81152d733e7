package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gen2brain/vcnjpeg"
)

func newInfoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info path...",
		Short: "Print the geometry and Exif metadata of JPEG files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, _, err := g.options()
			if err != nil {
				return err
			}

			files, err := collect(args)
			if err != nil {
				return err
			}

			d, err := vcnjpeg.New(opts)
			if err != nil {
				return err
			}
			defer d.Close()

			for _, path := range files {
				if err := printInfo(cmd.OutOrStdout(), d, path); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}

			return nil
		},
	}
}

func printInfo(w io.Writer, d *vcnjpeg.Decoder, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	s := vcnjpeg.NewStream()
	if err := s.Parse(data); err != nil {
		return err
	}

	info, err := d.ImageInfo(s)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s: %dx%d %v, %d components\n", path, info.Width[0], info.Height[0], info.Subsampling, info.NumComponents)

	for i := 0; i < info.NumComponents; i++ {
		fmt.Fprintf(w, "  channel %d: %dx%d\n", i, info.Width[i], info.Height[i])
	}

	x, err := s.Exif()
	switch {
	case errors.Is(err, vcnjpeg.ErrNoExif):
		return nil
	case err != nil:
		return err
	}

	if x.Make != "" || x.Model != "" {
		fmt.Fprintf(w, "  camera: %s %s\n", x.Make, x.Model)
	}

	if x.Orientation != 0 {
		fmt.Fprintf(w, "  orientation: %d\n", x.Orientation)
	}

	if x.DateTimeOriginal != "" {
		fmt.Fprintf(w, "  taken: %s\n", x.DateTimeOriginal)
	}

	if x.GPSLatitude != 0 || x.GPSLongitude != 0 {
		fmt.Fprintf(w, "  gps: %.6f, %.6f\n", x.GPSLatitude, x.GPSLongitude)
	}

	return nil
}
