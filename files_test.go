//go:build linux

package vcnjpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vcnjpeg/internal/jpegtest"
	"github.com/gen2brain/vcnjpeg/internal/platform/sim"
)

func writeFiles(t *testing.T, n int) []string {
	t.Helper()

	dir := t.TempDir()

	var paths []string
	for i := 0; i < n; i++ {
		data, err := jpegtest.Encode(jpegtest.Gradient(64+8*i, 64), jpegtest.Options{Sampling: jpegtest.Sampling420})
		require.NoError(t, err)

		path := filepath.Join(dir, fmt.Sprintf("%d.jpg", i))
		require.NoError(t, os.WriteFile(path, data, 0o644))
		paths = append(paths, path)
	}

	return paths
}

func fileOptions(t *testing.T) *Options {
	t.Helper()
	t.Setenv(EnvVisibleDevices, "")

	return &Options{Arch: "gfx1100", Driver: sim.NewOpener(sim.Options{}), SysFS: fstest.MapFS{}}
}

func TestDecodeFiles(t *testing.T) {
	paths := writeFiles(t, 5)
	paths = append(paths, filepath.Join(t.TempDir(), "missing.jpg"))

	var (
		mu     sync.Mutex
		widths = map[string]int{}
		failed []string
	)

	err := DecodeFiles(context.Background(), paths, 3, fileOptions(t), DecodeParams{OutputFormat: RGB}, func(path string, info ImageInfo, img *Image, err error) error {
		mu.Lock()
		defer mu.Unlock()

		if err != nil {
			failed = append(failed, path)
			assert.Equal(t, StatusInvalidParameter, StatusOf(err), err)
			assert.Nil(t, img)

			return nil
		}

		widths[filepath.Base(path)] = info.Width[0]
		assert.Equal(t, info.Width[0]*3, img.Pitch[0])

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"0.jpg": 64, "1.jpg": 72, "2.jpg": 80, "3.jpg": 88, "4.jpg": 96}, widths)
	assert.Equal(t, paths[5:], failed)
}

func TestDecodeFilesStops(t *testing.T) {
	paths := writeFiles(t, 4)
	stop := errors.New("stop")

	var (
		mu    sync.Mutex
		calls int
	)

	err := DecodeFiles(context.Background(), paths, 1, fileOptions(t), DecodeParams{}, func(string, ImageInfo, *Image, error) error {
		mu.Lock()
		defer mu.Unlock()

		calls++

		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestDecodeFilesCanceled(t *testing.T) {
	paths := writeFiles(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := DecodeFiles(ctx, paths, 2, fileOptions(t), DecodeParams{}, func(string, ImageInfo, *Image, error) error {
		t.Error("unexpected call")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDecodeFilesNoDecoder(t *testing.T) {
	opts := fileOptions(t)
	opts.Driver = sim.NewOpener(sim.Options{NoDecoder: true})

	err := DecodeFiles(context.Background(), []string{"a.jpg"}, 1, opts, DecodeParams{}, func(string, ImageInfo, *Image, error) error {
		return nil
	})
	assert.Equal(t, StatusHWDecoderNotSupported, StatusOf(err))
}
