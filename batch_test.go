//go:build linux

package vcnjpeg

import (
	"bytes"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vcnjpeg/internal/jpegtest"
	"github.com/gen2brain/vcnjpeg/internal/platform"
	"github.com/gen2brain/vcnjpeg/internal/platform/hostrt"
	"github.com/gen2brain/vcnjpeg/internal/platform/sim"
	"github.com/gen2brain/vcnjpeg/internal/strided"
)

// deferredRuntime imports memory like the host runtime, but its streams run
// nothing until they are synchronized.
type deferredRuntime struct {
	*hostrt.Runtime
}

func (deferredRuntime) NewStream() (platform.Stream, error) {
	return &deferredStream{}, nil
}

type deferredStream struct {
	ops []func() error
}

func (s *deferredStream) Memcpy(dst, src []byte) error {
	if len(dst) < len(src) {
		return strided.ErrBounds
	}

	s.ops = append(s.ops, func() error {
		copy(dst, src)
		return nil
	})

	return nil
}

func (s *deferredStream) Memcpy2D(dst []byte, dstPitch int, src []byte, srcPitch int, width, height int) error {
	if err := strided.Check(dst, dstPitch, src, srcPitch, width, height); err != nil {
		return err
	}

	s.ops = append(s.ops, func() error {
		return strided.Copy(dst, dstPitch, src, srcPitch, width, height)
	})

	return nil
}

func (s *deferredStream) Launch(k platform.Kernel) error {
	if k == nil {
		return errors.New("nil kernel")
	}

	s.ops = append(s.ops, func() error {
		k.Run(0, k.Grid())
		return nil
	})

	return nil
}

func (s *deferredStream) Synchronize() error {
	ops := s.ops
	s.ops = nil

	for _, op := range ops {
		if err := op(); err != nil {
			return err
		}
	}

	return nil
}

func (s *deferredStream) Close() error {
	return s.Synchronize()
}

func runtimes() map[string]platform.Runtime {
	return map[string]platform.Runtime{
		"host":     hostrt.New(),
		"deferred": deferredRuntime{hostrt.New()},
	}
}

// solid encodes a 64x64 image of one gray level.
func solid(t *testing.T, level uint8, o jpegtest.Options) []byte {
	t.Helper()

	m := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range m.Pix {
		m.Pix[i] = level
	}

	data, err := jpegtest.Encode(m, o)
	require.NoError(t, err)

	return data
}

// corruptRestart renumbers the first restart marker of the entropy segment.
func corruptRestart(t *testing.T, data []byte) []byte {
	t.Helper()

	sos := bytes.Index(data, []byte{0xFF, 0xDA})
	require.Positive(t, sos)

	i := bytes.Index(data[sos:], []byte{0xFF, 0xD0})
	require.Positive(t, i, "no restart marker")

	out := bytes.Clone(data)
	out[sos+i+1] = 0xD5

	return out
}

// lumaBatch parses every image and allocates a luma destination for it.
func lumaBatch(t *testing.T, d *Decoder, images ...[]byte) ([]*Stream, []*Image) {
	t.Helper()

	var (
		streams []*Stream
		dsts    []*Image
	)

	for _, data := range images {
		s := NewStream()
		require.NoError(t, s.Parse(data))

		info, err := d.ImageInfo(s)
		require.NoError(t, err)

		img, err := NewImage(info, Y, Crop{})
		require.NoError(t, err)

		streams = append(streams, s)
		dsts = append(dsts, img)
	}

	return streams, dsts
}

func assertLevel(t *testing.T, img *Image, level uint8, msg string) {
	t.Helper()

	worst := 0
	for y := 0; y < 64; y++ {
		for _, v := range img.Channel[0][y*img.Pitch[0]:][:64] {
			worst = max(worst, absDiff(v, level))
		}
	}

	assert.LessOrEqual(t, worst, 2, "%s: level %d", msg, level)
}

func TestDecodeBatchedReuse(t *testing.T) {
	levels := []uint8{20, 80, 160, 240}

	for name, rt := range runtimes() {
		t.Run(name, func(t *testing.T) {
			d, drv := newDecoder(t, sim.Options{}, Options{Runtime: rt})
			require.Equal(t, 2, d.Cores())

			var images [][]byte
			for _, level := range levels {
				images = append(images, solid(t, level, jpegtest.Options{Sampling: jpegtest.Sampling444}))
			}

			streams, dsts := lumaBatch(t, d, images...)

			for round := 0; round < 2; round++ {
				require.NoError(t, d.DecodeBatched(streams, []*DecodeParams{{OutputFormat: Y}}, dsts))

				for i, level := range levels {
					assertLevel(t, dsts[i], level, name)
				}
			}

			// Both groups of both rounds decoded into one entry of two surfaces.
			st := drv.Stats()
			assert.Equal(t, 8, st.Decodes)
			assert.Equal(t, 2, st.Surfaces)
			assert.Equal(t, 1, st.Contexts)
			assert.Equal(t, 2, st.Exports)
		})
	}
}

func TestDecodeBatchedFailure(t *testing.T) {
	for name, rt := range runtimes() {
		t.Run(name, func(t *testing.T) {
			d, drv := newDecoder(t, sim.Options{}, Options{Runtime: rt})

			o := jpegtest.Options{Sampling: jpegtest.Sampling444, RestartInterval: 4}
			good := solid(t, 80, o)
			bad := corruptRestart(t, solid(t, 160, o))

			streams, dsts := lumaBatch(t, d, good, bad, good, good)

			err := d.DecodeBatched(streams, []*DecodeParams{{OutputFormat: Y}}, dsts)
			assert.Equal(t, StatusRuntimeError, StatusOf(err), err)
			assert.ErrorContains(t, err, "item 1")

			// The first group was rendered and dropped, the second was never
			// submitted. The copy of item 0 ran before its surface went away.
			st := drv.Stats()
			assert.Equal(t, 2, st.Decodes)
			assert.Zero(t, st.Surfaces)
			assert.Zero(t, st.Contexts)
			assertLevel(t, dsts[0], 80, name)

			streams, dsts = lumaBatch(t, d, good, good, good)
			require.NoError(t, d.DecodeBatched(streams, []*DecodeParams{{OutputFormat: Y}}, dsts))

			for i := range dsts {
				assertLevel(t, dsts[i], 80, name)
			}
		})
	}
}

func TestDecodeSyncFailureDeferred(t *testing.T) {
	d, drv := newDecoder(t, sim.Options{}, Options{Runtime: deferredRuntime{hostrt.New()}})

	bad := corruptRestart(t, solid(t, 160, jpegtest.Options{Sampling: jpegtest.Sampling444, RestartInterval: 4}))
	streams, dsts := lumaBatch(t, d, bad)

	err := d.Decode(streams[0], &DecodeParams{OutputFormat: Y}, dsts[0])
	assert.Equal(t, StatusRuntimeError, StatusOf(err), err)
	assert.Zero(t, drv.Stats().Surfaces)

	good := solid(t, 20, jpegtest.Options{Sampling: jpegtest.Sampling444})
	streams, dsts = lumaBatch(t, d, good)
	require.NoError(t, d.Decode(streams[0], &DecodeParams{OutputFormat: Y}, dsts[0]))
	assertLevel(t, dsts[0], 20, "after failure")
}
