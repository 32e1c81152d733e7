// Package vcnjpeg decodes baseline JPEG images on the VCN hardware JPEG
// decoder of AMD GPUs, through VA-API. Decoded surfaces are copied or color
// converted into caller-owned images on a compute stream.
package vcnjpeg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/gen2brain/vcnjpeg/internal/engine"
	"github.com/gen2brain/vcnjpeg/internal/parser"
	"github.com/gen2brain/vcnjpeg/internal/platform"
	"github.com/gen2brain/vcnjpeg/internal/transfer"
)

// Environment variables read by New.
const (
	EnvVisibleDevices = "HIP_VISIBLE_DEVICES"
	EnvLogLevel       = "VCNJPEG_LOG_LEVEL"
)

// Backend selects the decode implementation.
type Backend int

const (
	// BackendHardware decodes on the VCN JPEG block.
	BackendHardware Backend = iota
	// BackendHybrid splits decoding between the CPU and the GPU. It is not
	// implemented.
	BackendHybrid
)

// Options specifies decoder parameters.
type Options struct {
	Backend Backend
	// DeviceID selects the GPU among the visible devices.
	DeviceID int
	// Arch and DeviceName override the architecture (for example
	// "gfx942:sramecc+:xnack-") and the marketing name found in the KFD
	// topology.
	Arch, DeviceName string
	// RenderNode forces the DRM render node, for example
	// "/dev/dri/renderD128".
	RenderNode string
	// PoolCapacity is the number of surface sets kept per surface format.
	// Zero means twice the number of JPEG cores.
	PoolCapacity int
	// SyncRetries bounds the timed out waits of a decode. Zero means 64.
	SyncRetries int
	// Driver opens the VA driver of a render node. Nil means libva.
	Driver platform.DriverOpener
	// Runtime imports decoded surfaces and runs transfers. Nil means the host
	// runtime.
	Runtime platform.Runtime
	// SysFS is the root used to discover devices and partitions. Nil means
	// the host filesystem.
	SysFS fs.FS
	// Logger receives decoder logs. Nil means a logrus logger at error level,
	// or at the level named by VCNJPEG_LOG_LEVEL.
	Logger logrus.FieldLogger
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)

	if lvl, err := logrus.ParseLevel(os.Getenv(EnvLogLevel)); err == nil {
		l.SetLevel(lvl)
	}

	return l
}

// Decoder is a decode session bound to one device. Its methods are safe for
// concurrent use but run one at a time; parallel decoding needs several
// decoders.
type Decoder struct {
	mu      sync.Mutex
	log     logrus.FieldLogger
	engine  *engine.Engine
	stream  platform.Stream
	lastErr string
	closed  bool
}

// New opens a decoder.
func New(opts *Options) (*Decoder, error) {
	if opts == nil {
		opts = &Options{}
	}

	log := opts.Logger
	if log == nil {
		log = newLogger()
	}

	switch opts.Backend {
	case BackendHardware:
	case BackendHybrid:
		return nil, fmt.Errorf("hybrid backend: %w", ErrNotImplemented)
	default:
		return nil, fmt.Errorf("backend %d: %w", opts.Backend, ErrInvalidParameter)
	}

	e, err := engine.New(engine.Config{
		DeviceID:       opts.DeviceID,
		Arch:           opts.Arch,
		DeviceName:     opts.DeviceName,
		RenderNode:     opts.RenderNode,
		VisibleDevices: os.Getenv(EnvVisibleDevices),
		PoolCapacity:   opts.PoolCapacity,
		SyncRetries:    opts.SyncRetries,
		Open:           opts.Driver,
		Runtime:        opts.Runtime,
		SysFS:          opts.SysFS,
		Logger:         log,
	})
	if err != nil {
		switch st := classify(err); st {
		case StatusHWDecoderNotSupported, StatusImplementationNotSupported:
			return nil, fmt.Errorf("%w: %w", st.Err(), err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrNotInitialized, err)
		}
	}

	stream, err := e.Runtime().NewStream()
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("%w: compute stream: %w", ErrNotInitialized, err)
	}

	return &Decoder{log: log, engine: e, stream: stream}, nil
}

// Close releases the surfaces, the stream and the device. It is safe to call
// more than once.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	d.closed = true

	return errors.Join(d.stream.Close(), d.engine.Close())
}

// LastError returns the message of the last failed call.
func (d *Decoder) LastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastErr
}

// Cores returns the number of JPEG cores of the device, the largest group
// DecodeBatched decodes at once.
func (d *Decoder) Cores() int {
	return d.engine.Caps().Cores
}

// finish converts a panic into a runtime error, attaches a status to *err and
// records it as the last error. It must be deferred with the lock held.
func (d *Decoder) finish(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrRuntime, r)
	}

	if *err == nil {
		return
	}

	*err = wrap(*err)
	d.lastErr = (*err).Error()

	d.log.WithError(*err).WithField("status", StatusOf(*err).Name()).Warn("decoder call failed")
}

func (d *Decoder) check() error {
	if d.closed {
		return fmt.Errorf("decoder closed: %w", ErrNotInitialized)
	}

	return nil
}

// Stream is a parsed JPEG stream. It borrows the parsed buffer, which must not
// change until the stream is parsed again or dropped.
type Stream struct {
	params *parser.Params
}

// NewStream returns an empty stream.
func NewStream() *Stream {
	return &Stream{}
}

// Parse parses a baseline JPEG image into s. On failure s holds no stream.
func (s *Stream) Parse(data []byte) error {
	if s == nil {
		return fmt.Errorf("nil stream: %w", ErrInvalidParameter)
	}

	s.params = nil

	p, err := parser.Parse(data)
	if err != nil {
		return wrap(err)
	}

	s.params = p

	return nil
}

func (s *Stream) parsed() (*parser.Params, error) {
	if s == nil || s.params == nil {
		return nil, fmt.Errorf("stream not parsed: %w", ErrInvalidParameter)
	}

	return s.params, nil
}

// ImageInfo returns the geometry of a parsed stream.
func (d *Decoder) ImageInfo(s *Stream) (info ImageInfo, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.finish(&err)

	if err := d.check(); err != nil {
		return ImageInfo{}, err
	}

	p, err := s.parsed()
	if err != nil {
		return ImageInfo{}, err
	}

	return imageInfo(p), nil
}

// item validates the parameters of one decode.
func item(p *parser.Params, params *DecodeParams) (engine.Item, error) {
	if !params.OutputFormat.valid() {
		return engine.Item{}, fmt.Errorf("output format %d: %w", params.OutputFormat, ErrInvalidParameter)
	}

	it := engine.Item{Params: p, Output: params.OutputFormat.output()}

	w, h := p.Picture.Width, p.Picture.Height
	if c := params.Crop; c.valid(w, h) {
		if (c.Right-c.Left)&1 != 0 || (c.Bottom-c.Top)&1 != 0 {
			return engine.Item{}, fmt.Errorf("crop %dx%d is not even: %w", c.Right-c.Left, c.Bottom-c.Top, ErrInvalidParameter)
		}

		if c.Left < 0 || c.Top < 0 || c.Right > w || c.Bottom > h {
			return engine.Item{}, fmt.Errorf("crop %v outside %dx%d: %w", c.rect(), w, h, ErrInvalidParameter)
		}

		it.Crop = c.rect()
	}

	return it, nil
}

// complete enqueues the transfer of the planes of synced surface s into dst.
// The surface stays busy until recycle drains the stream.
func (d *Decoder) complete(s platform.SurfaceID, it engine.Item, format OutputFormat, dst *Image) error {
	m, err := d.engine.Mapping(s)
	if err != nil {
		return err
	}

	w, h := it.Params.Picture.Width, it.Params.Picture.Height

	return transfer.Run(d.stream, m, dst.transfer(), transfer.Request{
		Format:    transfer.Format(format),
		Width:     w,
		Height:    h,
		Crop:      it.Crop,
		NativeROI: d.engine.NativeROI(it.Crop, w, h),
	})
}

// recycle waits for the stream, then returns surfaces to the pool. The entries
// of failed surfaces are dropped instead.
func (d *Decoder) recycle(surfaces, failed []platform.SurfaceID) error {
	err := d.stream.Synchronize()

	for _, s := range surfaces {
		_ = d.engine.Release(s)
	}

	for _, s := range failed {
		_ = d.engine.Discard(s)
	}

	return err
}

// Decode decodes s into dst, which must be sized for the output format, for
// example with ChannelSizes.
func (d *Decoder) Decode(s *Stream, params *DecodeParams, dst *Image) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.finish(&err)

	if err := d.check(); err != nil {
		return err
	}

	if params == nil || dst == nil {
		return fmt.Errorf("nil decode parameters or destination: %w", ErrInvalidParameter)
	}

	p, err := s.parsed()
	if err != nil {
		return err
	}

	it, err := item(p, params)
	if err != nil {
		return err
	}

	surface, err := d.engine.Submit(it)
	if err != nil {
		return err
	}

	var failed []platform.SurfaceID
	if err = d.engine.Sync(surface); err != nil {
		failed = append(failed, surface)
	} else {
		err = d.complete(surface, it, params.OutputFormat, dst)
	}

	return errors.Join(err, d.recycle([]platform.SurfaceID{surface}, failed))
}

// DecodeBatched decodes every stream into its destination. Params holds
// either one entry for all streams or one per stream. Streams are submitted
// in groups of at most Cores, and each group is transferred before the next
// one reuses its surfaces. A failure aborts the batch and leaves the
// destinations undefined.
func (d *Decoder) DecodeBatched(streams []*Stream, params []*DecodeParams, dsts []*Image) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.finish(&err)

	if err := d.check(); err != nil {
		return err
	}

	n := len(streams)
	if n == 0 || len(dsts) != n || (len(params) != 1 && len(params) != n) {
		return fmt.Errorf("batch of %d streams, %d parameters and %d destinations: %w", n, len(params), len(dsts), ErrInvalidParameter)
	}

	items := make([]engine.Item, n)
	formats := make([]OutputFormat, n)

	for i, s := range streams {
		dp := params[min(i, len(params)-1)]
		if dp == nil || dsts[i] == nil {
			return fmt.Errorf("item %d: nil decode parameters or destination: %w", i, ErrInvalidParameter)
		}

		p, err := s.parsed()
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}

		if items[i], err = item(p, dp); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}

		formats[i] = dp.OutputFormat
	}

	for _, group := range lo.Chunk(lo.Range(n), d.engine.Caps().Cores) {
		if err := d.decodeGroup(group, items, formats, dsts); err != nil {
			return err
		}
	}

	return nil
}

func (d *Decoder) decodeGroup(group []int, items []engine.Item, formats []OutputFormat, dsts []*Image) error {
	surfaces, err := d.engine.SubmitBatched(lo.Map(group, func(i int, _ int) engine.Item { return items[i] }))
	if err != nil {
		return err
	}

	var failed []platform.SurfaceID

	for j, s := range surfaces {
		i := group[j]

		if err = d.engine.Sync(s); err != nil {
			failed = append(failed, s)
		} else {
			err = d.complete(s, items[i], formats[i], dsts[i])
		}

		if err != nil {
			// The rest of the group may still be decoding into entries
			// shared with the failed surface.
			for _, rest := range surfaces[j+1:] {
				if d.engine.Sync(rest) != nil {
					failed = append(failed, rest)
				}
			}

			err = fmt.Errorf("item %d: %w", i, err)

			break
		}
	}

	return errors.Join(err, d.recycle(surfaces, failed))
}
