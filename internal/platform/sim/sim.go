//go:build linux

package sim

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gen2brain/vcnjpeg/internal/baseline"
	"github.com/gen2brain/vcnjpeg/internal/platform"
	"github.com/gen2brain/vcnjpeg/internal/vabuf"
)

// Options configure the simulated decode block.
type Options struct {
	// NativeRGB enables RGB32 and RGBP render targets.
	NativeRGB bool
	// NativeROI crops to the picture parameter crop rectangle while decoding.
	NativeROI bool
	// MaxWidth and MaxHeight are the reported picture limits. Zero reports
	// the attributes as not supported.
	MaxWidth, MaxHeight uint32
	// Modifiers enables the DRM format modifiers surface attribute.
	Modifiers bool
	// NoDecoder hides the JPEG baseline VLD entry point.
	NoDecoder bool
	// Timeouts is the number of times SyncSurface times out before each
	// decode completes.
	Timeouts int
}

// Stats counts live driver objects and completed operations.
type Stats struct {
	Configs, Contexts, Surfaces, Buffers int
	Decodes, Exports                     int
}

// Driver is a simulated display. It is safe for concurrent use.
type Driver struct {
	opts Options

	mu          sync.Mutex
	node        string
	initialized bool
	next        uint32
	configs     map[platform.ConfigID]struct{}
	contexts    map[platform.ContextID]*context
	surfaces    map[platform.SurfaceID]*surface
	buffers     map[platform.BufferID]*buffer
	decodes     int
	exports     int
}

type context struct {
	targets []platform.SurfaceID
	target  platform.SurfaceID
	active  bool
	render  []platform.BufferID
}

type buffer struct {
	typ  platform.BufferType
	data []byte
}

var _ platform.Driver = (*Driver)(nil)

// New returns a simulated display.
func New(opts Options) *Driver {
	return &Driver{
		opts:     opts,
		configs:  make(map[platform.ConfigID]struct{}),
		contexts: make(map[platform.ContextID]*context),
		surfaces: make(map[platform.SurfaceID]*surface),
		buffers:  make(map[platform.BufferID]*buffer),
	}
}

// Opener returns a driver opener that opens d on any render node.
func (d *Driver) Opener() platform.DriverOpener {
	return func(node string) (platform.Driver, error) {
		d.mu.Lock()
		d.node = node
		d.mu.Unlock()

		return d, nil
	}
}

// NewOpener returns a driver opener that opens a new display with opts on
// every call.
func NewOpener(opts Options) platform.DriverOpener {
	return func(node string) (platform.Driver, error) {
		return New(opts).Opener()(node)
	}
}

// Node returns the render node the driver was last opened on.
func (d *Driver) Node() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.node
}

// Stats returns the current object counts.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		Configs:  len(d.configs),
		Contexts: len(d.contexts),
		Surfaces: len(d.surfaces),
		Buffers:  len(d.buffers),
		Decodes:  d.decodes,
		Exports:  d.exports,
	}
}

func fail(op string, status platform.Status) error {
	return &platform.DriverError{Op: op, Status: status}
}

func (d *Driver) id() uint32 {
	d.next++

	return d.next
}

func (d *Driver) Initialize() (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.initialized = true

	return 1, 22, nil
}

// Terminate destroys every object of the display.
func (d *Driver) Terminate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return fail("vaTerminate", platform.StatusInvalidDisplay)
	}

	for id, s := range d.surfaces {
		s.release()
		delete(d.surfaces, id)
	}

	clear(d.configs)
	clear(d.contexts)
	clear(d.buffers)
	d.initialized = false

	return nil
}

func (d *Driver) QueryConfigEntrypoints(profile platform.Profile) ([]platform.Entrypoint, error) {
	if profile != platform.ProfileJPEGBaseline {
		return nil, fail("vaQueryConfigEntrypoints", platform.StatusUnsupportedProfile)
	}

	if d.opts.NoDecoder {
		return nil, nil
	}

	return []platform.Entrypoint{platform.EntrypointVLD}, nil
}

func (d *Driver) rtFormats() uint32 {
	rt := platform.RTFormatYUV420 | platform.RTFormatYUV422 | platform.RTFormatYUV444 | platform.RTFormatYUV400
	if d.opts.NativeRGB {
		rt |= platform.RTFormatRGB32 | platform.RTFormatRGBP
	}

	return rt
}

func (d *Driver) GetConfigAttributes(profile platform.Profile, entrypoint platform.Entrypoint, attribs []platform.ConfigAttrib) error {
	if profile != platform.ProfileJPEGBaseline {
		return fail("vaGetConfigAttributes", platform.StatusUnsupportedProfile)
	}

	if entrypoint != platform.EntrypointVLD || d.opts.NoDecoder {
		return fail("vaGetConfigAttributes", platform.StatusUnsupportedEntrypoint)
	}

	limit := func(v uint32) uint32 {
		if v == 0 {
			return platform.AttribNotSupported
		}

		return v
	}

	for i := range attribs {
		switch attribs[i].Type {
		case platform.ConfigAttribRTFormat:
			attribs[i].Value = d.rtFormats()
		case platform.ConfigAttribMaxPictureWidth:
			attribs[i].Value = limit(d.opts.MaxWidth)
		case platform.ConfigAttribMaxPictureHeight:
			attribs[i].Value = limit(d.opts.MaxHeight)
		default:
			attribs[i].Value = platform.AttribNotSupported
		}
	}

	return nil
}

func (d *Driver) CreateConfig(profile platform.Profile, entrypoint platform.Entrypoint, attribs []platform.ConfigAttrib) (platform.ConfigID, error) {
	if profile != platform.ProfileJPEGBaseline {
		return 0, fail("vaCreateConfig", platform.StatusUnsupportedProfile)
	}

	if entrypoint != platform.EntrypointVLD || d.opts.NoDecoder {
		return 0, fail("vaCreateConfig", platform.StatusUnsupportedEntrypoint)
	}

	for _, a := range attribs {
		if a.Type == platform.ConfigAttribRTFormat && a.Value&^d.rtFormats() != 0 {
			return 0, fail("vaCreateConfig", platform.StatusUnsupportedRTFormat)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := platform.ConfigID(d.id())
	d.configs[id] = struct{}{}

	return id, nil
}

func (d *Driver) DestroyConfig(config platform.ConfigID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.configs[config]; !ok {
		return fail("vaDestroyConfig", platform.StatusInvalidConfig)
	}

	delete(d.configs, config)

	return nil
}

func (d *Driver) QuerySurfaceAttributes(config platform.ConfigID) ([]platform.SurfaceAttrib, error) {
	d.mu.Lock()
	_, ok := d.configs[config]
	d.mu.Unlock()

	if !ok {
		return nil, fail("vaQuerySurfaceAttributes", platform.StatusInvalidConfig)
	}

	var attribs []platform.SurfaceAttrib

	for _, fourcc := range []platform.FourCC{
		platform.FourCCNV12, platform.FourCCYUY2, platform.FourCC444P, platform.FourCC422V,
		platform.FourCCY800, platform.FourCCRGBA, platform.FourCCRGBP,
	} {
		if layouts[fourcc].rtFormat&d.rtFormats() == 0 {
			continue
		}

		attribs = append(attribs, platform.SurfaceAttrib{
			Type:  platform.SurfaceAttribPixelFormat,
			Flags: platform.SurfaceAttribGettable | platform.SurfaceAttribSettable,
			Value: uint32(fourcc),
		})
	}

	if d.opts.Modifiers {
		attribs = append(attribs, platform.SurfaceAttrib{
			Type:  platform.SurfaceAttribDRMFormatModifiers,
			Flags: platform.SurfaceAttribSettable,
		})
	}

	return attribs, nil
}

func (d *Driver) CreateSurfaces(rtFormat uint32, width, height, count int, opts platform.SurfaceOptions) ([]platform.SurfaceID, error) {
	l, ok := layouts[opts.FourCC]
	if !ok || l.rtFormat != rtFormat || rtFormat&d.rtFormats() == 0 {
		return nil, fail("vaCreateSurfaces", platform.StatusUnsupportedRTFormat)
	}

	if width <= 0 || height <= 0 || count <= 0 {
		return nil, fail("vaCreateSurfaces", platform.StatusInvalidParameter)
	}

	var modifier uint64
	if len(opts.Modifiers) > 0 {
		if !d.opts.Modifiers {
			return nil, fail("vaCreateSurfaces", platform.StatusAttrNotSupported)
		}

		modifier = opts.Modifiers[0]
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]platform.SurfaceID, 0, count)
	for i := 0; i < count; i++ {
		s, err := newSurface(opts.FourCC, l, width, height, modifier)
		if err != nil {
			for _, id := range ids {
				d.surfaces[id].release()
				delete(d.surfaces, id)
			}

			return nil, fmt.Errorf("vaCreateSurfaces: %w: %w", fail("vaCreateSurfaces", platform.StatusAllocationFailed), err)
		}

		id := platform.SurfaceID(d.id())
		d.surfaces[id] = s
		ids = append(ids, id)
	}

	return ids, nil
}

func (d *Driver) DestroySurfaces(surfaces []platform.SurfaceID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error

	for _, id := range surfaces {
		s, ok := d.surfaces[id]
		if !ok {
			err = fail("vaDestroySurfaces", platform.StatusInvalidSurface)
			continue
		}

		s.release()
		delete(d.surfaces, id)
	}

	return err
}

func (d *Driver) CreateContext(config platform.ConfigID, width, height, flags int, targets []platform.SurfaceID) (platform.ContextID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.configs[config]; !ok {
		return 0, fail("vaCreateContext", platform.StatusInvalidConfig)
	}

	for _, t := range targets {
		if _, ok := d.surfaces[t]; !ok {
			return 0, fail("vaCreateContext", platform.StatusInvalidSurface)
		}
	}

	id := platform.ContextID(d.id())
	d.contexts[id] = &context{targets: slices.Clone(targets)}

	return id, nil
}

func (d *Driver) DestroyContext(ctx platform.ContextID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.contexts[ctx]; !ok {
		return fail("vaDestroyContext", platform.StatusInvalidContext)
	}

	delete(d.contexts, ctx)

	return nil
}

func (d *Driver) CreateBuffer(ctx platform.ContextID, typ platform.BufferType, data []byte) (platform.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.contexts[ctx]; !ok {
		return 0, fail("vaCreateBuffer", platform.StatusInvalidContext)
	}

	switch typ {
	case platform.PictureParameterBuffer, platform.IQMatrixBuffer, platform.HuffmanTableBuffer,
		platform.SliceParameterBuffer, platform.SliceDataBuffer:
	default:
		return 0, fail("vaCreateBuffer", platform.StatusUnsupportedBufferType)
	}

	id := platform.BufferID(d.id())
	d.buffers[id] = &buffer{typ: typ, data: slices.Clone(data)}

	return id, nil
}

func (d *Driver) DestroyBuffer(id platform.BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.buffers[id]; !ok {
		return fail("vaDestroyBuffer", platform.StatusInvalidBuffer)
	}

	delete(d.buffers, id)

	return nil
}

func (d *Driver) BeginPicture(ctx platform.ContextID, target platform.SurfaceID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.contexts[ctx]
	if !ok {
		return fail("vaBeginPicture", platform.StatusInvalidContext)
	}

	if _, ok := d.surfaces[target]; !ok || !slices.Contains(c.targets, target) {
		return fail("vaBeginPicture", platform.StatusInvalidSurface)
	}

	c.target, c.active, c.render = target, true, c.render[:0]

	return nil
}

func (d *Driver) RenderPicture(ctx platform.ContextID, buffers []platform.BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.contexts[ctx]
	if !ok || !c.active {
		return fail("vaRenderPicture", platform.StatusInvalidContext)
	}

	for _, b := range buffers {
		if _, ok := d.buffers[b]; !ok {
			return fail("vaRenderPicture", platform.StatusInvalidBuffer)
		}
	}

	c.render = append(c.render, buffers...)

	return nil
}

// EndPicture decodes the rendered buffers into the target surface. Decode
// failures are reported when the surface is synchronized.
func (d *Driver) EndPicture(ctx platform.ContextID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.contexts[ctx]
	if !ok || !c.active {
		return fail("vaEndPicture", platform.StatusInvalidContext)
	}

	c.active = false

	byType := make(map[platform.BufferType][]byte)
	for _, id := range c.render {
		if b, ok := d.buffers[id]; ok {
			byType[b.typ] = b.data
		}
	}

	for _, typ := range []platform.BufferType{
		platform.PictureParameterBuffer, platform.IQMatrixBuffer, platform.HuffmanTableBuffer,
		platform.SliceParameterBuffer, platform.SliceDataBuffer,
	} {
		if _, ok := byType[typ]; !ok {
			return fmt.Errorf("missing %v: %w", typ, fail("vaEndPicture", platform.StatusInvalidBuffer))
		}
	}

	s := d.surfaces[c.target]
	if s == nil {
		return fail("vaEndPicture", platform.StatusInvalidSurface)
	}

	s.status = platform.SurfaceRendering
	s.timeouts = d.opts.Timeouts
	s.err = d.decode(s, byType)
	d.decodes++

	return nil
}

// decode runs the software decoder and writes the picture into s.
func (d *Driver) decode(s *surface, bufs map[platform.BufferType][]byte) error {
	var (
		pic   vabuf.PictureParameter
		iq    vabuf.IQMatrix
		huff  vabuf.HuffmanTable
		slice vabuf.SliceParameter
	)

	err := errors.Join(
		pic.UnmarshalBinary(bufs[platform.PictureParameterBuffer]),
		iq.UnmarshalBinary(bufs[platform.IQMatrixBuffer]),
		huff.UnmarshalBinary(bufs[platform.HuffmanTableBuffer]),
		slice.UnmarshalBinary(bufs[platform.SliceParameterBuffer]),
	)
	if err != nil {
		return err
	}

	if int(pic.Width) > s.width || int(pic.Height) > s.height {
		return fmt.Errorf("picture %dx%d exceeds surface %dx%d", pic.Width, pic.Height, s.width, s.height)
	}

	f, err := baseline.Decode(&pic, &iq, &huff, &slice, bufs[platform.SliceDataBuffer])
	if err != nil {
		return err
	}

	r := region{w: f.Width, h: f.Height}

	crop := pic.Crop
	if d.opts.NativeROI && crop.Width > 0 && crop.Height > 0 {
		if crop.X < 0 || crop.Y < 0 || int(crop.X)+int(crop.Width) > f.Width || int(crop.Y)+int(crop.Height) > f.Height {
			return fmt.Errorf("crop %+v outside picture %dx%d", crop, f.Width, f.Height)
		}

		r = region{x: int(crop.X), y: int(crop.Y), w: int(crop.Width), h: int(crop.Height)}
	}

	s.render(f, r)

	return nil
}

func (d *Driver) QuerySurfaceStatus(id platform.SurfaceID) (platform.SurfaceStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.surfaces[id]
	if !ok {
		return 0, fail("vaQuerySurfaceStatus", platform.StatusInvalidSurface)
	}

	return s.status, nil
}

// SyncSurface completes the pending decode of a surface.
func (d *Driver) SyncSurface(id platform.SurfaceID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.surfaces[id]
	if !ok {
		return fail("vaSyncSurface", platform.StatusInvalidSurface)
	}

	if s.status != platform.SurfaceRendering {
		return nil
	}

	if s.timeouts > 0 {
		s.timeouts--

		return fail("vaSyncSurface", platform.StatusTimedOut)
	}

	s.status = platform.SurfaceReady

	if s.err != nil {
		return fmt.Errorf("decode surface %d: %v: %w", id, s.err, fail("vaSyncSurface", platform.StatusDecodingError))
	}

	return nil
}

func (d *Driver) ExportSurfaceHandle(id platform.SurfaceID, memType, flags uint32) (*platform.PRIMEDescriptor, error) {
	if memType != platform.MemTypeDRMPrime2 {
		return nil, fail("vaExportSurfaceHandle", platform.StatusInvalidParameter)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.surfaces[id]
	if !ok {
		return nil, fail("vaExportSurfaceHandle", platform.StatusInvalidSurface)
	}

	desc, err := s.descriptor()
	if err != nil {
		return nil, fmt.Errorf("dup surface fd: %v: %w", err, fail("vaExportSurfaceHandle", platform.StatusOperationFailed))
	}

	d.exports++

	return desc, nil
}
