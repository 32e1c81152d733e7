// Package engine drives the hardware JPEG decoder: it resolves the device
// and its capabilities, creates the decode configuration, submits parsed
// streams to pooled surfaces and waits for them to complete.
package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/gen2brain/vcnjpeg/internal/platform"
	"github.com/gen2brain/vcnjpeg/internal/platform/hostrt"
	"github.com/gen2brain/vcnjpeg/internal/platform/vaapi"
	"github.com/gen2brain/vcnjpeg/internal/pool"
)

// Standard error types for the engine.
var (
	ErrNotSupported      = errors.New("engine: jpeg not supported")
	ErrNoHardwareDecoder = errors.New("engine: hardware jpeg decoder not supported")
	ErrSync              = errors.New("engine: surface sync failed")
	ErrClosed            = errors.New("engine: closed")
	ErrInvalidDevice     = errors.New("engine: invalid device")
)

// Picture size limits.
const (
	MinWidth       = 64
	MinHeight      = 64
	DefaultMaxSize = 4096
)

// DefaultSyncRetries bounds the timed out waits of Sync.
const DefaultSyncRetries = 64

// Config configures an Engine.
type Config struct {
	// DeviceID selects the device among the visible devices.
	DeviceID int
	// Arch and DeviceName override the values found in the KFD topology.
	Arch, DeviceName string
	// RenderNode forces the DRM render node path.
	RenderNode string
	// VisibleDevices is the HIP_VISIBLE_DEVICES list.
	VisibleDevices string
	// PoolCapacity is the per-format surface pool capacity. Zero means twice
	// the number of JPEG cores.
	PoolCapacity int
	// SyncRetries bounds the timed out waits of Sync. Zero means
	// DefaultSyncRetries.
	SyncRetries int
	// Open opens the driver. Nil means libva.
	Open platform.DriverOpener
	// Runtime is the compute runtime. Nil means the host runtime.
	Runtime platform.Runtime
	// SysFS is the root of the sysfs and devices tree. Nil means "/".
	SysFS fs.FS
	Logger logrus.FieldLogger
}

// Engine is a hardware decode session. It is not safe for concurrent use.
type Engine struct {
	log         logrus.FieldLogger
	syncRetries int

	arch, device string
	node         string
	caps         Caps

	driver  platform.Driver
	runtime platform.Runtime
	config  platform.ConfigID
	pool    *pool.Pool

	maxWidth, maxHeight int
	modifiers           bool

	// Buffers of the last submission.
	buffers []platform.BufferID
	closed  bool
}

// New resolves the device, opens its driver and creates the decode
// configuration.
func New(cfg Config) (*Engine, error) {
	e := &Engine{
		log:         cfg.Logger,
		syncRetries: cfg.SyncRetries,
		runtime:     cfg.Runtime,
		maxWidth:    DefaultMaxSize,
		maxHeight:   DefaultMaxSize,
	}

	if e.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.ErrorLevel)
		e.log = l
	}

	if e.syncRetries <= 0 {
		e.syncRetries = DefaultSyncRetries
	}

	if e.runtime == nil {
		e.runtime = hostrt.New()
	}

	fsys := cfg.SysFS
	if fsys == nil {
		fsys = os.DirFS("/")
	}

	if err := e.resolveDevice(cfg, fsys); err != nil {
		return nil, err
	}

	open := cfg.Open
	if open == nil {
		open = vaapi.Open
	}

	log := e.log.WithFields(logrus.Fields{"arch": e.arch, "device": e.device, "node": e.node, "cores": e.caps.Cores})

	driver, err := open(e.node)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.node, err)
	}

	e.driver = driver

	if _, _, err := driver.Initialize(); err != nil {
		_ = driver.Terminate()
		return nil, err
	}

	if err := e.createConfig(); err != nil {
		_ = driver.Terminate()
		return nil, err
	}

	capacity := cfg.PoolCapacity
	if capacity <= 0 {
		capacity = 2 * e.caps.Cores
	}

	e.pool = pool.New(driver, e.runtime, capacity, e.log)

	log.WithFields(logrus.Fields{"max_width": e.maxWidth, "max_height": e.maxHeight, "modifiers": e.modifiers}).Info("decoder initialized")

	return e, nil
}

// resolveDevice finds the architecture, the capabilities and the render node.
func (e *Engine) resolveDevice(cfg Config, fsys fs.FS) error {
	e.arch, e.device = cfg.Arch, cfg.DeviceName

	if cfg.DeviceID < 0 {
		return fmt.Errorf("device %d: %w", cfg.DeviceID, ErrInvalidDevice)
	}

	if e.arch == "" {
		devices, err := Topology(fsys)
		if err != nil {
			e.log.WithError(err).Warn("no device topology")
		}

		if len(devices) > 0 {
			if cfg.DeviceID >= len(devices) {
				return fmt.Errorf("device %d of %d: %w", cfg.DeviceID, len(devices), ErrInvalidDevice)
			}

			e.arch = devices[cfg.DeviceID].Arch
			if e.device == "" {
				e.device = devices[cfg.DeviceID].Name
			}
		}
	}

	key := NormalizeArch(e.arch, e.device)

	caps, ok := LookupCaps(key)
	if !ok {
		e.log.WithField("arch", key).Warn("no vcn jpeg capabilities for architecture, using defaults")
	}

	e.caps = caps

	e.node = cfg.RenderNode
	if e.node == "" {
		var parts []Partition
		if BaseArch(e.arch) == "gfx942" {
			parts = CurrentPartitions(fsys, "sys/devices")
		}

		e.node = RenderNode(e.arch, e.device, cfg.DeviceID, VisibleDevices(cfg.VisibleDevices), parts)
	}

	return nil
}

// createConfig checks for the baseline JPEG entry point and creates the
// decode configuration.
func (e *Engine) createConfig() error {
	eps, err := e.driver.QueryConfigEntrypoints(platform.ProfileJPEGBaseline)
	if err != nil {
		return err
	}

	if !slices.Contains(eps, platform.EntrypointVLD) {
		return ErrNoHardwareDecoder
	}

	attribs := []platform.ConfigAttrib{
		{Type: platform.ConfigAttribRTFormat},
		{Type: platform.ConfigAttribMaxPictureWidth},
		{Type: platform.ConfigAttribMaxPictureHeight},
	}

	if err := e.driver.GetConfigAttributes(platform.ProfileJPEGBaseline, platform.EntrypointVLD, attribs); err != nil {
		return err
	}

	config, err := e.driver.CreateConfig(platform.ProfileJPEGBaseline, platform.EntrypointVLD, attribs[:1])
	if err != nil {
		return err
	}

	e.config = config

	if v := attribs[1].Value; v != platform.AttribNotSupported {
		e.maxWidth = int(v)
	}

	if v := attribs[2].Value; v != platform.AttribNotSupported {
		e.maxHeight = int(v)
	}

	surfaceAttribs, err := e.driver.QuerySurfaceAttributes(config)
	if err != nil {
		_ = e.driver.DestroyConfig(config)
		return err
	}

	e.modifiers = slices.ContainsFunc(surfaceAttribs, func(a platform.SurfaceAttrib) bool {
		return a.Type == platform.SurfaceAttribDRMFormatModifiers
	})

	return nil
}

// Caps returns the decode block capabilities.
func (e *Engine) Caps() Caps {
	return e.caps
}

// Arch returns the normalized architecture.
func (e *Engine) Arch() string {
	return NormalizeArch(e.arch, e.device)
}

// Node returns the render node path.
func (e *Engine) Node() string {
	return e.node
}

// MaxSize returns the largest supported picture.
func (e *Engine) MaxSize() (int, int) {
	return e.maxWidth, e.maxHeight
}

// Runtime returns the compute runtime.
func (e *Engine) Runtime() platform.Runtime {
	return e.runtime
}

// Pool returns the surface pool.
func (e *Engine) Pool() *pool.Pool {
	return e.pool
}

// Mapping returns the runtime mapping of a decoded surface.
func (e *Engine) Mapping(s platform.SurfaceID) (*pool.Mapping, error) {
	return e.pool.Mapping(s)
}

// Release returns the surface to the pool.
func (e *Engine) Release(s platform.SurfaceID) error {
	return e.pool.Release(s)
}

// Discard removes a failed surface from the pool.
func (e *Engine) Discard(s platform.SurfaceID) error {
	return e.pool.Delete(s)
}

// Sync waits until surface s is decoded. Only timeouts are retried, at most
// SyncRetries times.
func (e *Engine) Sync(s platform.SurfaceID) error {
	if e.closed {
		return ErrClosed
	}

	if !e.pool.Has(s) {
		return fmt.Errorf("sync surface %d: %w", s, pool.ErrNotFound)
	}

	status, err := e.driver.QuerySurfaceStatus(s)
	if err != nil {
		return err
	}

	for retry := 0; status != platform.SurfaceReady; retry++ {
		err := e.driver.SyncSurface(s)
		if err == nil {
			break
		}

		if !platform.IsStatus(err, platform.StatusTimedOut) {
			return fmt.Errorf("%w: surface %d: %w", ErrSync, s, err)
		}

		if retry >= e.syncRetries {
			return fmt.Errorf("%w: surface %d after %d retries: %w", ErrSync, s, retry, err)
		}

		e.log.WithFields(logrus.Fields{"surface": s, "retry": retry + 1}).Debug("surface sync timed out")

		status, err = e.driver.QuerySurfaceStatus(s)
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) destroyBuffers() error {
	var errs []error
	for _, id := range e.buffers {
		errs = append(errs, e.driver.DestroyBuffer(id))
	}

	e.buffers = e.buffers[:0]

	return errors.Join(errs...)
}

// Close releases the buffers, the pool, the configuration and the display.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}

	e.closed = true

	errs := []error{e.destroyBuffers(), e.pool.Close(), e.driver.DestroyConfig(e.config), e.driver.Terminate()}

	return errors.Join(errs...)
}
