//go:build linux

// Package vaapi binds libva and libva-drm without cgo. A Display drives the
// VCN JPEG decoder through a DRM render node.
package vaapi

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"

	"github.com/gen2brain/vcnjpeg/internal/platform"
)

var (
	loadOnce sync.Once
	loadErr  error
)

// libva function pointers
var (
	vaGetDisplayDRM          func(fd int32) uintptr
	vaInitialize             func(dpy uintptr, major, minor *int32) int32
	vaTerminate              func(dpy uintptr) int32
	vaMaxNumEntrypoints      func(dpy uintptr) int32
	vaQueryConfigEntrypoints func(dpy uintptr, profile int32, list *int32, num *int32) int32
	vaGetConfigAttributes    func(dpy uintptr, profile, entrypoint int32, list *vaConfigAttrib, num int32) int32
	vaCreateConfig           func(dpy uintptr, profile, entrypoint int32, list *vaConfigAttrib, num int32, config *uint32) int32
	vaDestroyConfig          func(dpy uintptr, config uint32) int32
	vaQuerySurfaceAttributes func(dpy uintptr, config uint32, list *vaSurfaceAttrib, num *uint32) int32
	vaCreateSurfaces         func(dpy uintptr, format, width, height uint32, surfaces *uint32, num uint32, attribs *vaSurfaceAttrib, numAttribs uint32) int32
	vaDestroySurfaces        func(dpy uintptr, surfaces *uint32, num int32) int32
	vaCreateContext          func(dpy uintptr, config uint32, width, height, flag int32, targets *uint32, num int32, ctx *uint32) int32
	vaDestroyContext         func(dpy uintptr, ctx uint32) int32
	vaCreateBuffer           func(dpy uintptr, ctx uint32, typ int32, size, num uint32, data unsafe.Pointer, buf *uint32) int32
	vaDestroyBuffer          func(dpy uintptr, buf uint32) int32
	vaBeginPicture           func(dpy uintptr, ctx, target uint32) int32
	vaRenderPicture          func(dpy uintptr, ctx uint32, bufs *uint32, num int32) int32
	vaEndPicture             func(dpy uintptr, ctx uint32) int32
	vaQuerySurfaceStatus     func(dpy uintptr, surface uint32, status *uint32) int32
	vaSyncSurface            func(dpy uintptr, surface uint32) int32
	vaExportSurfaceHandle    func(dpy uintptr, surface uint32, memType, flags uint32, descriptor unsafe.Pointer) int32
)

// C structure layouts of va.h and va_drmcommon.h.
type vaConfigAttrib struct {
	Type  int32
	Value uint32
}

const (
	genericValueInteger = 1
	genericValuePointer = 3
)

type vaGenericValue struct {
	Type  int32
	_     int32
	Value uint64 // Union of int, float, pointer and function.
}

type vaSurfaceAttrib struct {
	Type  int32
	Flags uint32
	Value vaGenericValue
}

type vaDRMFormatModifierList struct {
	NumModifiers uint32
	_            uint32
	Modifiers    uintptr
	_            [4]uint32
}

type vaDRMPRIMESurfaceDescriptor struct {
	FourCC     uint32
	Width      uint32
	Height     uint32
	NumObjects uint32
	Objects    [4]struct {
		FD       int32
		Size     uint32
		Modifier uint64
	}
	NumLayers uint32
	Layers    [4]struct {
		DRMFormat   uint32
		NumPlanes   uint32
		ObjectIndex [4]uint32
		Offset      [4]uint32
		Pitch       [4]uint32
	}
}

func dlopen(names ...string) (uintptr, error) {
	var lastErr error
	for _, name := range names {
		handle, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, nil
		}

		lastErr = err
	}

	return 0, lastErr
}

func load() error {
	loadOnce.Do(func() {
		loadErr = loadLibs()
	})

	return loadErr
}

func loadLibs() (err error) {
	va, err := dlopen("libva.so.2", "libva.so")
	if err != nil {
		return fmt.Errorf("vaapi: load libva: %w", err)
	}

	drm, err := dlopen("libva-drm.so.2", "libva-drm.so")
	if err != nil {
		return fmt.Errorf("vaapi: load libva-drm: %w", err)
	}

	// RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("vaapi: %v", r)
		}
	}()

	purego.RegisterLibFunc(&vaGetDisplayDRM, drm, "vaGetDisplayDRM")

	purego.RegisterLibFunc(&vaInitialize, va, "vaInitialize")
	purego.RegisterLibFunc(&vaTerminate, va, "vaTerminate")
	purego.RegisterLibFunc(&vaMaxNumEntrypoints, va, "vaMaxNumEntrypoints")
	purego.RegisterLibFunc(&vaQueryConfigEntrypoints, va, "vaQueryConfigEntrypoints")
	purego.RegisterLibFunc(&vaGetConfigAttributes, va, "vaGetConfigAttributes")
	purego.RegisterLibFunc(&vaCreateConfig, va, "vaCreateConfig")
	purego.RegisterLibFunc(&vaDestroyConfig, va, "vaDestroyConfig")
	purego.RegisterLibFunc(&vaQuerySurfaceAttributes, va, "vaQuerySurfaceAttributes")
	purego.RegisterLibFunc(&vaCreateSurfaces, va, "vaCreateSurfaces")
	purego.RegisterLibFunc(&vaDestroySurfaces, va, "vaDestroySurfaces")
	purego.RegisterLibFunc(&vaCreateContext, va, "vaCreateContext")
	purego.RegisterLibFunc(&vaDestroyContext, va, "vaDestroyContext")
	purego.RegisterLibFunc(&vaCreateBuffer, va, "vaCreateBuffer")
	purego.RegisterLibFunc(&vaDestroyBuffer, va, "vaDestroyBuffer")
	purego.RegisterLibFunc(&vaBeginPicture, va, "vaBeginPicture")
	purego.RegisterLibFunc(&vaRenderPicture, va, "vaRenderPicture")
	purego.RegisterLibFunc(&vaEndPicture, va, "vaEndPicture")
	purego.RegisterLibFunc(&vaQuerySurfaceStatus, va, "vaQuerySurfaceStatus")
	purego.RegisterLibFunc(&vaSyncSurface, va, "vaSyncSurface")
	purego.RegisterLibFunc(&vaExportSurfaceHandle, va, "vaExportSurfaceHandle")

	return nil
}

func check(op string, status int32) error {
	if status == 0 {
		return nil
	}

	return &platform.DriverError{Op: op, Status: platform.Status(uint32(status))}
}

// Display is a VADisplay on a DRM render node.
type Display struct {
	fd  int
	dpy uintptr
}

var _ platform.Driver = (*Display)(nil)

// Open opens the render node and creates a display on it.
func Open(node string) (platform.Driver, error) {
	if err := load(); err != nil {
		return nil, err
	}

	fd, err := unix.Open(node, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("vaapi: open %s: %w", node, err)
	}

	dpy := vaGetDisplayDRM(int32(fd))
	if dpy == 0 {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("vaapi: no display on %s: %w", node, &platform.DriverError{Op: "vaGetDisplayDRM", Status: platform.StatusInvalidDisplay})
	}

	return &Display{fd: fd, dpy: dpy}, nil
}

func (d *Display) Initialize() (int, int, error) {
	var major, minor int32
	if err := check("vaInitialize", vaInitialize(d.dpy, &major, &minor)); err != nil {
		return 0, 0, err
	}

	return int(major), int(minor), nil
}

// Terminate terminates the display and closes the render node.
func (d *Display) Terminate() error {
	if d.dpy == 0 {
		return nil
	}

	err := check("vaTerminate", vaTerminate(d.dpy))
	d.dpy = 0

	return errors.Join(err, unix.Close(d.fd))
}

func (d *Display) QueryConfigEntrypoints(profile platform.Profile) ([]platform.Entrypoint, error) {
	maxNum := vaMaxNumEntrypoints(d.dpy)
	if maxNum <= 0 {
		return nil, nil
	}

	list := make([]int32, maxNum)

	var num int32
	if err := check("vaQueryConfigEntrypoints", vaQueryConfigEntrypoints(d.dpy, int32(profile), &list[0], &num)); err != nil {
		return nil, err
	}

	eps := make([]platform.Entrypoint, 0, num)
	for _, e := range list[:num] {
		eps = append(eps, platform.Entrypoint(e))
	}

	return eps, nil
}

func toVA(attribs []platform.ConfigAttrib) []vaConfigAttrib {
	va := make([]vaConfigAttrib, len(attribs))
	for i, a := range attribs {
		va[i] = vaConfigAttrib{Type: int32(a.Type), Value: a.Value}
	}

	return va
}

func (d *Display) GetConfigAttributes(profile platform.Profile, entrypoint platform.Entrypoint, attribs []platform.ConfigAttrib) error {
	if len(attribs) == 0 {
		return nil
	}

	va := toVA(attribs)
	if err := check("vaGetConfigAttributes", vaGetConfigAttributes(d.dpy, int32(profile), int32(entrypoint), &va[0], int32(len(va)))); err != nil {
		return err
	}

	for i := range attribs {
		attribs[i].Value = va[i].Value
	}

	return nil
}

func (d *Display) CreateConfig(profile platform.Profile, entrypoint platform.Entrypoint, attribs []platform.ConfigAttrib) (platform.ConfigID, error) {
	va := toVA(attribs)

	var list *vaConfigAttrib
	if len(va) > 0 {
		list = &va[0]
	}

	var id uint32
	if err := check("vaCreateConfig", vaCreateConfig(d.dpy, int32(profile), int32(entrypoint), list, int32(len(va)), &id)); err != nil {
		return 0, err
	}

	return platform.ConfigID(id), nil
}

func (d *Display) DestroyConfig(config platform.ConfigID) error {
	return check("vaDestroyConfig", vaDestroyConfig(d.dpy, uint32(config)))
}

func (d *Display) QuerySurfaceAttributes(config platform.ConfigID) ([]platform.SurfaceAttrib, error) {
	var num uint32
	if err := check("vaQuerySurfaceAttributes", vaQuerySurfaceAttributes(d.dpy, uint32(config), nil, &num)); err != nil {
		return nil, err
	}

	if num == 0 {
		return nil, nil
	}

	list := make([]vaSurfaceAttrib, num)
	if err := check("vaQuerySurfaceAttributes", vaQuerySurfaceAttributes(d.dpy, uint32(config), &list[0], &num)); err != nil {
		return nil, err
	}

	attribs := make([]platform.SurfaceAttrib, 0, num)
	for _, a := range list[:num] {
		sa := platform.SurfaceAttrib{Type: platform.SurfaceAttribType(a.Type), Flags: a.Flags}
		if a.Value.Type == genericValueInteger {
			sa.Value = uint32(a.Value.Value)
		}

		attribs = append(attribs, sa)
	}

	return attribs, nil
}

func (d *Display) CreateSurfaces(rtFormat uint32, width, height, count int, opts platform.SurfaceOptions) ([]platform.SurfaceID, error) {
	if count <= 0 {
		return nil, check("vaCreateSurfaces", int32(platform.StatusInvalidParameter))
	}

	var pinner runtime.Pinner
	defer pinner.Unpin()

	attribs := []vaSurfaceAttrib{{
		Type:  int32(platform.SurfaceAttribPixelFormat),
		Flags: platform.SurfaceAttribSettable,
		Value: vaGenericValue{Type: genericValueInteger, Value: uint64(opts.FourCC)},
	}}

	if len(opts.Modifiers) > 0 {
		mods := &vaDRMFormatModifierList{
			NumModifiers: uint32(len(opts.Modifiers)),
			Modifiers:    uintptr(unsafe.Pointer(&opts.Modifiers[0])),
		}
		pinner.Pin(&opts.Modifiers[0])
		pinner.Pin(mods)

		attribs = append(attribs, vaSurfaceAttrib{
			Type:  int32(platform.SurfaceAttribDRMFormatModifiers),
			Flags: platform.SurfaceAttribSettable,
			Value: vaGenericValue{Type: genericValuePointer, Value: uint64(uintptr(unsafe.Pointer(mods)))},
		})
	}

	ids := make([]uint32, count)
	status := vaCreateSurfaces(d.dpy, rtFormat, uint32(width), uint32(height), &ids[0], uint32(count), &attribs[0], uint32(len(attribs)))
	if err := check("vaCreateSurfaces", status); err != nil {
		return nil, err
	}

	surfaces := make([]platform.SurfaceID, count)
	for i, id := range ids {
		surfaces[i] = platform.SurfaceID(id)
	}

	return surfaces, nil
}

func surfaceIDs(surfaces []platform.SurfaceID) []uint32 {
	ids := make([]uint32, len(surfaces))
	for i, s := range surfaces {
		ids[i] = uint32(s)
	}

	return ids
}

func (d *Display) DestroySurfaces(surfaces []platform.SurfaceID) error {
	if len(surfaces) == 0 {
		return nil
	}

	ids := surfaceIDs(surfaces)

	return check("vaDestroySurfaces", vaDestroySurfaces(d.dpy, &ids[0], int32(len(ids))))
}

func (d *Display) CreateContext(config platform.ConfigID, width, height, flags int, targets []platform.SurfaceID) (platform.ContextID, error) {
	ids := surfaceIDs(targets)

	var list *uint32
	if len(ids) > 0 {
		list = &ids[0]
	}

	var ctx uint32
	if err := check("vaCreateContext", vaCreateContext(d.dpy, uint32(config), int32(width), int32(height), int32(flags), list, int32(len(ids)), &ctx)); err != nil {
		return 0, err
	}

	return platform.ContextID(ctx), nil
}

func (d *Display) DestroyContext(ctx platform.ContextID) error {
	return check("vaDestroyContext", vaDestroyContext(d.dpy, uint32(ctx)))
}

func (d *Display) CreateBuffer(ctx platform.ContextID, typ platform.BufferType, data []byte) (platform.BufferID, error) {
	if len(data) == 0 {
		return 0, check("vaCreateBuffer", int32(platform.StatusInvalidParameter))
	}

	var id uint32
	if err := check("vaCreateBuffer", vaCreateBuffer(d.dpy, uint32(ctx), int32(typ), uint32(len(data)), 1, unsafe.Pointer(&data[0]), &id)); err != nil {
		return 0, fmt.Errorf("%v: %w", typ, err)
	}

	return platform.BufferID(id), nil
}

func (d *Display) DestroyBuffer(id platform.BufferID) error {
	return check("vaDestroyBuffer", vaDestroyBuffer(d.dpy, uint32(id)))
}

func (d *Display) BeginPicture(ctx platform.ContextID, target platform.SurfaceID) error {
	return check("vaBeginPicture", vaBeginPicture(d.dpy, uint32(ctx), uint32(target)))
}

func (d *Display) RenderPicture(ctx platform.ContextID, buffers []platform.BufferID) error {
	if len(buffers) == 0 {
		return nil
	}

	ids := make([]uint32, len(buffers))
	for i, b := range buffers {
		ids[i] = uint32(b)
	}

	return check("vaRenderPicture", vaRenderPicture(d.dpy, uint32(ctx), &ids[0], int32(len(ids))))
}

func (d *Display) EndPicture(ctx platform.ContextID) error {
	return check("vaEndPicture", vaEndPicture(d.dpy, uint32(ctx)))
}

func (d *Display) QuerySurfaceStatus(surface platform.SurfaceID) (platform.SurfaceStatus, error) {
	var status uint32
	if err := check("vaQuerySurfaceStatus", vaQuerySurfaceStatus(d.dpy, uint32(surface), &status)); err != nil {
		return 0, err
	}

	return platform.SurfaceStatus(status), nil
}

func (d *Display) SyncSurface(surface platform.SurfaceID) error {
	return check("vaSyncSurface", vaSyncSurface(d.dpy, uint32(surface)))
}

func (d *Display) ExportSurfaceHandle(surface platform.SurfaceID, memType, flags uint32) (*platform.PRIMEDescriptor, error) {
	var desc vaDRMPRIMESurfaceDescriptor
	if err := check("vaExportSurfaceHandle", vaExportSurfaceHandle(d.dpy, uint32(surface), memType, flags, unsafe.Pointer(&desc))); err != nil {
		return nil, err
	}

	out := &platform.PRIMEDescriptor{
		FourCC: platform.FourCC(desc.FourCC),
		Width:  int(desc.Width),
		Height: int(desc.Height),
	}

	for _, o := range desc.Objects[:min(desc.NumObjects, 4)] {
		out.Objects = append(out.Objects, platform.PRIMEObject{FD: int(o.FD), Size: o.Size, Modifier: o.Modifier})
	}

	for _, l := range desc.Layers[:min(desc.NumLayers, 4)] {
		out.Layers = append(out.Layers, platform.PRIMELayer{
			DRMFormat:   l.DRMFormat,
			NumPlanes:   int(l.NumPlanes),
			ObjectIndex: l.ObjectIndex,
			Offset:      l.Offset,
			Pitch:       l.Pitch,
		})
	}

	return out, nil
}
