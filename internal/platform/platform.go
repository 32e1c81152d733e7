// Package platform declares the external collaborators of the decoder: the
// hardware decode driver (a VA-API display), and the compute runtime that
// imports exported surfaces and executes copies and conversion kernels.
package platform

import (
	"errors"
	"fmt"
)

// ErrUnsupportedPlatform is returned by collaborators that cannot run on the
// current operating system or architecture.
var ErrUnsupportedPlatform = errors.New("platform: unsupported on this system")

// Driver object identifiers.
type (
	ConfigID  uint32
	ContextID uint32
	SurfaceID uint32
	BufferID  uint32
)

// Profile is a VAProfile.
type Profile int32

// ProfileJPEGBaseline is VAProfileJPEGBaseline.
const ProfileJPEGBaseline Profile = 12

// Entrypoint is a VAEntrypoint.
type Entrypoint int32

// EntrypointVLD is VAEntrypointVLD, the slice-level decode entry point.
const EntrypointVLD Entrypoint = 1

// BufferType is a VABufferType.
type BufferType int32

const (
	PictureParameterBuffer BufferType = 0
	IQMatrixBuffer         BufferType = 1
	SliceParameterBuffer   BufferType = 4
	SliceDataBuffer        BufferType = 5
	HuffmanTableBuffer     BufferType = 12
)

// String returns the VA name of the buffer type.
func (t BufferType) String() string {
	switch t {
	case PictureParameterBuffer:
		return "VAPictureParameterBufferType"
	case IQMatrixBuffer:
		return "VAIQMatrixBufferType"
	case SliceParameterBuffer:
		return "VASliceParameterBufferType"
	case SliceDataBuffer:
		return "VASliceDataBufferType"
	case HuffmanTableBuffer:
		return "VAHuffmanTableBufferType"
	default:
		return fmt.Sprintf("VABufferType(%d)", int32(t))
	}
}

// ConfigAttribType is a VAConfigAttribType.
type ConfigAttribType int32

const (
	ConfigAttribRTFormat         ConfigAttribType = 0
	ConfigAttribMaxPictureWidth  ConfigAttribType = 18
	ConfigAttribMaxPictureHeight ConfigAttribType = 19
)

// AttribNotSupported is the value reported for an unsupported attribute.
const AttribNotSupported uint32 = 0x80000000

// ConfigAttrib is a VAConfigAttrib.
type ConfigAttrib struct {
	Type  ConfigAttribType
	Value uint32
}

// SurfaceAttribType is a VASurfaceAttribType.
type SurfaceAttribType int32

const (
	SurfaceAttribPixelFormat        SurfaceAttribType = 1
	SurfaceAttribDRMFormatModifiers SurfaceAttribType = 9
)

// Surface attribute flags.
const (
	SurfaceAttribGettable uint32 = 1
	SurfaceAttribSettable uint32 = 2
)

// SurfaceAttrib is a queried surface attribute. Only integer values are
// reported; pointer-valued attributes carry a zero Value.
type SurfaceAttrib struct {
	Type  SurfaceAttribType
	Flags uint32
	Value uint32
}

// Render-target formats.
const (
	RTFormatYUV420 uint32 = 0x00000001
	RTFormatYUV422 uint32 = 0x00000002
	RTFormatYUV444 uint32 = 0x00000004
	RTFormatYUV400 uint32 = 0x00000010
	RTFormatRGB32  uint32 = 0x00020000
	RTFormatRGBP   uint32 = 0x00100000
)

// SurfaceStatus is a VASurfaceStatus.
type SurfaceStatus uint32

const (
	SurfaceRendering  SurfaceStatus = 1
	SurfaceDisplaying SurfaceStatus = 2
	SurfaceReady      SurfaceStatus = 4
	SurfaceSkipped    SurfaceStatus = 8
)

// Surface export constants.
const (
	MemTypeDRMPrime2     uint32 = 0x40000000
	ExportReadOnly       uint32 = 0x0001
	ExportSeparateLayers uint32 = 0x0004
)

// Progressive is the VA_PROGRESSIVE context flag.
const Progressive = 0x1

// SurfaceOptions selects the pixel layout of created surfaces.
type SurfaceOptions struct {
	FourCC FourCC
	// Modifiers is the DRM format modifier list; empty when the driver does
	// not support modifiers.
	Modifiers []uint64
}

// PRIMEObject is one exported memory object.
type PRIMEObject struct {
	FD       int
	Size     uint32
	Modifier uint64
}

// PRIMELayer is one exported layer. Offsets and pitches are relative to the
// object selected by ObjectIndex.
type PRIMELayer struct {
	DRMFormat   uint32
	NumPlanes   int
	ObjectIndex [4]uint32
	Offset      [4]uint32
	Pitch       [4]uint32
}

// PRIMEDescriptor is a VADRMPRIMESurfaceDescriptor. The caller owns the
// object file descriptors.
type PRIMEDescriptor struct {
	FourCC  FourCC
	Width   int
	Height  int
	Objects []PRIMEObject
	Layers  []PRIMELayer
}

// Driver is a hardware decode display.
type Driver interface {
	// Initialize initializes the display and returns the API version.
	Initialize() (major, minor int, err error)
	// Terminate releases the display and its render node.
	Terminate() error

	QueryConfigEntrypoints(profile Profile) ([]Entrypoint, error)
	// GetConfigAttributes fills in the Value of every requested attribute.
	GetConfigAttributes(profile Profile, entrypoint Entrypoint, attribs []ConfigAttrib) error
	CreateConfig(profile Profile, entrypoint Entrypoint, attribs []ConfigAttrib) (ConfigID, error)
	DestroyConfig(config ConfigID) error
	QuerySurfaceAttributes(config ConfigID) ([]SurfaceAttrib, error)

	CreateSurfaces(rtFormat uint32, width, height, count int, opts SurfaceOptions) ([]SurfaceID, error)
	DestroySurfaces(surfaces []SurfaceID) error
	CreateContext(config ConfigID, width, height, flags int, targets []SurfaceID) (ContextID, error)
	DestroyContext(context ContextID) error

	// CreateBuffer copies data into a new driver buffer.
	CreateBuffer(context ContextID, typ BufferType, data []byte) (BufferID, error)
	DestroyBuffer(buffer BufferID) error

	BeginPicture(context ContextID, target SurfaceID) error
	RenderPicture(context ContextID, buffers []BufferID) error
	EndPicture(context ContextID) error

	QuerySurfaceStatus(surface SurfaceID) (SurfaceStatus, error)
	SyncSurface(surface SurfaceID) error
	ExportSurfaceHandle(surface SurfaceID, memType, flags uint32) (*PRIMEDescriptor, error)
}

// DriverOpener opens a driver on a DRM render node.
type DriverOpener func(node string) (Driver, error)

// ExternalMemory is driver memory imported into the compute runtime.
type ExternalMemory interface {
	// Bytes returns the flat view of the imported object.
	Bytes() []byte
	Close() error
}

// Runtime is the compute runtime.
type Runtime interface {
	// ImportExternalMemory imports size bytes of the DMA-BUF fd. The caller
	// keeps ownership of fd and may close it once the call returns.
	ImportExternalMemory(fd int, size int) (ExternalMemory, error)
	NewStream() (Stream, error)
}

// Kernel is a conversion kernel over a one-dimensional grid of work items.
// Run must be safe to call concurrently for disjoint ranges.
type Kernel interface {
	Name() string
	Grid() int
	Run(lo, hi int)
}

// Stream is an in-order asynchronous work queue. Arguments are validated at
// enqueue time; execution errors surface at Synchronize.
type Stream interface {
	Memcpy(dst, src []byte) error
	Memcpy2D(dst []byte, dstPitch int, src []byte, srcPitch int, width, height int) error
	Launch(k Kernel) error
	Synchronize() error
	Close() error
}

// Status is a VAStatus.
type Status uint32

const (
	StatusSuccess                Status = 0x00000000
	StatusOperationFailed        Status = 0x00000001
	StatusAllocationFailed       Status = 0x00000002
	StatusInvalidDisplay         Status = 0x00000003
	StatusInvalidConfig          Status = 0x00000004
	StatusInvalidContext         Status = 0x00000005
	StatusInvalidSurface         Status = 0x00000006
	StatusInvalidBuffer          Status = 0x00000007
	StatusAttrNotSupported       Status = 0x0000000a
	StatusUnsupportedProfile     Status = 0x0000000c
	StatusUnsupportedEntrypoint  Status = 0x0000000d
	StatusUnsupportedRTFormat    Status = 0x0000000e
	StatusUnsupportedBufferType  Status = 0x0000000f
	StatusInvalidParameter       Status = 0x00000012
	StatusResolutionNotSupported Status = 0x00000013
	StatusUnimplemented          Status = 0x00000014
	StatusDecodingError          Status = 0x00000017
	StatusTimedOut               Status = 0x00000026
	StatusUnknown                Status = 0xFFFFFFFF
)

var statusText = map[Status]string{
	StatusSuccess:                "success",
	StatusOperationFailed:        "operation failed",
	StatusAllocationFailed:       "resource allocation failed",
	StatusInvalidDisplay:         "invalid VADisplay",
	StatusInvalidConfig:          "invalid VAConfigID",
	StatusInvalidContext:         "invalid VAContextID",
	StatusInvalidSurface:         "invalid VASurfaceID",
	StatusInvalidBuffer:          "invalid VABufferID",
	StatusAttrNotSupported:       "attribute not supported",
	StatusUnsupportedProfile:     "unsupported profile",
	StatusUnsupportedEntrypoint:  "unsupported entrypoint",
	StatusUnsupportedRTFormat:    "unsupported RT format",
	StatusUnsupportedBufferType:  "unsupported buffer type",
	StatusInvalidParameter:       "invalid parameter",
	StatusResolutionNotSupported: "resolution not supported",
	StatusUnimplemented:          "the requested function is not implemented",
	StatusDecodingError:          "internal decoding error",
	StatusTimedOut:               "timeout",
	StatusUnknown:                "unknown libva error",
}

// String returns the libva description of the status.
func (s Status) String() string {
	if t, ok := statusText[s]; ok {
		return t
	}

	return fmt.Sprintf("VAStatus(0x%x)", uint32(s))
}

// DriverError is a failed driver call.
type DriverError struct {
	Op     string
	Status Status
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%x)", e.Op, e.Status, uint32(e.Status))
}

// IsStatus reports whether err is a DriverError with the given status.
func IsStatus(err error, status Status) bool {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Status == status
	}

	return false
}

// RuntimeError is a failed compute runtime call.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}
