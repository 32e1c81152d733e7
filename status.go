package vcnjpeg

import (
	"errors"
	"fmt"

	"github.com/gen2brain/vcnjpeg/internal/engine"
	"github.com/gen2brain/vcnjpeg/internal/parser"
	"github.com/gen2brain/vcnjpeg/internal/platform"
	"github.com/gen2brain/vcnjpeg/internal/pool"
	"github.com/gen2brain/vcnjpeg/internal/strided"
	"github.com/gen2brain/vcnjpeg/internal/transfer"
)

// Status is the result code of a decoder call.
type Status int

const (
	StatusSuccess                    Status = 0
	StatusNotInitialized             Status = -1
	StatusInvalidParameter           Status = -2
	StatusBadJPEG                    Status = -3
	StatusJPEGNotSupported           Status = -4
	StatusOutOfMemory                Status = -5
	StatusExecutionFailed            Status = -6
	StatusArchMismatch               Status = -7
	StatusInternalError              Status = -8
	StatusImplementationNotSupported Status = -9
	StatusHWDecoderNotSupported      Status = -10
	StatusRuntimeError               Status = -11
	StatusNotImplemented             Status = -12
)

var statusNames = map[Status][2]string{
	StatusSuccess:                    {"success", "VCNJPEG_STATUS_SUCCESS"},
	StatusNotInitialized:             {"not initialized", "VCNJPEG_STATUS_NOT_INITIALIZED"},
	StatusInvalidParameter:           {"invalid parameter", "VCNJPEG_STATUS_INVALID_PARAMETER"},
	StatusBadJPEG:                    {"bad jpeg", "VCNJPEG_STATUS_BAD_JPEG"},
	StatusJPEGNotSupported:           {"jpeg not supported", "VCNJPEG_STATUS_JPEG_NOT_SUPPORTED"},
	StatusOutOfMemory:                {"out of memory", "VCNJPEG_STATUS_OUTOF_MEMORY"},
	StatusExecutionFailed:            {"execution failed", "VCNJPEG_STATUS_EXECUTION_FAILED"},
	StatusArchMismatch:               {"architecture mismatch", "VCNJPEG_STATUS_ARCH_MISMATCH"},
	StatusInternalError:              {"internal error", "VCNJPEG_STATUS_INTERNAL_ERROR"},
	StatusImplementationNotSupported: {"implementation not supported", "VCNJPEG_STATUS_IMPLEMENTATION_NOT_SUPPORTED"},
	StatusHWDecoderNotSupported:      {"hardware jpeg decoder not supported", "VCNJPEG_STATUS_HW_JPEG_DECODER_NOT_SUPPORTED"},
	StatusRuntimeError:               {"runtime error", "VCNJPEG_STATUS_RUNTIME_ERROR"},
	StatusNotImplemented:             {"not implemented", "VCNJPEG_STATUS_NOT_IMPLEMENTED"},
}

// String returns a short description of the status.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n[0]
	}

	return fmt.Sprintf("status(%d)", int(s))
}

// Name returns the symbolic name of the status.
func (s Status) Name() string {
	if n, ok := statusNames[s]; ok {
		return n[1]
	}

	return "UNKNOWN_ERROR"
}

// Standard error types, one per failure status.
var (
	ErrNotInitialized             = errors.New("not initialized")
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrBadJPEG                    = errors.New("bad jpeg")
	ErrJPEGNotSupported           = errors.New("jpeg not supported")
	ErrOutOfMemory                = errors.New("out of memory")
	ErrExecutionFailed            = errors.New("execution failed")
	ErrArchMismatch               = errors.New("architecture mismatch")
	ErrInternal                   = errors.New("internal error")
	ErrImplementationNotSupported = errors.New("implementation not supported")
	ErrHWDecoderNotSupported      = errors.New("hardware jpeg decoder not supported")
	ErrRuntime                    = errors.New("runtime error")
	ErrNotImplemented             = errors.New("not implemented")
)

var statusErrors = []struct {
	status Status
	err    error
}{
	{StatusNotInitialized, ErrNotInitialized},
	{StatusInvalidParameter, ErrInvalidParameter},
	{StatusBadJPEG, ErrBadJPEG},
	{StatusJPEGNotSupported, ErrJPEGNotSupported},
	{StatusOutOfMemory, ErrOutOfMemory},
	{StatusExecutionFailed, ErrExecutionFailed},
	{StatusArchMismatch, ErrArchMismatch},
	{StatusInternalError, ErrInternal},
	{StatusImplementationNotSupported, ErrImplementationNotSupported},
	{StatusHWDecoderNotSupported, ErrHWDecoderNotSupported},
	{StatusRuntimeError, ErrRuntime},
	{StatusNotImplemented, ErrNotImplemented},
}

// StatusOf returns the status carried by err. Errors that carry no status
// report StatusInternalError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}

	for _, e := range statusErrors {
		if errors.Is(err, e.err) {
			return e.status
		}
	}

	return StatusInternalError
}

// Err returns the sentinel error of s, or nil for StatusSuccess.
func (s Status) Err() error {
	for _, e := range statusErrors {
		if e.status == s {
			return e.err
		}
	}

	if s == StatusSuccess {
		return nil
	}

	return ErrInternal
}

// classify returns the status of an error raised below the facade.
func classify(err error) Status {
	var (
		de *platform.DriverError
		re *platform.RuntimeError
	)

	switch {
	case errors.Is(err, parser.ErrUnsupported),
		errors.Is(err, engine.ErrNotSupported),
		errors.Is(err, transfer.ErrNotSupported):
		return StatusJPEGNotSupported
	case errors.Is(err, parser.ErrBadJPEG):
		return StatusBadJPEG
	case errors.Is(err, engine.ErrNoHardwareDecoder):
		return StatusHWDecoderNotSupported
	case errors.Is(err, engine.ErrSync):
		return StatusRuntimeError
	case errors.Is(err, engine.ErrClosed):
		return StatusNotInitialized
	case errors.Is(err, strided.ErrBounds):
		return StatusInvalidParameter
	case errors.Is(err, pool.ErrExhausted):
		return StatusOutOfMemory
	case errors.Is(err, platform.ErrUnsupportedPlatform):
		return StatusImplementationNotSupported
	case errors.As(err, &de):
		if de.Status == platform.StatusAllocationFailed {
			return StatusOutOfMemory
		}

		return StatusExecutionFailed
	case errors.As(err, &re):
		return StatusExecutionFailed
	default:
		return StatusInternalError
	}
}

// wrap attaches a status sentinel to err unless it already carries one.
func wrap(err error) error {
	if err == nil || StatusOf(err) != StatusInternalError || errors.Is(err, ErrInternal) {
		return err
	}

	return fmt.Errorf("%w: %w", classify(err).Err(), err)
}
