// Package hostrt is a compute runtime that runs on the host CPU. Exported
// surfaces are imported by mapping their DMA-BUF file descriptors, and
// streams execute copies and kernels in order on a worker goroutine.
package hostrt

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gen2brain/vcnjpeg/internal/platform"
	"github.com/gen2brain/vcnjpeg/internal/strided"
)

// ErrClosed is returned when work is enqueued on a closed stream.
var ErrClosed = errors.New("hostrt: stream closed")

// queueDepth is the number of operations a stream buffers before Enqueue blocks.
const queueDepth = 64

// Runtime is the host compute runtime.
type Runtime struct {
	// Workers is the number of goroutines a kernel launch fans out to.
	// Zero selects GOMAXPROCS.
	Workers int
}

// New returns a runtime using every available CPU.
func New() *Runtime {
	return &Runtime{}
}

func (r *Runtime) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}

	return runtime.GOMAXPROCS(0)
}

// NewStream starts a new in-order stream.
func (r *Runtime) NewStream() (platform.Stream, error) {
	s := &stream{
		ops:     make(chan func() error, queueDepth),
		done:    make(chan struct{}),
		workers: r.workers(),
	}

	go s.loop()

	return s, nil
}

// stream executes enqueued operations one at a time. After the first failure
// the remaining operations are dropped until Synchronize reports the error.
type stream struct {
	ops     chan func() error
	done    chan struct{}
	pending sync.WaitGroup
	workers int

	mu     sync.Mutex // Guards closed and sends on ops.
	closed bool

	errMu sync.Mutex
	err   error
}

func (s *stream) loop() {
	defer close(s.done)

	for op := range s.ops {
		s.errMu.Lock()
		failed := s.err != nil
		s.errMu.Unlock()

		if !failed {
			if err := op(); err != nil {
				s.errMu.Lock()
				s.err = err
				s.errMu.Unlock()
			}
		}

		s.pending.Done()
	}
}

func (s *stream) enqueue(op func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.pending.Add(1)
	s.ops <- op

	return nil
}

// Memcpy copies src into the start of dst.
func (s *stream) Memcpy(dst, src []byte) error {
	if len(dst) < len(src) {
		return fmt.Errorf("copy of %d bytes into %d: %w", len(src), len(dst), strided.ErrBounds)
	}

	return s.enqueue(func() error {
		copy(dst, src)

		return nil
	})
}

// Memcpy2D copies height rows of width bytes between pitched buffers.
func (s *stream) Memcpy2D(dst []byte, dstPitch int, src []byte, srcPitch int, width, height int) error {
	if err := strided.Check(dst, dstPitch, src, srcPitch, width, height); err != nil {
		return err
	}

	return s.enqueue(func() error {
		return strided.Copy(dst, dstPitch, src, srcPitch, width, height)
	})
}

// Launch runs k over its grid, split into contiguous row ranges.
func (s *stream) Launch(k platform.Kernel) error {
	if k == nil {
		return errors.New("hostrt: nil kernel")
	}

	return s.enqueue(func() error {
		return run(k, s.workers)
	})
}

// run splits the grid of k across at most workers goroutines.
func run(k platform.Kernel, workers int) error {
	grid := k.Grid()
	if grid <= 0 {
		return nil
	}

	workers = min(max(workers, 1), grid)
	step := (grid + workers - 1) / workers

	var g errgroup.Group
	g.SetLimit(workers)

	for lo := 0; lo < grid; lo += step {
		hi := min(lo+step, grid)

		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &platform.RuntimeError{Op: "kernel " + k.Name(), Err: fmt.Errorf("rows %d-%d: %v", lo, hi, r)}
				}
			}()

			k.Run(lo, hi)

			return nil
		})
	}

	return g.Wait()
}

// Synchronize waits for every enqueued operation and returns the first
// failure since the previous Synchronize.
func (s *stream) Synchronize() error {
	s.pending.Wait()

	s.errMu.Lock()
	defer s.errMu.Unlock()

	err := s.err
	s.err = nil

	return err
}

// Close drains the stream and stops its worker.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	close(s.ops)
	s.mu.Unlock()

	<-s.done

	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.err
}
