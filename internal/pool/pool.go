// Package pool caches hardware decode surfaces, their decode contexts and
// their compute runtime mappings, keyed by pixel format and size.
//
// A Pool has no internal locking; callers serialize access.
package pool

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/gen2brain/vcnjpeg/internal/platform"
)

// Standard error types for the pool.
var (
	ErrExhausted = errors.New("pool: no idle entry to evict")
	ErrNotFound  = errors.New("pool: surface not found")
)

// Key identifies interchangeable surfaces.
type Key struct {
	FourCC        platform.FourCC
	Width, Height int
}

// Entry is a group of surfaces sharing one decode context.
type Entry struct {
	Key      Key
	Surfaces []platform.SurfaceID
	Context  platform.ContextID
	// Mappings holds the lazily created mapping of each surface.
	Mappings []*Mapping

	busy bool
}

// Busy reports whether the entry is in use.
func (e *Entry) Busy() bool {
	return e.busy
}

func (e *Entry) index(s platform.SurfaceID) int {
	return slices.Index(e.Surfaces, s)
}

// Pool is a bounded cache of entries with one bucket per surface format.
type Pool struct {
	driver   platform.Driver
	runtime  platform.Runtime
	capacity int
	log      logrus.FieldLogger

	buckets map[platform.FourCC][]*Entry
	evicted int
}

// New returns a pool holding at most capacity entries per format.
func New(driver platform.Driver, runtime platform.Runtime, capacity int, log logrus.FieldLogger) *Pool {
	if capacity < 1 {
		capacity = 1
	}

	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.ErrorLevel)
		log = l
	}

	return &Pool{
		driver:   driver,
		runtime:  runtime,
		capacity: capacity,
		log:      log,
		buckets:  make(map[platform.FourCC][]*Entry),
	}
}

// Capacity returns the per-format capacity.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Len returns the number of entries in the bucket of fourcc.
func (p *Pool) Len(fourcc platform.FourCC) int {
	return len(p.buckets[fourcc])
}

// Evicted returns the number of entries evicted to make room.
func (p *Pool) Evicted() int {
	return p.evicted
}

func (p *Pool) fields(k Key) logrus.Fields {
	return logrus.Fields{"fourcc": k.FourCC.String(), "width": k.Width, "height": k.Height}
}

// Get returns an idle entry of key holding n surfaces and marks it busy.
func (p *Pool) Get(key Key, n int) (*Entry, bool) {
	for _, e := range p.buckets[key.FourCC] {
		if !e.busy && e.Key == key && len(e.Surfaces) == n {
			e.busy = true

			return e, true
		}
	}

	return nil, false
}

// Add inserts a busy entry. An idle entry of the same key and surface count
// is replaced. When the bucket is full the oldest idle entry is evicted and
// released first.
func (p *Pool) Add(e *Entry) error {
	bucket := p.buckets[e.Key.FourCC]

	i := slices.IndexFunc(bucket, func(o *Entry) bool {
		return !o.busy && o.Key == e.Key && len(o.Surfaces) == len(e.Surfaces)
	})

	if i < 0 && len(bucket) >= p.capacity {
		i = slices.IndexFunc(bucket, func(o *Entry) bool { return !o.busy })
		if i < 0 {
			return fmt.Errorf("%v bucket of %d: %w", e.Key.FourCC, len(bucket), ErrExhausted)
		}
	}

	var err error
	if i >= 0 {
		old := bucket[i]
		bucket = slices.Delete(bucket, i, i+1)

		p.evicted++
		p.log.WithFields(p.fields(old.Key)).Debug("evict pool entry")

		err = p.release(old)
	}

	if len(e.Mappings) != len(e.Surfaces) {
		e.Mappings = make([]*Mapping, len(e.Surfaces))
	}

	e.busy = true
	p.buckets[e.Key.FourCC] = append(bucket, e)

	p.log.WithFields(p.fields(e.Key)).WithField("surfaces", len(e.Surfaces)).Debug("add pool entry")

	return err
}

// release closes the mappings, then destroys the context and the surfaces.
func (p *Pool) release(e *Entry) error {
	var errs []error
	for i, m := range e.Mappings {
		if m != nil {
			errs = append(errs, m.Close())
			e.Mappings[i] = nil
		}
	}

	errs = append(errs, p.driver.DestroyContext(e.Context))
	errs = append(errs, p.driver.DestroySurfaces(e.Surfaces))

	return errors.Join(errs...)
}

// lookup returns the entry holding surface s.
func (p *Pool) lookup(s platform.SurfaceID) (*Entry, int, error) {
	for _, bucket := range p.buckets {
		for _, e := range bucket {
			if i := e.index(s); i >= 0 {
				return e, i, nil
			}
		}
	}

	return nil, -1, fmt.Errorf("surface %d: %w", s, ErrNotFound)
}

// Has reports whether surface s belongs to a pooled entry.
func (p *Pool) Has(s platform.SurfaceID) bool {
	_, _, err := p.lookup(s)

	return err == nil
}

// Delete removes and releases the entry holding surface s.
func (p *Pool) Delete(s platform.SurfaceID) error {
	e, _, err := p.lookup(s)
	if err != nil {
		return err
	}

	bucket := p.buckets[e.Key.FourCC]
	p.buckets[e.Key.FourCC] = slices.DeleteFunc(bucket, func(o *Entry) bool { return o == e })

	return p.release(e)
}

// Release marks the entry holding surface s idle.
func (p *Pool) Release(s platform.SurfaceID) error {
	e, _, err := p.lookup(s)
	if err != nil {
		return err
	}

	e.busy = false

	return nil
}

// Mapping returns the runtime mapping of surface s, exporting and importing
// the surface on first use.
func (p *Pool) Mapping(s platform.SurfaceID) (*Mapping, error) {
	e, i, err := p.lookup(s)
	if err != nil {
		return nil, err
	}

	if m := e.Mappings[i]; m != nil {
		return m, nil
	}

	m, err := p.mapSurface(s)
	if err != nil {
		return nil, err
	}

	e.Mappings[i] = m

	return m, nil
}

// Close releases every entry.
func (p *Pool) Close() error {
	var errs []error
	for fourcc, bucket := range p.buckets {
		for _, e := range bucket {
			errs = append(errs, p.release(e))
		}

		delete(p.buckets, fourcc)
	}

	return errors.Join(errs...)
}
