package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/vcnjpeg/internal/platform"
)

type fakeDriver struct {
	platform.Driver

	contexts []platform.ContextID
	surfaces []platform.SurfaceID
	exports  int
}

func (d *fakeDriver) DestroyContext(ctx platform.ContextID) error {
	d.contexts = append(d.contexts, ctx)

	return nil
}

func (d *fakeDriver) DestroySurfaces(surfaces []platform.SurfaceID) error {
	d.surfaces = append(d.surfaces, surfaces...)

	return nil
}

func (d *fakeDriver) ExportSurfaceHandle(s platform.SurfaceID, memType, flags uint32) (*platform.PRIMEDescriptor, error) {
	d.exports++

	return &platform.PRIMEDescriptor{
		FourCC:  platform.FourCCYUYV,
		Width:   64,
		Height:  32,
		Objects: []platform.PRIMEObject{{FD: -1, Size: 8192}},
		Layers:  []platform.PRIMELayer{{NumPlanes: 1, Offset: [4]uint32{0}, Pitch: [4]uint32{256}}},
	}, nil
}

type fakeRuntime struct {
	imports, closed int
}

func (r *fakeRuntime) ImportExternalMemory(fd int, size int) (platform.ExternalMemory, error) {
	r.imports++

	return &fakeMemory{r: r, b: make([]byte, size)}, nil
}

func (r *fakeRuntime) NewStream() (platform.Stream, error) {
	return nil, errors.New("not used")
}

type fakeMemory struct {
	r *fakeRuntime
	b []byte
}

func (m *fakeMemory) Bytes() []byte { return m.b }

func (m *fakeMemory) Close() error {
	m.r.closed++

	return nil
}

func newPool(capacity int) (*Pool, *fakeDriver, *fakeRuntime) {
	d, r := &fakeDriver{}, &fakeRuntime{}

	return New(d, r, capacity, nil), d, r
}

func entry(w, h int, ctx platform.ContextID, surfaces ...platform.SurfaceID) *Entry {
	return &Entry{
		Key:      Key{FourCC: platform.FourCCNV12, Width: w, Height: h},
		Surfaces: surfaces,
		Context:  ctx,
	}
}

func TestGetAdd(t *testing.T) {
	p, _, _ := newPool(2)
	key := Key{FourCC: platform.FourCCNV12, Width: 64, Height: 64}

	_, ok := p.Get(key, 1)
	assert.False(t, ok)

	e := entry(64, 64, 1, 10)
	require.NoError(t, p.Add(e))
	assert.True(t, e.Busy())
	assert.Len(t, e.Mappings, 1)

	_, ok = p.Get(key, 1)
	assert.False(t, ok, "busy entry returned")

	require.NoError(t, p.Release(10))

	got, ok := p.Get(key, 1)
	require.True(t, ok)
	assert.Same(t, e, got)
	assert.True(t, got.Busy())

	require.NoError(t, p.Release(10))

	_, ok = p.Get(key, 2)
	assert.False(t, ok, "surface count ignored")

	_, ok = p.Get(Key{FourCC: platform.FourCCYUY2, Width: 64, Height: 64}, 1)
	assert.False(t, ok, "format ignored")
}

func TestEvictOldest(t *testing.T) {
	p, d, r := newPool(2)

	for i, size := range []int{64, 128, 256} {
		e := entry(size, size, platform.ContextID(i+1), platform.SurfaceID(10+i))
		require.NoError(t, p.Add(e))

		_, err := p.Mapping(e.Surfaces[0])
		require.NoError(t, err)

		require.NoError(t, p.Release(e.Surfaces[0]))
	}

	assert.Equal(t, 1, p.Evicted())
	assert.Equal(t, 2, p.Len(platform.FourCCNV12))
	assert.Equal(t, []platform.ContextID{1}, d.contexts)
	assert.Equal(t, []platform.SurfaceID{10}, d.surfaces)
	assert.Equal(t, 3, r.imports)
	assert.Equal(t, 1, r.closed)

	_, ok := p.Get(Key{FourCC: platform.FourCCNV12, Width: 64, Height: 64}, 1)
	assert.False(t, ok, "evicted entry still cached")

	require.NoError(t, p.Close())

	assert.ElementsMatch(t, []platform.ContextID{1, 2, 3}, d.contexts)
	assert.ElementsMatch(t, []platform.SurfaceID{10, 11, 12}, d.surfaces)
	assert.Equal(t, 3, r.closed)
	assert.Equal(t, 0, p.Len(platform.FourCCNV12))
}

func TestReplaceIdleSameKey(t *testing.T) {
	p, d, _ := newPool(4)

	require.NoError(t, p.Add(entry(64, 64, 1, 10)))
	require.NoError(t, p.Release(10))
	require.NoError(t, p.Add(entry(64, 64, 2, 11)))

	assert.Equal(t, 1, p.Len(platform.FourCCNV12))
	assert.Equal(t, []platform.ContextID{1}, d.contexts)
}

func TestExhausted(t *testing.T) {
	p, d, _ := newPool(1)

	require.NoError(t, p.Add(entry(64, 64, 1, 10)))

	err := p.Add(entry(128, 128, 2, 11))
	require.ErrorIs(t, err, ErrExhausted)
	assert.Empty(t, d.contexts)
	assert.Equal(t, 1, p.Len(platform.FourCCNV12))
}

func TestMappingCached(t *testing.T) {
	p, d, r := newPool(2)

	require.NoError(t, p.Add(entry(64, 32, 1, 10, 11)))

	m, err := p.Mapping(11)
	require.NoError(t, err)

	again, err := p.Mapping(11)
	require.NoError(t, err)

	assert.Same(t, m, again)
	assert.Equal(t, 1, d.exports)
	assert.Equal(t, 1, r.imports)

	assert.Equal(t, platform.FourCCYUY2, m.FourCC)
	assert.Equal(t, 1, m.Layers)
	assert.Equal(t, []Plane{{Offset: 0, Pitch: 256}}, m.Planes)
	assert.Len(t, m.Bytes(), 8192)

	pix, pitch := m.Plane(0)
	assert.Len(t, pix, 8192)
	assert.Equal(t, 256, pitch)

	pix, _ = m.Plane(1)
	assert.Nil(t, pix)

	_, err = p.Mapping(10)
	require.NoError(t, err)
	assert.Equal(t, 2, d.exports)
}

func TestDelete(t *testing.T) {
	p, d, r := newPool(2)

	require.NoError(t, p.Add(entry(64, 64, 1, 10)))

	_, err := p.Mapping(10)
	require.NoError(t, err)

	require.NoError(t, p.Delete(10))
	assert.Equal(t, 0, p.Len(platform.FourCCNV12))
	assert.Equal(t, []platform.ContextID{1}, d.contexts)
	assert.Equal(t, 1, r.closed)

	require.ErrorIs(t, p.Delete(10), ErrNotFound)
	require.ErrorIs(t, p.Release(10), ErrNotFound)

	_, err = p.Mapping(10)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.Close())
	assert.Len(t, d.contexts, 1)
}
