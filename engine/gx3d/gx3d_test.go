package gx3d

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	m "github.com/spaghettifunk/prism/engine/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scalars is a record used to exercise typed reads directly.
type scalars struct {
	Pi   float32
	Max  uint64
	Text string
}

func (*scalars) Kind() Kind { return KindConstraint }

func (p *scalars) Encode(e *Encoder) {
	e.F32(p.Pi)
	e.U64(p.Max)
	e.String(p.Text)
}

func (p *scalars) Decode(c *Cursor) {
	p.Pi = c.F32()
	p.Max = c.U64()
	p.Text = c.String()
}

func TestEndiannessRoundTrip(t *testing.T) {
	for _, order := range []binary.ByteOrder{SwappedOrder(), HostOrder()} {
		t.Run(order.String(), func(t *testing.T) {
			w := NewWriter(order)
			require.NoError(t, w.Add(7, &scalars{Pi: math.Pi, Max: math.MaxUint64, Text: "hi"}))
			data := w.Bytes()
			assert.Equal(t, orderMarker(order), data[0])

			c, err := OpenBytes(data)
			require.NoError(t, err)
			var got scalars
			require.NoError(t, c.Load(7, &got))
			assert.Equal(t, float32(math.Pi), got.Pi)
			assert.Equal(t, uint64(math.MaxUint64), got.Max)
			assert.Equal(t, "hi", got.Text)
		})
	}
}

func TestHostOrderMatchesNative(t *testing.T) {
	pair := []byte{1, 2}
	assert.Equal(t, binary.NativeEndian.Uint16(pair), HostOrder().Uint16(pair))
	assert.NotEqual(t, HostOrder().Uint16(pair), SwappedOrder().Uint16(pair))
	assert.Equal(t, orderMarker(HostOrder()), NewWriter(binary.NativeEndian).Bytes()[0])
}

func TestSwappedFlag(t *testing.T) {
	r, err := NewReader(bytesReader(NewWriter(SwappedOrder()).Bytes()))
	require.NoError(t, err)
	assert.True(t, r.Swapped())
	r, err = NewReader(bytesReader(NewWriter(nil).Bytes()))
	require.NoError(t, err)
	assert.False(t, r.Swapped())
}

func sampleRecords() map[uint64]Record {
	cube, idx := m.GeometryCube(1, 1, 1)
	return map[uint64]Record{
		1: &CameraRecord{Type: CameraPerspective, Name: "main", Position: m.Vec3{Z: 3}, Rotation: m.NewQuatIdentity(), Near: 0.1, Far: 100, FovY: 1, Aspect: 1.5},
		2: &CameraRecord{Type: CameraOrthographic, Name: "ui", Rotation: m.NewQuatIdentity(), Near: 0, Far: 1, Width: 640, Height: 480},
		3: &LightRecord{Type: LightDirectional, Name: "sun", Color: m.Vec3{X: 1, Y: 1, Z: 1}, Intensity: 3, CastsShadows: true, Direction: m.Vec3{X: -1, Y: -1, Z: -1}, CascadeCount: 4},
		4: &LightRecord{Type: LightPoint, Name: "lamp", Color: m.Vec3{X: 1}, Intensity: 1, Position: m.Vec3{Y: 2}, Radius: 5},
		5: &TextureRecord{Type: Texture2D, Data: []byte{1, 2, 3}},
		6: &FontRecord{Type: FontBitmap, Name: "mono", Size: 16, Path: "fonts/mono.fnt"},
		7: &FontRecord{Type: FontTrueType, Name: "sans", Size: 24, Data: []byte("ttf")},
		8: &MeshRecord{Vertices: cube, Indices: idx, CullingRadius: 0.87, Material: MaterialRecord{
			Type: MaterialOpaque, BaseColor: m.Vec4{X: 1, W: 1}, Metallic: 0.1, Roughness: 0.9, NormalScale: 1, OcclusionStrength: 1,
			Textures: [SlotCount]TextureSlot{SlotBaseColor: {Present: true, ID: 5}},
		}},
		9:  &ModelRecord{Name: "cube", Position: m.Vec3{X: 1}, Rotation: m.NewQuatIdentity(), Scale: m.NewVec3One(), Meshes: []uint64{8}, Children: []uint64{}},
		10: &SkyboxRecord{Type: 1, Texture: 5},
		11: &SceneRecord{Type: SceneGame, Cameras: []uint64{1}, Audios: []uint64{}, Lights: []uint64{3, 4}, Models: []uint64{9},
			HasSkybox: true, Skybox: 10, Constraints: []uint64{}, HasPostFX: true, PostFX: DefaultPostFX()},
	}
}

func emptyOf(r Record) Record {
	switch r.(type) {
	case *CameraRecord:
		return &CameraRecord{}
	case *LightRecord:
		return &LightRecord{}
	case *TextureRecord:
		return &TextureRecord{}
	case *FontRecord:
		return &FontRecord{}
	case *MeshRecord:
		return &MeshRecord{}
	case *ModelRecord:
		return &ModelRecord{}
	case *SkyboxRecord:
		return &SkyboxRecord{}
	case *SceneRecord:
		return &SceneRecord{}
	}
	panic("unknown record")
}

func TestWriteReadAllRecords(t *testing.T) {
	records := sampleRecords()
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		w := NewWriter(order)
		for id, r := range records {
			require.NoError(t, w.Add(id, r))
		}
		w.SetLastID(500)

		c, err := OpenBytes(w.Bytes())
		require.NoError(t, err)
		assert.Equal(t, uint64(500), c.LastID())

		total := 0
		for k := Kind(0); k < KindCount; k++ {
			total += len(c.IDs(k))
		}
		assert.Equal(t, len(records), total)

		for id, want := range records {
			got := emptyOf(want)
			require.NoError(t, c.Load(id, got), "record %d", id)
			assert.Equal(t, want, got, "record %d", id)
		}
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	w := NewWriter(nil)
	require.NoError(t, w.Add(1, &SkyboxRecord{}))
	assert.ErrorIs(t, w.Add(1, &SkyboxRecord{}), core.ErrInvalidState)
	assert.NoError(t, w.Add(1, &TextureRecord{Type: Texture2D}))
}

func TestOversizedStringRejected(t *testing.T) {
	w := NewWriter(nil)
	long := strings.Repeat("é", math.MaxUint16/2+1)
	assert.ErrorIs(t, w.Add(1, &scalars{Text: long}), core.ErrInvalidState)
	require.NoError(t, w.Add(2, &scalars{Text: long[:math.MaxUint16-1]}))

	c, err := OpenBytes(w.Bytes())
	require.NoError(t, err)
	assert.False(t, c.Has(KindConstraint, 1))
	var got scalars
	require.NoError(t, c.Load(2, &got))
	assert.Equal(t, long[:math.MaxUint16-1], got.Text)
}

func TestMalformedMarker(t *testing.T) {
	data := NewWriter(nil).Bytes()
	data[0] = 7
	_, err := OpenBytes(data)
	assert.ErrorIs(t, err, core.ErrMalformedAsset)
}

func TestShortReadIsIOError(t *testing.T) {
	w := NewWriter(nil)
	require.NoError(t, w.Add(1, &scalars{Pi: 1, Max: 2, Text: "hello"}))
	data := w.Bytes()
	c, err := OpenBytes(data[:len(data)-3])
	require.NoError(t, err)
	err = c.Load(1, &scalars{})
	assert.ErrorIs(t, err, core.ErrIO)

	_, err = OpenBytes(data[:5])
	assert.ErrorIs(t, err, core.ErrIO)
}

func TestDeclaredSizeExceedingFile(t *testing.T) {
	w := NewWriter(binary.LittleEndian)
	require.NoError(t, w.Add(1, &TextureRecord{Type: Texture2D, Data: []byte{1, 2, 3, 4}}))
	data := w.Bytes()
	// the byte count sits right after the type byte of the only record
	off := len(data) - 4 - 8
	binary.LittleEndian.PutUint64(data[off:], 1<<40)
	c, err := OpenBytes(data)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Load(1, &TextureRecord{}), core.ErrMalformedAsset)
}

func TestBadAttributeCount(t *testing.T) {
	w := NewWriter(nil)
	require.NoError(t, w.Add(1, &MeshRecord{Material: MaterialRecord{Type: MaterialOpaque}}))
	data := w.Bytes()
	c, err := OpenBytes(data)
	require.NoError(t, err)
	off := c.reader.Table(KindMesh).Offsets[1]
	data[off] = 9
	assert.ErrorIs(t, c.Load(1, &MeshRecord{}), core.ErrMalformedAsset)
}

func TestMissingIdentifier(t *testing.T) {
	c, err := OpenBytes(NewWriter(nil).Bytes())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Load(42, &MeshRecord{}), core.ErrResourceNotFound)
	assert.False(t, c.Has(KindMesh, 42))
}

func TestContainerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	w := NewWriter(nil)
	require.NoError(t, w.Add(1, &SkyboxRecord{Texture: 10}))
	require.NoError(t, os.WriteFile(path, w.Bytes(), 0o644))

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.Has(KindSkybox, 1))

	w = NewWriter(nil)
	require.NoError(t, w.Add(2, &SkyboxRecord{Texture: 20}))
	require.NoError(t, os.WriteFile(path, w.Bytes(), 0o644))
	require.NoError(t, c.Reload())
	assert.Equal(t, uint64(1), c.Generation())
	assert.False(t, c.Has(KindSkybox, 1))
	var s SkyboxRecord
	require.NoError(t, c.Load(2, &s))
	assert.Equal(t, uint64(20), s.Texture)

	require.NoError(t, os.WriteFile(path, []byte{9}, 0o644))
	assert.Error(t, c.Reload())
	assert.True(t, c.Has(KindSkybox, 2), "failed reload keeps the previous contents")

	_, err = Open(filepath.Join(t.TempDir(), "missing.gx3d"))
	assert.ErrorIs(t, err, core.ErrIO)
}

func bytesReader(b []byte) (*bytesAt, int64) {
	return &bytesAt{b}, int64(len(b))
}

type bytesAt struct{ b []byte }

func (r *bytesAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
