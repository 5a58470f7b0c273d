package systems

import (
	"fmt"
	"slices"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/components"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type ModelSystem struct {
	cache        *Cache[components.Model]
	meshSystem   *MeshSystem
	assetManager *assets.AssetManager
}

func NewModelSystem(ms *MeshSystem, am *assets.AssetManager) *ModelSystem {
	return &ModelSystem{
		cache:        NewCache[components.Model]("model"),
		meshSystem:   ms,
		assetManager: am,
	}
}

// Get loads the model stored under id together with its meshes and, in turn,
// its children.
func (mos *ModelSystem) Get(id uint64) (*components.Model, error) {
	if m := mos.cache.Lookup(id); m != nil {
		return m, nil
	}
	// Concurrent loads of two models that are each other's descendants
	// would wait on one another inside the cache, so the hierarchy is
	// checked before any load starts.
	if err := mos.checkHierarchy(id); err != nil {
		return nil, err
	}
	return mos.get(id, nil)
}

// checkHierarchy walks the child records below id and fails on a cycle.
// Subtrees with a live instance were already checked when they loaded.
func (mos *ModelSystem) checkHierarchy(id uint64) error {
	const (
		visiting = iota + 1
		done
	)
	container := mos.assetManager.Container()
	state := make(map[uint64]uint8)
	var visit func(id uint64) error
	visit = func(id uint64) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("model %d is its own ancestor: %w", id, core.ErrMalformedAsset)
		case done:
			return nil
		}
		if mos.cache.Lookup(id) != nil {
			state[id] = done
			return nil
		}
		state[id] = visiting
		var rec gx3d.ModelRecord
		if err := container.Load(id, &rec); err != nil {
			return err
		}
		for _, cid := range rec.Children {
			if err := visit(cid); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	return visit(id)
}

func (mos *ModelSystem) get(id uint64, path []uint64) (*components.Model, error) {
	for _, p := range path {
		if p == id {
			return nil, fmt.Errorf("model %d is its own ancestor: %w", id, core.ErrMalformedAsset)
		}
	}
	return mos.cache.Get(id, func(id uint64) (*components.Model, error) {
		return mos.load(id, append(slices.Clone(path), id))
	})
}

func (mos *ModelSystem) load(id uint64, path []uint64) (*components.Model, error) {
	var rec gx3d.ModelRecord
	if err := mos.assetManager.Container().Load(id, &rec); err != nil {
		return nil, err
	}
	meshes := make([]*metadata.Mesh, 0, len(rec.Meshes))
	for _, mid := range rec.Meshes {
		mesh, err := mos.meshSystem.Get(mid)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", rec.Name, err)
		}
		meshes = append(meshes, mesh)
	}
	scale := rec.Scale
	if scale == (math.Vec3{}) {
		scale = math.NewVec3One()
	}
	rotation := rec.Rotation
	if rotation == (math.Quaternion{}) {
		rotation = math.NewQuatIdentity()
	}
	transform := math.TransformFromPositionRotationScale(rec.Position, rotation.Normalize(), scale)
	m := components.NewModel(id, rec.Name, transform, meshes)
	for _, cid := range rec.Children {
		child, err := mos.get(cid, path)
		if err != nil {
			return nil, fmt.Errorf("model %q child: %w", rec.Name, err)
		}
		m.AddChild(child)
	}
	return m, nil
}

// Create builds a runtime model under a fresh identifier.
func (mos *ModelSystem) Create(name string, transform *math.Transform, meshes ...*metadata.Mesh) (*components.Model, error) {
	m := components.NewModel(0, name, transform, meshes)
	if err := mos.cache.Add(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (mos *ModelSystem) ByName(name string) *components.Model {
	return mos.cache.ByName(name)
}

func (mos *ModelSystem) Cache() *Cache[components.Model] {
	return mos.cache
}

func (mos *ModelSystem) Shutdown() error {
	return nil
}
