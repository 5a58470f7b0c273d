package systems

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type MeshSystem struct {
	cache          *Cache[metadata.Mesh]
	materialSystem *MaterialSystem
	assetManager   *assets.AssetManager
	ctx            *gpu.Context
}

func NewMeshSystem(ms *MaterialSystem, am *assets.AssetManager, ctx *gpu.Context) *MeshSystem {
	return &MeshSystem{
		cache:          NewCache[metadata.Mesh]("mesh"),
		materialSystem: ms,
		assetManager:   am,
		ctx:            ctx,
	}
}

// Get returns the mesh stored under id, uploading it on a miss.
func (mls *MeshSystem) Get(id uint64) (*metadata.Mesh, error) {
	return mls.cache.Get(id, mls.load)
}

func (mls *MeshSystem) load(id uint64) (*metadata.Mesh, error) {
	var rec gx3d.MeshRecord
	if err := mls.assetManager.Container().Load(id, &rec); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("mesh-%d", id)
	mat, err := mls.materialSystem.FromRecord(name+"/material", &rec.Material)
	if err != nil {
		return nil, err
	}
	radius := rec.CullingRadius
	if radius <= 0 {
		radius = math.BoundingRadius(rec.Vertices)
	}
	core.LogDebug("mesh %d: %d vertices, %d indices", id, len(rec.Vertices), len(rec.Indices))
	return metadata.NewMesh(mls.ctx, id, name, rec.Vertices, rec.Indices, radius, mat)
}

// Create uploads runtime geometry under a fresh identifier. A nil material
// means the default one.
func (mls *MeshSystem) Create(name string, vertices []math.Vertex3D, indices []uint32, material *metadata.Material) (*metadata.Mesh, error) {
	if material == nil {
		var err error
		if material, err = mls.materialSystem.Default(); err != nil {
			return nil, err
		}
	}
	mesh, err := metadata.NewMesh(mls.ctx, 0, name, vertices, indices, math.BoundingRadius(vertices), material)
	if err != nil {
		return nil, err
	}
	if err := mls.cache.Add(mesh); err != nil {
		return nil, err
	}
	return mesh, nil
}

// Cube creates a box centered on the origin.
func (mls *MeshSystem) Cube(name string, width, height, depth float32, material *metadata.Material) (*metadata.Mesh, error) {
	vertices, indices := math.GeometryCube(width, height, depth)
	return mls.Create(name, vertices, indices, material)
}

// Plane creates a horizontal plane facing +Y.
func (mls *MeshSystem) Plane(name string, width, depth float32, segments uint32, material *metadata.Material) (*metadata.Mesh, error) {
	vertices, indices := math.GeometryPlane(width, depth, segments, segments)
	return mls.Create(name, vertices, indices, material)
}

func (mls *MeshSystem) ByName(name string) *metadata.Mesh {
	return mls.cache.ByName(name)
}

func (mls *MeshSystem) Cache() *Cache[metadata.Mesh] {
	return mls.cache
}

func (mls *MeshSystem) Shutdown() error {
	return nil
}
