package testbed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/math"
)

// Identifiers of the sample world records.
const (
	CubeMesh   uint64 = 100
	PlaneMesh  uint64 = 101
	CubeModel  uint64 = 200
	PlaneModel uint64 = 201
	MainCamera uint64 = 300
	Sun        uint64 = 400
	WorldScene uint64 = 500
)

func solid(r, g, b float32) gx3d.MaterialRecord {
	return gx3d.MaterialRecord{
		Type:              gx3d.MaterialOpaque,
		BaseColor:         math.NewVec4(r, g, b, 1),
		Roughness:         0.8,
		NormalScale:       1,
		OcclusionStrength: 1,
	}
}

// World builds the sample container: a cube floating over a plane, lit by
// a shadow-casting sun and seen from a single perspective camera.
func World() (*gx3d.Writer, error) {
	w := gx3d.NewWriter(gx3d.HostOrder())

	cv, ci := math.GeometryCube(1, 1, 1)
	pv, pi := math.GeometryPlane(20, 20, 4, 4)
	records := []struct {
		id  uint64
		rec gx3d.Record
	}{
		{CubeMesh, &gx3d.MeshRecord{Vertices: cv, Indices: ci, Material: solid(0.8, 0.1, 0.1)}},
		{PlaneMesh, &gx3d.MeshRecord{Vertices: pv, Indices: pi, Material: solid(0.6, 0.6, 0.6)}},
		{CubeModel, &gx3d.ModelRecord{
			Name:     "cube",
			Position: math.NewVec3(0, 1, 0),
			Rotation: math.NewQuatIdentity(),
			Scale:    math.NewVec3One(),
			Meshes:   []uint64{CubeMesh},
		}},
		{PlaneModel, &gx3d.ModelRecord{
			Name:     "plane",
			Rotation: math.NewQuatIdentity(),
			Scale:    math.NewVec3One(),
			Meshes:   []uint64{PlaneMesh},
		}},
		{MainCamera, &gx3d.CameraRecord{
			Type:     gx3d.CameraPerspective,
			Name:     "main",
			Position: math.NewVec3(0, 3, 8),
			Rotation: math.NewQuatIdentity(),
			Near:     0.1,
			Far:      100,
			FovY:     math.DegToRad(60),
			Aspect:   16.0 / 9.0,
		}},
		{Sun, &gx3d.LightRecord{
			Type:         gx3d.LightDirectional,
			Name:         "sun",
			Color:        math.NewVec3One(),
			Intensity:    3,
			CastsShadows: true,
			Direction:    math.NewVec3(-1, -2, -1),
			CascadeCount: 3,
		}},
		{WorldScene, &gx3d.SceneRecord{
			Type:    gx3d.SceneGame,
			Cameras: []uint64{MainCamera},
			Lights:  []uint64{Sun},
			Models:  []uint64{PlaneModel, CubeModel},
		}},
	}
	for _, r := range records {
		if err := w.Add(r.id, r.rec); err != nil {
			return nil, fmt.Errorf("sample world record %d: %w", r.id, err)
		}
	}
	return w, nil
}

// EnsureWorld writes the sample container into dir unless one is already
// there. It reports whether a file was written.
func EnsureWorld(dir string) (bool, error) {
	path := filepath.Join(dir, gx3d.FileName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w: %w", path, core.ErrIO, err)
	}

	w, err := World()
	if err != nil {
		return false, err
	}
	f, err := os.Create(path)
	if err != nil {
		return false, fmt.Errorf("create %s: %w: %w", path, core.ErrIO, err)
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w: %w", path, core.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w: %w", path, core.ErrIO, err)
	}
	core.LogInfo("sample world written to %s", path)
	return true, nil
}
