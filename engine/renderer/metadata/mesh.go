package metadata

import (
	"fmt"
	"runtime"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/math"
)

// Mesh is immutable once built: static vertex and index buffers, a culling
// radius around the model origin and the material it is drawn with.
type Mesh struct {
	Object
	VertexCount   uint32
	IndexCount    uint32
	CullingRadius float32
	Bounds        math.AABB
	Material      *Material

	vertices *gpu.BufferRange
	indices  *gpu.BufferRange
}

func NewMesh(ctx *gpu.Context, id uint64, name string, vertices []math.Vertex3D, indices []uint32, radius float32, material *Material) (*Mesh, error) {
	if len(vertices) == 0 || len(indices) == 0 || material == nil {
		return nil, fmt.Errorf("mesh %q: %d vertices, %d indices: %w", name, len(vertices), len(indices), core.ErrMalformedAsset)
	}
	vb, err := ctx.Buffers.UploadStatic(gpu.VertexBytes(vertices))
	if err != nil {
		return nil, fmt.Errorf("mesh %q vertices: %w", name, err)
	}
	ib, err := ctx.Buffers.UploadStatic(gpu.IndexBytes(indices))
	if err != nil {
		ctx.Buffers.Free(vb)
		return nil, fmt.Errorf("mesh %q indices: %w", name, err)
	}
	bounds := math.EmptyAABB()
	for i := range vertices {
		bounds = bounds.Expand(vertices[i].Position)
	}
	if radius <= 0 {
		radius = math.BoundingRadius(vertices)
	}
	m := &Mesh{
		VertexCount:   uint32(len(vertices)),
		IndexCount:    uint32(len(indices)),
		CullingRadius: radius,
		Bounds:        bounds,
		Material:      material,
		vertices:      vb,
		indices:       ib,
	}
	m.InitObject(id, name)
	buffers := ctx.Buffers
	runtime.AddCleanup(m, func(r [2]*gpu.BufferRange) {
		ctx.Release("mesh "+name, func() {
			buffers.Free(r[0])
			buffers.Free(r[1])
		})
	}, [2]*gpu.BufferRange{vb, ib})
	return m, nil
}

// Draw binds the buffers and issues one indexed draw.
func (m *Mesh) Draw(cmd gpu.CommandBuffer) {
	cmd.BindVertexBuffer(m.vertices.Buffer(), m.vertices.Offset())
	cmd.BindIndexBuffer(m.indices.Buffer(), m.indices.Offset())
	cmd.DrawIndexed(m.IndexCount, 1, 0, 0, 0)
}
