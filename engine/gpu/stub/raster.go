package stub

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	m "github.com/spaghettifunk/prism/engine/math"
)

const (
	maxVaryings = 16
	maxOutputs  = 4
)

type varyings [maxVaryings]float32

type fragmentOut [maxOutputs][4]float32

// instance is a program bound to the uniforms and textures of one draw.
type instance interface {
	vertex(index uint32, v *m.Vertex3D) (m.Vec4, varyings)
	// fragment returns false to discard.
	fragment(in *varyings, out *fragmentOut) bool
}

type program interface {
	outputs() int
	varyings() int
	bind(e *env) (instance, error)
}

type drawCall struct {
	count        uint32
	instances    uint32
	first        uint32
	vertexOffset int32
	indexed      bool
}

type screenVertex struct {
	x, y, z float32
	invW    float32
	vary    varyings
}

type rasterTarget struct {
	colors   []*imageView
	depth    *imageView
	readOnly bool
	extent   gpu.Extent
	viewport gpu.Viewport
	scissor  gpu.Rect
}

func (ex *executor) draw(dc drawCall) error {
	if ex.fb == nil {
		return fmt.Errorf("draw outside a render pass: %w", core.ErrInvalidState)
	}
	p := ex.state.pipeline
	if p == nil {
		return fmt.Errorf("draw without a pipeline: %w", core.ErrInvalidState)
	}
	if p.desc.RenderPass.ID() != ex.fb.pass.id {
		return fmt.Errorf("pipeline %s built for another render pass than %q: %w", p.desc.Type, ex.fb.pass.desc.Name, core.ErrInvalidState)
	}
	if dc.instances == 0 || dc.count < 3 {
		return nil
	}
	if p.desc.VertexInput && ex.state.vertices == nil {
		return fmt.Errorf("%s draw without vertex buffer: %w", p.desc.Type, core.ErrInvalidState)
	}
	if dc.indexed && ex.state.indices == nil {
		return fmt.Errorf("%s indexed draw without index buffer: %w", p.desc.Type, core.ErrInvalidState)
	}

	inst, err := p.program.bind(&env{state: &ex.state})
	if err != nil {
		return fmt.Errorf("%s: %w", p.desc.Type, err)
	}
	target := ex.target()

	nvary := p.program.varyings()
	var tri [3]screenVertex
	var skip bool
	for t := uint32(0); t+2 < dc.count; t += 3 {
		skip = false
		for k := uint32(0); k < 3; k++ {
			index := dc.first + t + k
			if dc.indexed {
				index, err = ex.index(index)
				if err != nil {
					return err
				}
				index = uint32(int64(index) + int64(dc.vertexOffset))
			}
			var vtx m.Vertex3D
			if p.desc.VertexInput {
				if vtx, err = ex.vertex(index); err != nil {
					return err
				}
			}
			clip, vary := inst.vertex(index, &vtx)
			if clip.W <= 0 {
				skip = true
				break
			}
			tri[k] = target.toScreen(clip, vary)
		}
		if !skip {
			ex.rasterize(target, p, inst, &tri, nvary)
		}
	}
	return nil
}

func (ex *executor) target() *rasterTarget {
	desc := ex.fb.pass.desc
	t := &rasterTarget{extent: ex.fb.extent, readOnly: desc.DepthReadOnly}
	for i := range desc.Colors {
		t.colors = append(t.colors, ex.fb.attachments[i].(*imageView))
	}
	if desc.Depth != nil {
		t.depth = ex.fb.attachments[len(desc.Colors)].(*imageView)
	}
	t.viewport = gpu.FlippedViewport(t.extent)
	if ex.state.hasViewport {
		t.viewport = ex.state.viewport
	}
	t.scissor = gpu.Rect{Width: t.extent.Width, Height: t.extent.Height}
	if ex.state.hasScissor {
		t.scissor = ex.state.scissor
	}
	return t
}

func (ex *executor) index(i uint32) (uint32, error) {
	b := ex.state.indices
	off := ex.state.indexOffset + uint64(i)*4
	if off+4 > uint64(len(b.data)) {
		return 0, fmt.Errorf("index %d beyond %q: %w", i, b.desc.Name, core.ErrInvalidState)
	}
	return binary.NativeEndian.Uint32(b.data[off:]), nil
}

func (ex *executor) vertex(i uint32) (m.Vertex3D, error) {
	b := ex.state.vertices
	off := ex.state.vertexOffset + uint64(i)*m.VertexSize
	if off+m.VertexSize > uint64(len(b.data)) {
		return m.Vertex3D{}, fmt.Errorf("vertex %d beyond %q: %w", i, b.desc.Name, core.ErrInvalidState)
	}
	var f [m.VertexFloatCount]float32
	for k := range f {
		f[k] = math.Float32frombits(binary.NativeEndian.Uint32(b.data[off+uint64(k)*4:]))
	}
	return m.VertexFromFloats(f[:]), nil
}

func (t *rasterTarget) toScreen(clip m.Vec4, vary varyings) screenVertex {
	inv := 1 / clip.W
	vp := t.viewport
	return screenVertex{
		x:    vp.X + (clip.X*inv+1)*0.5*vp.Width,
		y:    vp.Y + (clip.Y*inv+1)*0.5*vp.Height,
		z:    vp.MinDepth + clip.Z*inv*(vp.MaxDepth-vp.MinDepth),
		invW: inv,
		vary: vary,
	}
}

func edge(ax, ay, bx, by, cx, cy float32) float32 {
	return (bx-ax)*(cy-ay) - (by-ay)*(cx-ax)
}

// owns breaks ties for pixels exactly on an edge so that two triangles
// sharing it never both cover the pixel.
func owns(ax, ay, bx, by float32) bool {
	dy, dx := by-ay, bx-ax
	return dy > 0 || (dy == 0 && dx < 0)
}

func (ex *executor) rasterize(t *rasterTarget, p *pipeline, inst instance, tri *[3]screenVertex, nvary int) {
	v0, v1, v2 := &tri[0], &tri[1], &tri[2]
	area := edge(v0.x, v0.y, v1.x, v1.y, v2.x, v2.y)
	if area == 0 {
		return
	}
	// counter-clockwise in NDC is the front face
	ndcArea := area
	if (t.viewport.Height < 0) != (t.viewport.Width < 0) {
		ndcArea = -area
	}
	front := ndcArea > 0
	switch p.desc.Cull {
	case gpu.CullBack:
		if !front {
			return
		}
	case gpu.CullFront:
		if front {
			return
		}
	}
	if area < 0 {
		v1, v2 = v2, v1
		area = -area
	}

	minX := int(math.Floor(float64(min(v0.x, v1.x, v2.x))))
	maxX := int(math.Ceil(float64(max(v0.x, v1.x, v2.x))))
	minY := int(math.Floor(float64(min(v0.y, v1.y, v2.y))))
	maxY := int(math.Ceil(float64(max(v0.y, v1.y, v2.y))))
	minX = max(minX, int(t.scissor.X), 0)
	minY = max(minY, int(t.scissor.Y), 0)
	maxX = min(maxX, int(t.scissor.X)+int(t.scissor.Width), int(t.extent.Width))
	maxY = min(maxY, int(t.scissor.Y)+int(t.scissor.Height), int(t.extent.Height))

	own0 := owns(v1.x, v1.y, v2.x, v2.y)
	own1 := owns(v2.x, v2.y, v0.x, v0.y)
	own2 := owns(v0.x, v0.y, v1.x, v1.y)

	depthWrite := p.desc.DepthWrite && !t.readOnly
	var in varyings
	var out fragmentOut
	for py := minY; py < maxY; py++ {
		cy := float32(py) + 0.5
		for px := minX; px < maxX; px++ {
			cx := float32(px) + 0.5
			w0 := edge(v1.x, v1.y, v2.x, v2.y, cx, cy)
			w1 := edge(v2.x, v2.y, v0.x, v0.y, cx, cy)
			w2 := edge(v0.x, v0.y, v1.x, v1.y, cx, cy)
			if w0 < 0 || w1 < 0 || w2 < 0 ||
				(w0 == 0 && !own0) || (w1 == 0 && !own1) || (w2 == 0 && !own2) {
				continue
			}
			b0, b1, b2 := w0/area, w1/area, w2/area
			z := b0*v0.z + b1*v1.z + b2*v2.z
			if z < 0 || z > 1 {
				continue
			}
			if t.depth != nil && p.desc.DepthTest {
				if z > t.depth.image.texel(t.depth.desc.BaseLayer, t.depth.desc.BaseMip, px, py)[0] {
					continue
				}
			}

			p0, p1, p2 := b0*v0.invW, b1*v1.invW, b2*v2.invW
			norm := 1 / (p0 + p1 + p2)
			for k := 0; k < nvary; k++ {
				in[k] = (p0*v0.vary[k] + p1*v1.vary[k] + p2*v2.vary[k]) * norm
			}
			out = fragmentOut{}
			if !inst.fragment(&in, &out) {
				continue
			}
			if t.depth != nil && depthWrite {
				t.depth.image.setTexel(t.depth.desc.BaseLayer, t.depth.desc.BaseMip, px, py, [4]float32{z})
			}
			for i := 0; i < p.program.outputs() && i < len(t.colors); i++ {
				c := t.colors[i]
				layer, mip := c.desc.BaseLayer, c.desc.BaseMip
				c.image.setTexel(layer, mip, px, py, blend(p.desc.Blend, out[i], c.image.texel(layer, mip, px, py)))
			}
		}
	}
}

func blend(mode gpu.BlendMode, src, dst [4]float32) [4]float32 {
	switch mode {
	case gpu.BlendAlpha:
		a := src[3]
		return [4]float32{
			src[0]*a + dst[0]*(1-a),
			src[1]*a + dst[1]*(1-a),
			src[2]*a + dst[2]*(1-a),
			a + dst[3]*(1-a),
		}
	case gpu.BlendAdditive:
		return [4]float32{src[0] + dst[0], src[1] + dst[1], src[2] + dst[2], src[3] + dst[3]}
	}
	return src
}
