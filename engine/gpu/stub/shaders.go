package stub

import (
	"github.com/chewxy/math32"

	"github.com/spaghettifunk/prism/engine/gpu"
	m "github.com/spaghettifunk/prism/engine/math"
)

// Reference shaders. They follow the GLSL sources under
// engine/gpu/vulkan/shaders with the same set and binding numbers.
var programs = map[gpu.PipelineType]program{
	gpu.PipelineGBuffer:                      gbufferProgram{},
	gpu.PipelineShadowMapper:                 shadowMapperProgram{},
	gpu.PipelineTransparentPBR:               transparentProgram{},
	gpu.PipelineUnlit:                        unlitProgram{},
	gpu.PipelineDeferred:                     deferredProgram{},
	gpu.PipelineSSAO:                         ssaoProgram{},
	gpu.PipelineShadowAccumulatorDirectional: accumulatorProgram{},
	gpu.PipelineToneMap:                      toneMapProgram{},
}

const shadowBias = 0.0015

func v3(t [4]float32) m.Vec3 { return m.Vec3{X: t[0], Y: t[1], Z: t[2]} }

func vec4(v m.Vec3, w float32) [4]float32 { return [4]float32{v.X, v.Y, v.Z, w} }

func component(v m.Vec4, i uint32) float32 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	case 2:
		return v.Z
	}
	return v.W
}

// fullscreen emits one triangle covering the target, uv in varyings 0-1
// with v = 0 at the top row.
func fullscreen(index uint32) (m.Vec4, varyings) {
	x := float32((index<<1)&2)*2 - 1
	y := float32(index&2)*2 - 1
	var out varyings
	out[0] = (x + 1) * 0.5
	out[1] = (1 - y) * 0.5
	return m.Vec4{X: x, Y: y, Z: 0, W: 1}, out
}

// ndcToUV maps a projected point to texture space of a target rendered
// with the flipped viewport.
func ndcToUV(ndc m.Vec4) (float32, float32) {
	return ndc.X*0.5 + 0.5, 0.5 - ndc.Y*0.5
}

func project(vp m.Mat4, p m.Vec3) (m.Vec4, bool) {
	c := vp.MulVec4(p.ToVec4(1))
	if c.W <= 0 {
		return c, false
	}
	return m.Vec4{X: c.X / c.W, Y: c.Y / c.W, Z: c.Z / c.W, W: 1}, true
}

// surface is the material evaluation shared by the geometry programs.
type surface struct {
	material  *gpu.MaterialUniform
	baseColor *texture
	normal    *texture
	mr        *texture
	emissive  *texture
	occlusion *texture
}

func bindSurface(e *env) (surface, error) {
	var s surface
	var err error
	if s.material, err = uniform[gpu.MaterialUniform](e, gpu.SetMaterial, gpu.BindingMaterial); err != nil {
		return s, err
	}
	for binding, dst := range map[uint32]**texture{
		gpu.BindingBaseColor:         &s.baseColor,
		gpu.BindingNormal:            &s.normal,
		gpu.BindingMetallicRoughness: &s.mr,
		gpu.BindingEmissive:          &s.emissive,
		gpu.BindingOcclusion:         &s.occlusion,
	} {
		if *dst, err = e.texture(gpu.SetMaterial, binding); err != nil {
			return s, err
		}
	}
	return s, nil
}

type surfaceSample struct {
	base      [4]float32
	normal    m.Vec3
	metallic  float32
	roughness float32
	occlusion float32
	emissive  m.Vec3
}

// Geometry varyings: world 0-2, normal 3-5, uv 6-7, tangent 8-11.
const geometryVaryings = 12

func geometryVertex(model *gpu.ModelUniform, v *m.Vertex3D) (m.Vec4, varyings) {
	pos := v.Position.ToVec4(1)
	world := model.Model.MulVec4(pos)
	n := model.Normal.MulDirection(v.Normal).Normalize()
	t := model.Model.MulDirection(m.Vec3{X: v.Tangent.X, Y: v.Tangent.Y, Z: v.Tangent.Z})
	var out varyings
	out[0], out[1], out[2] = world.X, world.Y, world.Z
	out[3], out[4], out[5] = n.X, n.Y, n.Z
	out[6], out[7] = v.Texcoord.X, v.Texcoord.Y
	out[8], out[9], out[10], out[11] = t.X, t.Y, t.Z, v.Tangent.W
	return model.MVP.MulVec4(pos), out
}

func (s *surface) eval(in *varyings) surfaceSample {
	u, v := in[6], in[7]
	mat := s.material
	tex := s.baseColor.sample(u, v)
	var r surfaceSample
	r.base = [4]float32{
		mat.BaseColor.X * tex[0], mat.BaseColor.Y * tex[1],
		mat.BaseColor.Z * tex[2], mat.BaseColor.W * tex[3],
	}
	mr := s.mr.sample(u, v)
	r.metallic = mat.Factors.X * mr[2]
	r.roughness = mat.Factors.Y * mr[1]
	r.occlusion = 1 + mat.Factors.W*(s.occlusion.sample(u, v)[0]-1)
	em := s.emissive.sample(u, v)
	r.emissive = m.Vec3{X: mat.Emissive.X * em[0], Y: mat.Emissive.Y * em[1], Z: mat.Emissive.Z * em[2]}

	n := m.Vec3{X: in[3], Y: in[4], Z: in[5]}.Normalize()
	if mat.Flags[1] != 0 {
		t := m.Vec3{X: in[8], Y: in[9], Z: in[10]}
		t = t.Sub(n.MulScalar(n.Dot(t))).Normalize()
		b := n.Cross(t).MulScalar(in[11])
		tn := s.normal.sample(u, v)
		x := (tn[0]*2 - 1) * mat.Factors.Z
		y := (tn[1]*2 - 1) * mat.Factors.Z
		z := tn[2]*2 - 1
		n = t.MulScalar(x).Add(b.MulScalar(y)).Add(n.MulScalar(z)).Normalize()
	}
	r.normal = n
	return r
}

// lambert sums the direct light reaching a surface from every light that
// does not cast shadows, plus the ambient term.
func lambert(lights *gpu.LightUniform, p, n m.Vec3, withShadowed bool) m.Vec3 {
	irr := m.Vec3{X: lights.Ambient.X, Y: lights.Ambient.Y, Z: lights.Ambient.Z}
	for i := uint32(0); i < lights.Counts[0] && i < gpu.MaxDirectionalLights; i++ {
		l := &lights.Directional[i]
		if l.Direction.W >= 0 && !withShadowed {
			continue
		}
		ndl := max(n.Dot(l.Direction.ToVec3().Negate().Normalize()), 0)
		irr = irr.Add(l.Color.ToVec3().MulScalar(l.Color.W * ndl))
	}
	for i := uint32(0); i < lights.Counts[1] && i < gpu.MaxPointLights; i++ {
		l := &lights.Point[i]
		d := l.Position.ToVec3().Sub(p)
		dist := d.Length()
		if dist >= l.Position.W || dist == 0 {
			continue
		}
		att := 1 - dist/l.Position.W
		ndl := max(n.Dot(d.MulScalar(1/dist)), 0)
		irr = irr.Add(l.Color.ToVec3().MulScalar(l.Color.W * ndl * att * att))
	}
	return irr
}

type gbufferProgram struct{}

type gbufferInstance struct {
	model   *gpu.ModelUniform
	surface surface
}

func (gbufferProgram) outputs() int  { return 4 }
func (gbufferProgram) varyings() int { return geometryVaryings }

func (gbufferProgram) bind(e *env) (instance, error) {
	model, err := uniform[gpu.ModelUniform](e, gpu.SetModel, 0)
	if err != nil {
		return nil, err
	}
	s, err := bindSurface(e)
	if err != nil {
		return nil, err
	}
	return &gbufferInstance{model: model, surface: s}, nil
}

func (g *gbufferInstance) vertex(_ uint32, v *m.Vertex3D) (m.Vec4, varyings) {
	return geometryVertex(g.model, v)
}

func (g *gbufferInstance) fragment(in *varyings, out *fragmentOut) bool {
	s := g.surface.eval(in)
	if cutoff := g.surface.material.Emissive.W; cutoff > 0 && s.base[3] < cutoff {
		return false
	}
	out[0] = [4]float32{s.base[0], s.base[1], s.base[2], s.roughness}
	out[1] = vec4(s.normal, s.metallic)
	out[2] = [4]float32{in[0], in[1], in[2], s.occlusion}
	out[3] = vec4(s.emissive, 1)
	return true
}

type shadowMapperProgram struct{}

type shadowMapperInstance struct {
	mvp m.Mat4
}

func (shadowMapperProgram) outputs() int  { return 0 }
func (shadowMapperProgram) varyings() int { return 0 }

func (shadowMapperProgram) bind(e *env) (instance, error) {
	model, err := uniform[gpu.ModelUniform](e, gpu.SetModel, 0)
	if err != nil {
		return nil, err
	}
	pc, err := push[gpu.ShadowMapperPush](e)
	if err != nil {
		return nil, err
	}
	return &shadowMapperInstance{mvp: pc.ViewProjection.Mul(model.Model)}, nil
}

func (s *shadowMapperInstance) vertex(_ uint32, v *m.Vertex3D) (m.Vec4, varyings) {
	return s.mvp.MulVec4(v.Position.ToVec4(1)), varyings{}
}

func (s *shadowMapperInstance) fragment(*varyings, *fragmentOut) bool { return true }

type transparentProgram struct{}

type transparentInstance struct {
	model   *gpu.ModelUniform
	lights  *gpu.LightUniform
	surface surface
}

func (transparentProgram) outputs() int  { return 1 }
func (transparentProgram) varyings() int { return geometryVaryings }

func (transparentProgram) bind(e *env) (instance, error) {
	model, err := uniform[gpu.ModelUniform](e, gpu.SetModel, 0)
	if err != nil {
		return nil, err
	}
	lights, err := uniform[gpu.LightUniform](e, gpu.SetFrame, gpu.BindingLights)
	if err != nil {
		return nil, err
	}
	s, err := bindSurface(e)
	if err != nil {
		return nil, err
	}
	return &transparentInstance{model: model, lights: lights, surface: s}, nil
}

func (t *transparentInstance) vertex(_ uint32, v *m.Vertex3D) (m.Vec4, varyings) {
	return geometryVertex(t.model, v)
}

func (t *transparentInstance) fragment(in *varyings, out *fragmentOut) bool {
	s := t.surface.eval(in)
	irr := lambert(t.lights, m.Vec3{X: in[0], Y: in[1], Z: in[2]}, s.normal, true)
	c := v3(s.base).Mul(irr).MulScalar(s.occlusion).Add(s.emissive)
	out[0] = vec4(c, s.base[3])
	return true
}

type unlitProgram struct{}

type unlitInstance struct {
	model   *gpu.ModelUniform
	surface surface
}

func (unlitProgram) outputs() int  { return 1 }
func (unlitProgram) varyings() int { return geometryVaryings }

func (unlitProgram) bind(e *env) (instance, error) {
	model, err := uniform[gpu.ModelUniform](e, gpu.SetModel, 0)
	if err != nil {
		return nil, err
	}
	s, err := bindSurface(e)
	if err != nil {
		return nil, err
	}
	return &unlitInstance{model: model, surface: s}, nil
}

func (u *unlitInstance) vertex(_ uint32, v *m.Vertex3D) (m.Vec4, varyings) {
	return geometryVertex(u.model, v)
}

func (u *unlitInstance) fragment(in *varyings, out *fragmentOut) bool {
	s := u.surface.eval(in)
	out[0] = vec4(v3(s.base).Add(s.emissive), s.base[3])
	return true
}

type deferredProgram struct{}

type deferredInstance struct {
	camera                                           *gpu.CameraUniform
	lights                                           *gpu.LightUniform
	postfx                                           *gpu.PostFXUniform
	albedo, normal, position, emissive, ssao, shadow *texture
	skybox                                           *texture
}

func (deferredProgram) outputs() int  { return 1 }
func (deferredProgram) varyings() int { return 2 }

func (deferredProgram) bind(e *env) (instance, error) {
	d := &deferredInstance{}
	var err error
	if d.camera, err = uniform[gpu.CameraUniform](e, gpu.SetFrame, gpu.BindingCamera); err != nil {
		return nil, err
	}
	if d.lights, err = uniform[gpu.LightUniform](e, gpu.SetFrame, gpu.BindingLights); err != nil {
		return nil, err
	}
	if d.postfx, err = uniform[gpu.PostFXUniform](e, gpu.SetFrame, gpu.BindingPostFX); err != nil {
		return nil, err
	}
	for binding, dst := range map[uint32]**texture{
		gpu.InputAlbedo:   &d.albedo,
		gpu.InputNormal:   &d.normal,
		gpu.InputPosition: &d.position,
		gpu.InputEmissive: &d.emissive,
		gpu.InputSSAO:     &d.ssao,
		gpu.InputShadow:   &d.shadow,
		gpu.InputSkybox:   &d.skybox,
	} {
		if *dst, err = e.texture(gpu.SetInputs, binding); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *deferredInstance) vertex(index uint32, _ *m.Vertex3D) (m.Vec4, varyings) {
	return fullscreen(index)
}

// viewDirection reconstructs the world-space ray through uv.
func viewDirection(cam *gpu.CameraUniform, u, v float32) m.Vec3 {
	ndc := m.Vec4{X: u*2 - 1, Y: 1 - v*2, Z: 1, W: 1}
	view := cam.InverseProjection.MulVec4(ndc)
	dir := m.Vec3{X: view.X / view.W, Y: view.Y / view.W, Z: view.Z / view.W}
	return cam.InverseView.MulDirection(dir).Normalize()
}

func (d *deferredInstance) fragment(in *varyings, out *fragmentOut) bool {
	u, v := in[0], in[1]
	nm := d.normal.sample(u, v)
	n := v3(nm)
	if n.LengthSquared() == 0 {
		out[0] = vec4(v3(d.skybox.sampleCube(viewDirection(d.camera, u, v))), 1)
		return true
	}
	n = n.Normalize()
	albedo := v3(d.albedo.sample(u, v))
	pos := d.position.sample(u, v)
	ao := pos[3]
	if d.postfx.SSAO.Y != 0 {
		ao *= d.ssao.sample(u, v)[0]
	}
	irr := lambert(d.lights, v3(pos), n, false)
	ambient := d.lights.Ambient.ToVec3()
	irr = irr.Sub(ambient).Add(ambient.MulScalar(ao))
	irr = irr.Add(v3(d.shadow.sample(u, v)))
	c := albedo.Mul(irr).Add(v3(d.emissive.sample(u, v)))
	out[0] = vec4(c, 1)
	return true
}

type ssaoProgram struct{}

type ssaoInstance struct {
	camera           *gpu.CameraUniform
	postfx           *gpu.PostFXUniform
	normal, position *texture
}

func (ssaoProgram) outputs() int  { return 1 }
func (ssaoProgram) varyings() int { return 2 }

func (ssaoProgram) bind(e *env) (instance, error) {
	s := &ssaoInstance{}
	var err error
	if s.camera, err = uniform[gpu.CameraUniform](e, gpu.SetFrame, gpu.BindingCamera); err != nil {
		return nil, err
	}
	if s.postfx, err = uniform[gpu.PostFXUniform](e, gpu.SetFrame, gpu.BindingPostFX); err != nil {
		return nil, err
	}
	if s.normal, err = e.texture(gpu.SetInputs, gpu.InputGBufferNormal); err != nil {
		return nil, err
	}
	if s.position, err = e.texture(gpu.SetInputs, gpu.InputGBufferPosition); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ssaoInstance) vertex(index uint32, _ *m.Vertex3D) (m.Vec4, varyings) {
	return fullscreen(index)
}

func (s *ssaoInstance) viewDepth(p m.Vec3) float32 {
	return -s.camera.View.MulVec4(p.ToVec4(1)).Z
}

func (s *ssaoInstance) fragment(in *varyings, out *fragmentOut) bool {
	u, v := in[0], in[1]
	n := v3(s.normal.sample(u, v))
	if n.LengthSquared() == 0 {
		out[0] = [4]float32{1, 0, 0, 1}
		return true
	}
	n = n.Normalize()
	p := v3(s.position.sample(u, v))
	radius, bias, strength := s.postfx.Params.Z, s.postfx.Params.W, s.postfx.SSAO.X
	depth := s.viewDepth(p)

	occlusion := float32(0)
	for i := 0; i < gpu.SSAOKernelSize; i++ {
		k := s.postfx.Kernel[i].ToVec3()
		if k.Dot(n) < 0 {
			k = k.Negate()
		}
		sp := p.Add(k.MulScalar(radius))
		ndc, ok := project(s.camera.ViewProjection, sp)
		if !ok {
			continue
		}
		su, sv := ndcToUV(ndc)
		if su < 0 || su > 1 || sv < 0 || sv > 1 {
			continue
		}
		if v3(s.normal.sample(su, sv)).LengthSquared() == 0 {
			continue
		}
		scene := s.viewDepth(v3(s.position.sample(su, sv)))
		if scene <= s.viewDepth(sp)-bias {
			rangeCheck := min(radius/max(abs(depth-scene), 1e-4), 1)
			occlusion += rangeCheck
		}
	}
	ao := 1 - strength*occlusion/gpu.SSAOKernelSize
	out[0] = [4]float32{clamp01(ao), 0, 0, 1}
	return true
}

type accumulatorProgram struct{}

type accumulatorInstance struct {
	camera           *gpu.CameraUniform
	lights           *gpu.LightUniform
	shadows          *gpu.ShadowUniform
	slot             uint32
	normal, position *texture
	shadowMap        *texture
}

func (accumulatorProgram) outputs() int  { return 1 }
func (accumulatorProgram) varyings() int { return 2 }

func (accumulatorProgram) bind(e *env) (instance, error) {
	a := &accumulatorInstance{}
	var err error
	if a.camera, err = uniform[gpu.CameraUniform](e, gpu.SetFrame, gpu.BindingCamera); err != nil {
		return nil, err
	}
	if a.lights, err = uniform[gpu.LightUniform](e, gpu.SetFrame, gpu.BindingLights); err != nil {
		return nil, err
	}
	if a.shadows, err = uniform[gpu.ShadowUniform](e, gpu.SetFrame, gpu.BindingShadows); err != nil {
		return nil, err
	}
	pc, err := push[gpu.AccumulatorPush](e)
	if err != nil {
		return nil, err
	}
	a.slot = min(pc.Slot, gpu.MaxShadowLights-1)
	if a.normal, err = e.texture(gpu.SetInputs, gpu.InputGBufferNormal); err != nil {
		return nil, err
	}
	if a.position, err = e.texture(gpu.SetInputs, gpu.InputGBufferPosition); err != nil {
		return nil, err
	}
	if a.shadowMap, err = e.texture(gpu.SetInputs, gpu.InputShadowMap); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *accumulatorInstance) vertex(index uint32, _ *m.Vertex3D) (m.Vec4, varyings) {
	return fullscreen(index)
}

func (a *accumulatorInstance) fragment(in *varyings, out *fragmentOut) bool {
	u, v := in[0], in[1]
	n := v3(a.normal.sample(u, v))
	if n.LengthSquared() == 0 {
		return false
	}
	n = n.Normalize()
	p := v3(a.position.sample(u, v))

	info := a.shadows.Info[a.slot]
	light := &a.lights.Directional[min(info[1], gpu.MaxDirectionalLights-1)]
	ndl := max(n.Dot(light.Direction.ToVec3().Negate().Normalize()), 0)
	count := min(max(info[0], 1), gpu.MaxCascades)

	depth := -a.camera.View.MulVec4(p.ToVec4(1)).Z
	cascade := count - 1
	for c := uint32(0); c < count; c++ {
		if depth <= component(a.shadows.Splits[a.slot], c) {
			cascade = c
			break
		}
	}
	layer := a.slot*gpu.MaxCascades + cascade
	lit := float32(1)
	if ndc, ok := project(a.shadows.CascadeViewProjection[layer], p); ok {
		su, sv := ndcToUV(ndc)
		if su >= 0 && su <= 1 && sv >= 0 && sv <= 1 && ndc.Z <= 1 {
			if ndc.Z-shadowBias > a.shadowMap.sampleLayer(su, sv, layer)[0] {
				lit = 0
			}
		}
	}
	irr := light.Color.ToVec3().MulScalar(light.Color.W * ndl * lit)
	out[0] = vec4(irr, lit)
	return true
}

type toneMapProgram struct{}

type toneMapInstance struct {
	postfx *gpu.PostFXUniform
	color  *texture
}

func (toneMapProgram) outputs() int  { return 1 }
func (toneMapProgram) varyings() int { return 2 }

func (toneMapProgram) bind(e *env) (instance, error) {
	postfx, err := uniform[gpu.PostFXUniform](e, gpu.SetFrame, gpu.BindingPostFX)
	if err != nil {
		return nil, err
	}
	color, err := e.texture(gpu.SetInputs, gpu.InputSceneColor)
	if err != nil {
		return nil, err
	}
	return &toneMapInstance{postfx: postfx, color: color}, nil
}

func (t *toneMapInstance) vertex(index uint32, _ *m.Vertex3D) (m.Vec4, varyings) {
	return fullscreen(index)
}

func (t *toneMapInstance) fragment(in *varyings, out *fragmentOut) bool {
	c := t.color.sample(in[0], in[1])
	exposure, gamma := t.postfx.Params.X, t.postfx.Params.Y
	if gamma <= 0 {
		gamma = 1
	}
	for i := 0; i < 3; i++ {
		x := c[i] * exposure
		x = x / (1 + x)
		out[0][i] = math32.Pow(x, 1/gamma)
	}
	out[0][3] = 1
	return true
}
