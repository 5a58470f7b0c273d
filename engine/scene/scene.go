// Package scene holds the renderable graph the frame scheduler walks: game
// and UI scenes with their cameras, lights and model hierarchies.
package scene

import (
	"cmp"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"weak"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/components"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type Kind uint8

const (
	KindGame Kind = iota + 1
	KindUI
)

func (k Kind) String() string {
	switch k {
	case KindGame:
		return "game"
	case KindUI:
		return "ui"
	default:
		return "unknown"
	}
}

type PostFX struct {
	Exposure     float32
	Gamma        float32
	SSAO         bool
	SSAORadius   float32
	SSAOBias     float32
	SSAOStrength float32
}

func DefaultPostFX() PostFX {
	return PostFX{Exposure: 1, Gamma: 2.2, SSAO: true, SSAORadius: 0.5, SSAOBias: 0.025, SSAOStrength: 1}
}

type Config struct {
	// MaxShadowLights caps the shadow-making directional lights per scene.
	MaxShadowLights uint32
	// MaxCascades caps the cascades of each shadow-making light.
	MaxCascades uint32
	Ambient     math.Vec3
}

func DefaultConfig() Config {
	return Config{MaxShadowLights: 6, MaxCascades: 4, Ambient: math.NewVec3(0.03, 0.03, 0.03)}
}

// ShadowCaster is a shadow-making light with its slot in the shadow-map
// array for one frame.
type ShadowCaster struct {
	Slot     uint32
	Light    *components.Light
	Cascades []components.Cascade
}

// Frame is what Update prepared for one frame slot. It is read by the
// kernels while recording and replaced by the next Update of the slot.
type Frame struct {
	Number uint32
	Camera components.CameraState
	// Models are the renderable models ordered by identifier, culled ones
	// included, each paired with this scene's binding.
	Models []*components.BoundModel
	// Transparent models are ordered back to front.
	Transparent []*components.BoundModel
	Shadows     []ShadowCaster
	Skybox      *metadata.Skybox
	PostFX      PostFX
}

// frameGPU owns the per-scene frame set: camera, lights, postfx and shadows.
type frameGPU struct {
	mu      sync.Mutex
	set     gpu.DescriptorSet
	buffers [4]*gpu.DynamicBuffer
}

type Scene struct {
	metadata.Object
	Kind Kind

	mu        sync.RWMutex
	cameras   map[uint64]*components.Camera
	lights    map[uint64]*components.Light
	models    map[uint64]*components.Model
	allModels map[uint64]weak.Pointer[components.Model]
	bindings  map[uint64]*components.ModelBinding
	active    weak.Pointer[components.Camera]
	fallback  *components.Camera
	skybox    *metadata.Skybox
	postfx    PostFX
	extent    gpu.Extent
	cfg       Config
	frames    []*Frame
	manager   weak.Pointer[Manager]
	kernel    [gpu.SSAOKernelSize]math.Vec4

	ctx *gpu.Context
	gpu *frameGPU
}

func New(ctx *gpu.Context, id uint64, name string, kind Kind, cfg Config) (*Scene, error) {
	g := &frameGPU{}
	sizes := [4]uint64{
		gpu.UniformSize[gpu.CameraUniform](),
		gpu.UniformSize[gpu.LightUniform](),
		gpu.UniformSize[gpu.PostFXUniform](),
		gpu.UniformSize[gpu.ShadowUniform](),
	}
	release := func() {
		for _, b := range g.buffers {
			if b != nil {
				b.Free(ctx.Buffers)
			}
		}
	}
	writes := make([]gpu.DescriptorWrite, 0, len(sizes))
	for i, size := range sizes {
		b, err := ctx.Buffers.NewDynamic(size)
		if err != nil {
			release()
			return nil, fmt.Errorf("scene %q frame buffers: %w", name, err)
		}
		g.buffers[i] = b
		writes = append(writes, b.Descriptor(uint32(i)))
	}
	set, err := ctx.Device.CreateDescriptorSet(gpu.FrameSetLayout(), writes)
	if err != nil {
		release()
		return nil, fmt.Errorf("scene %q frame set: %w", name, err)
	}
	g.set = set

	cfg.MaxShadowLights = min(cfg.MaxShadowLights, gpu.MaxShadowLights)
	s := &Scene{
		Kind:      kind,
		cameras:   make(map[uint64]*components.Camera),
		lights:    make(map[uint64]*components.Light),
		models:    make(map[uint64]*components.Model),
		allModels: make(map[uint64]weak.Pointer[components.Model]),
		bindings:  make(map[uint64]*components.ModelBinding),
		postfx:    DefaultPostFX(),
		extent:    gpu.Extent{Width: 1, Height: 1},
		cfg:       cfg,
		frames:    make([]*Frame, ctx.FramesInFlight()),
		kernel:    ssaoKernel(),
		ctx:       ctx,
		gpu:       g,
	}
	s.InitObject(id, name)
	if kind == KindUI {
		s.fallback = components.NewOrthographicCamera(0, name+" camera", 1, 1, -1, 1)
	} else {
		s.fallback = components.NewPerspectiveCamera(0, name+" camera", math.DegToRad(60), 1, 0.1, 1000)
	}
	return s, nil
}

// Destroy releases the frame set and the model bindings once no frame in
// flight uses them.
func (s *Scene) Destroy() {
	s.mu.Lock()
	for id, b := range s.bindings {
		b.Destroy()
		delete(s.bindings, id)
	}
	s.mu.Unlock()

	g := s.gpu
	s.ctx.Release("scene "+s.Name(), func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.set != nil {
			g.set.Destroy()
			g.set = nil
		}
		for i, b := range g.buffers {
			if b != nil {
				b.Free(s.ctx.Buffers)
				g.buffers[i] = nil
			}
		}
	})
}

// ssaoKernel returns hemisphere samples scaled towards the origin.
func ssaoKernel() [gpu.SSAOKernelSize]math.Vec4 {
	var k [gpu.SSAOKernelSize]math.Vec4
	r := rand.New(rand.NewPCG(0x5ca1ab1e, 0xdecafbad))
	for i := range k {
		v := math.NewVec3(r.Float32()*2-1, r.Float32()*2-1, r.Float32()).Normalize()
		scale := float32(i) / gpu.SSAOKernelSize
		scale = 0.1 + 0.9*scale*scale
		k[i] = v.MulScalar(r.Float32() * scale).ToVec4(0)
	}
	return k
}

// Manager is nil when the scene is not registered or the manager is gone.
func (s *Scene) Manager() *Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manager.Value()
}

func (s *Scene) setManager(m *Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == nil {
		s.manager = weak.Pointer[Manager]{}
		return
	}
	s.manager = weak.Make(m)
}

// SetExtent is called by the renderer with the size of the scene's render
// targets.
func (s *Scene) SetExtent(e gpu.Extent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extent = e
}

func (s *Scene) PostFX() PostFX {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.postfx
}

func (s *Scene) SetPostFX(p PostFX) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postfx = p
}

func (s *Scene) Skybox() *metadata.Skybox {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skybox
}

func (s *Scene) SetSkybox(sb *metadata.Skybox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skybox = sb
}

func (s *Scene) AddCamera(c *components.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameras[c.ID()] = c
	if s.active.Value() == nil {
		s.active = weak.Make(c)
	}
}

func (s *Scene) RemoveCamera(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cameras, id)
	if a := s.active.Value(); a != nil && a.ID() == id {
		s.active = weak.Pointer[components.Camera]{}
	}
}

// SetActiveCamera selects one of the scene's cameras.
func (s *Scene) SetActiveCamera(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cameras[id]
	if !ok {
		return fmt.Errorf("scene %q has no camera %d: %w", s.Name(), id, core.ErrResourceNotFound)
	}
	s.active = weak.Make(c)
	return nil
}

// ActiveCamera falls back to the scene's own default camera.
func (s *Scene) ActiveCamera() *components.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeCamera()
}

func (s *Scene) activeCamera() *components.Camera {
	if c := s.active.Value(); c != nil {
		return c
	}
	return s.fallback
}

func (s *Scene) Cameras() []*components.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(slices.Collect(maps.Values(s.cameras)))
}

// AddLight adds l, clamping its cascade count to the scene's limit.
func (s *Scene) AddLight(l *components.Light) {
	if l.IsShadowMaker() {
		l.SetShadowMaker(true, l.CascadeCount(), s.cfg.MaxCascades)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lights[l.ID()] = l
}

func (s *Scene) RemoveLight(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lights, id)
}

func (s *Scene) Lights() []*components.Light {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(slices.Collect(maps.Values(s.lights)))
}

// AddModel adds a top-level model and indexes its whole hierarchy.
func (s *Scene) AddModel(m *components.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID()] = m
	m.Walk(func(c *components.Model) {
		s.allModels[c.ID()] = weak.Make(c)
	})
}

// RemoveModel drops a top-level model. Its descendants leave the index on
// the next Update once nothing else holds them.
func (s *Scene) RemoveModel(id uint64) *components.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return nil
	}
	delete(s.models, id)
	m.Walk(func(c *components.Model) {
		delete(s.allModels, c.ID())
	})
	return m
}

// Reindex rebuilds the flattened index after children were added to models
// already in the scene.
func (s *Scene) Reindex() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.allModels)
	for _, m := range s.models {
		m.Walk(func(c *components.Model) {
			s.allModels[c.ID()] = weak.Make(c)
		})
	}
}

func (s *Scene) Model(id uint64) *components.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.allModels[id]; ok {
		return w.Value()
	}
	return nil
}

// Models returns the top-level models ordered by identifier.
func (s *Scene) Models() []*components.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(slices.Collect(maps.Values(s.models)))
}

// Binding returns the scene's GPU state of model id, nil before the first
// Update that saw the model.
func (s *Scene) Binding(id uint64) *components.ModelBinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bindings[id]
}

// ModelCount is the size of the flattened index, dead entries included.
func (s *Scene) ModelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.allModels)
}

func sortedByID[T metadata.Identified](items []T) []T {
	slices.SortFunc(items, func(a, b T) int { return cmp.Compare(a.ID(), b.ID()) })
	return items
}

// Update prepares frame slot frame: world transforms, model and material
// uniforms, cull flags, cascades and the frame set. It runs on the main
// thread only.
func (s *Scene) Update(frame uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make([]*components.BoundModel, 0, len(s.allModels))
	for id, w := range s.allModels {
		m := w.Value()
		if m == nil {
			delete(s.allModels, id)
			continue
		}
		if !m.IsRenderable() {
			continue
		}
		b, err := s.bindingLocked(id, m.Name())
		if err != nil {
			return err
		}
		live = append(live, m.Bind(b))
	}
	for id, b := range s.bindings {
		if _, ok := s.allModels[id]; !ok {
			b.Destroy()
			delete(s.bindings, id)
		}
	}
	sortedByID(live)

	cam := s.activeCamera()
	switch {
	case cam.Kind == components.CameraOrthographic && s.Kind == KindUI:
		cam.SetOrthographic(float32(s.extent.Width), float32(s.extent.Height))
	case cam.Kind == components.CameraPerspective:
		cam.SetAspect(s.extent.Aspect())
	}
	state := cam.State()

	casters := math.EmptyAABB()
	var transparent []*components.BoundModel
	for _, m := range live {
		if err := m.Update(frame, &state); err != nil {
			return err
		}
		if m.CastsShadows() && m.HasMeshes(components.DrawShadowCasters) {
			casters = casters.Union(m.WorldBounds())
		}
		if !m.IsCulled() && m.HasMeshes(components.DrawTransparent) {
			transparent = append(transparent, m)
		}
	}
	sortBackToFront(transparent, &state)

	f := &Frame{
		Number:      frame,
		Camera:      state,
		Models:      live,
		Transparent: transparent,
		Skybox:      s.skybox,
		PostFX:      s.postfx,
	}
	lights := s.lightUniform(f, &state, casters)
	if err := s.writeFrame(frame, f, &lights); err != nil {
		return err
	}
	s.frames[frame] = f
	return nil
}

func (s *Scene) bindingLocked(id uint64, name string) (*components.ModelBinding, error) {
	if b, ok := s.bindings[id]; ok {
		return b, nil
	}
	b, err := components.NewModelBinding(s.ctx, name)
	if err != nil {
		return nil, fmt.Errorf("scene %q: %w", s.Name(), err)
	}
	s.bindings[id] = b
	return b, nil
}

func sortBackToFront(models []*components.BoundModel, cam *components.CameraState) {
	depth := make(map[uint64]float32, len(models))
	for _, m := range models {
		center, _ := m.BoundingSphere()
		depth[m.ID()] = cam.ViewDepth(center)
	}
	slices.SortStableFunc(models, func(a, b *components.BoundModel) int {
		if c := cmp.Compare(depth[b.ID()], depth[a.ID()]); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
}

// lightUniform assigns shadow slots, in identifier order, to the first
// MaxShadowLights shadow-making lights and fits their cascades.
func (s *Scene) lightUniform(f *Frame, cam *components.CameraState, casters math.AABB) gpu.LightUniform {
	u := gpu.LightUniform{Ambient: s.cfg.Ambient.ToVec4(1)}
	var dirs, points uint32
	for _, l := range sortedByID(slices.Collect(maps.Values(s.lights))) {
		if !l.IsRenderable() {
			continue
		}
		switch l.Kind {
		case components.LightDirectional:
			if dirs == gpu.MaxDirectionalLights {
				continue
			}
			slot := -1
			if l.IsShadowMaker() && uint32(len(f.Shadows)) < s.cfg.MaxShadowLights {
				if cascades := l.UpdateCascades(cam, casters); len(cascades) > 0 {
					slot = len(f.Shadows)
					f.Shadows = append(f.Shadows, ShadowCaster{Slot: uint32(slot), Light: l, Cascades: cascades})
				}
			}
			u.Directional[dirs] = l.DirectionalData(slot)
			dirs++
		case components.LightPoint:
			if points == gpu.MaxPointLights {
				continue
			}
			u.Point[points] = l.PointData()
			points++
		}
	}
	u.Counts = [4]uint32{dirs, points, uint32(len(f.Shadows)), 0}
	return u
}

func (s *Scene) writeFrame(frame uint32, f *Frame, lights *gpu.LightUniform) error {
	camera := f.Camera.Uniform(s.extent)

	var shadows gpu.ShadowUniform
	for _, sc := range f.Shadows {
		var splits [4]float32
		for c, cascade := range sc.Cascades {
			shadows.CascadeViewProjection[sc.Slot*gpu.MaxCascades+uint32(c)] = cascade.ViewProjection
			splits[c] = cascade.Far
		}
		shadows.Splits[sc.Slot] = math.NewVec4(splits[0], splits[1], splits[2], splits[3])
		shadows.Info[sc.Slot] = [4]uint32{uint32(len(sc.Cascades)), directionalIndex(lights, sc.Slot), 0, 0}
	}

	p := f.PostFX
	postfx := gpu.PostFXUniform{
		Params: math.NewVec4(p.Exposure, p.Gamma, p.SSAORadius, p.SSAOBias),
		SSAO:   math.NewVec4(p.SSAOStrength, boolToFloat(p.SSAO), float32(s.extent.Width), float32(s.extent.Height)),
		Kernel: s.kernel,
	}

	s.gpu.mu.Lock()
	defer s.gpu.mu.Unlock()
	blocks := [4][]byte{
		gpu.UniformBytes(&camera),
		gpu.UniformBytes(lights),
		gpu.UniformBytes(&postfx),
		gpu.UniformBytes(&shadows),
	}
	for i, b := range blocks {
		if err := s.gpu.buffers[i].Write(frame, 0, b); err != nil {
			return fmt.Errorf("scene %q frame %d: %w", s.Name(), frame, err)
		}
	}
	return nil
}

// directionalIndex finds the directional entry whose direction carries slot.
func directionalIndex(u *gpu.LightUniform, slot uint32) uint32 {
	for i := uint32(0); i < u.Counts[0]; i++ {
		if u.Directional[i].Direction.W == float32(slot) {
			return i
		}
	}
	return 0
}

func boolToFloat(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// Frame returns what the last Update prepared for frame, nil before the
// first Update of the slot.
func (s *Scene) Frame(frame uint32) *Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(frame) >= len(s.frames) {
		return nil
	}
	return s.frames[frame]
}

// RenderableModels is the snapshot of frame ordered by identifier.
func (s *Scene) RenderableModels(frame uint32) []*components.BoundModel {
	if f := s.Frame(frame); f != nil {
		return f.Models
	}
	return nil
}

// TransparentModels is the back-to-front snapshot of frame.
func (s *Scene) TransparentModels(frame uint32) []*components.BoundModel {
	if f := s.Frame(frame); f != nil {
		return f.Transparent
	}
	return nil
}

// BindFrame binds set 0 with the dynamic offsets of frame.
func (s *Scene) BindFrame(cmd gpu.CommandBuffer, p gpu.Pipeline, frame uint32) {
	s.gpu.mu.Lock()
	defer s.gpu.mu.Unlock()
	offsets := make([]uint32, len(s.gpu.buffers))
	for i, b := range s.gpu.buffers {
		offsets[i] = b.DynamicOffset(frame)
	}
	cmd.BindDescriptorSet(p, gpu.SetFrame, s.gpu.set, offsets)
}
