package components

import (
	"sync"

	"github.com/chewxy/math32"

	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type CameraKind uint8

const (
	CameraPerspective CameraKind = iota + 1
	CameraOrthographic
)

/** @brief The name of the default camera. */
const DefaultCameraName string = "default"

// pitchLimit is 89 degrees, short of the pole to avoid gimbal lock.
const pitchLimit = float32(1.55334306)

/**
 * @brief Represents a camera that can be used for a variety of things,
 * especially rendering. Perspective cameras use FovY and Aspect,
 * orthographic ones Width and Height.
 */
type Camera struct {
	metadata.Object
	Kind CameraKind

	mu       sync.RWMutex
	position math.Vec3
	rotation math.Quaternion
	yaw      float32
	pitch    float32
	near     float32
	far      float32
	fovY     float32
	aspect   float32
	width    float32
	height   float32

	/** @brief Internal flag used to determine when the matrices need to be rebuilt. */
	isDirty        bool
	view           math.Mat4
	projection     math.Mat4
	viewProjection math.Mat4
	frustum        math.Frustum
}

// CameraState is the snapshot of a camera taken once per frame.
type CameraState struct {
	Kind           CameraKind
	Position       math.Vec3
	Rotation       math.Quaternion
	Near, Far      float32
	FovY, Aspect   float32
	Width, Height  float32
	View           math.Mat4
	Projection     math.Mat4
	ViewProjection math.Mat4
	// InverseRotation takes view-space directions to world space.
	InverseRotation math.Mat4
	Frustum         math.Frustum
}

func NewPerspectiveCamera(id uint64, name string, fovY, aspect, near, far float32) *Camera {
	c := &Camera{Kind: CameraPerspective, fovY: fovY, aspect: aspect, near: near, far: far}
	c.InitObject(id, name)
	c.Reset()
	return c
}

func NewOrthographicCamera(id uint64, name string, width, height, near, far float32) *Camera {
	c := &Camera{Kind: CameraOrthographic, width: width, height: height, near: near, far: far}
	c.InitObject(id, name)
	c.Reset()
	return c
}

// Reset moves the camera to the origin looking down -Z.
func (c *Camera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = math.NewVec3Zero()
	c.rotation = math.NewQuatIdentity()
	c.yaw, c.pitch = 0, 0
	c.isDirty = true
}

func (c *Camera) GetPosition() math.Vec3 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = position
	c.isDirty = true
}

func (c *Camera) GetRotation() math.Quaternion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rotation
}

func (c *Camera) SetRotation(rotation math.Quaternion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotation = rotation.Normalize()
	c.syncAngles()
	c.isDirty = true
}

// LookAt orients the camera towards target.
func (c *Camera) LookAt(target, up math.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dir := target.Sub(c.position)
	if dir.LengthSquared() == 0 {
		return
	}
	c.rotation = math.NewQuatLookRotation(dir.Normalize(), up)
	c.syncAngles()
	c.isDirty = true
}

// syncAngles derives yaw and pitch from the rotation so Yaw and Pitch
// continue from the current orientation.
func (c *Camera) syncAngles() {
	f := c.rotation.Rotate(math.NewVec3(0, 0, -1))
	c.pitch = math.Clamp(math32.Asin(f.Y), -pitchLimit, pitchLimit)
	c.yaw = math32.Atan2(-f.X, -f.Z)
}

func (c *Camera) rebuildRotation() {
	yaw := math.NewQuatFromAxisAngle(math.NewVec3Up(), c.yaw, true)
	pitch := math.NewQuatFromAxisAngle(math.NewVec3(1, 0, 0), c.pitch, true)
	c.rotation = yaw.Mul(pitch)
	c.isDirty = true
}

func (c *Camera) SetPerspective(fovY, aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fovY, c.aspect = fovY, aspect
	c.isDirty = true
}

// SetAspect follows the viewport of the render target.
func (c *Camera) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aspect != aspect {
		c.aspect = aspect
		c.isDirty = true
	}
}

func (c *Camera) SetOrthographic(width, height float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = width, height
	c.isDirty = true
}

func (c *Camera) SetClip(near, far float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.near, c.far = near, far
	c.isDirty = true
}

func (c *Camera) Forward() math.Vec3 {
	return c.GetRotation().Rotate(math.NewVec3(0, 0, -1))
}

func (c *Camera) Backward() math.Vec3 {
	return c.Forward().Negate()
}

func (c *Camera) Left() math.Vec3 {
	return c.Right().Negate()
}

func (c *Camera) Right() math.Vec3 {
	return c.GetRotation().Rotate(math.NewVec3(1, 0, 0))
}

func (c *Camera) move(direction math.Vec3, amount float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = c.position.Add(direction.MulScalar(amount))
	c.isDirty = true
}

func (c *Camera) MoveForward(amount float32)  { c.move(c.Forward(), amount) }
func (c *Camera) MoveBackward(amount float32) { c.move(c.Backward(), amount) }
func (c *Camera) MoveLeft(amount float32)     { c.move(c.Left(), amount) }
func (c *Camera) MoveRight(amount float32)    { c.move(c.Right(), amount) }
func (c *Camera) MoveUp(amount float32)       { c.move(math.NewVec3Up(), amount) }
func (c *Camera) MoveDown(amount float32)     { c.move(math.NewVec3Up(), -amount) }

func (c *Camera) Yaw(amount float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.yaw += amount
	c.rebuildRotation()
}

func (c *Camera) Pitch(amount float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Clamp to avoid Gimbal lock.
	c.pitch = math.Clamp(c.pitch+amount, -pitchLimit, pitchLimit)
	c.rebuildRotation()
}

func (c *Camera) rebuild() {
	if !c.isDirty {
		return
	}
	c.view = c.rotation.Conjugate().ToMat4().Mul(math.NewMat4Translation(c.position.Negate()))
	switch c.Kind {
	case CameraOrthographic:
		hw, hh := c.width*0.5, c.height*0.5
		c.projection = math.NewMat4Orthographic(-hw, hw, -hh, hh, c.near, c.far)
	default:
		c.projection = math.NewMat4Perspective(c.fovY, c.aspect, c.near, c.far)
	}
	c.viewProjection = c.projection.Mul(c.view)
	c.frustum = math.NewFrustumFromMatrix(c.viewProjection)
	c.isDirty = false
}

func (c *Camera) GetView() math.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuild()
	return c.view
}

func (c *Camera) GetProjection() math.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuild()
	return c.projection
}

func (c *Camera) GetViewProjection() math.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuild()
	return c.viewProjection
}

// State rebuilds the cached matrices if needed and returns a snapshot.
func (c *Camera) State() CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuild()
	return CameraState{
		Kind:            c.Kind,
		Position:        c.position,
		Rotation:        c.rotation,
		Near:            c.near,
		Far:             c.far,
		FovY:            c.fovY,
		Aspect:          c.aspect,
		Width:           c.width,
		Height:          c.height,
		View:            c.view,
		Projection:      c.projection,
		ViewProjection:  c.viewProjection,
		InverseRotation: c.rotation.ToMat4(),
		Frustum:         c.frustum,
	}
}

// Uniform fills the camera block for a viewport of extent.
func (s *CameraState) Uniform(extent gpu.Extent) gpu.CameraUniform {
	return gpu.CameraUniform{
		View:              s.View,
		Projection:        s.Projection,
		ViewProjection:    s.ViewProjection,
		InverseView:       s.View.Inverse(),
		InverseProjection: s.Projection.Inverse(),
		Position:          s.Position.ToVec4(1),
		NearFar:           math.NewVec4(s.Near, s.Far, float32(extent.Width), float32(extent.Height)),
	}
}

// Visible is false when the sphere lies strictly outside the frustum.
func (s *CameraState) Visible(center math.Vec3, radius float32) bool {
	return !s.Frustum.SphereOutside(center, radius)
}

// ViewDepth is the distance of p in front of the camera.
func (s *CameraState) ViewDepth(p math.Vec3) float32 {
	return -s.View.MulVec4(p.ToVec4(1)).Z
}

// SliceCorners returns the eight world-space corners of the part of the view
// volume between view depths near and far, near corners first.
func (s *CameraState) SliceCorners(near, far float32) [8]math.Vec3 {
	forward := s.Rotation.Rotate(math.NewVec3(0, 0, -1))
	right := s.Rotation.Rotate(math.NewVec3(1, 0, 0))
	up := s.Rotation.Rotate(math.NewVec3(0, 1, 0))
	var out [8]math.Vec3
	for i, d := range [2]float32{near, far} {
		hw, hh := s.Width*0.5, s.Height*0.5
		if s.Kind != CameraOrthographic {
			hh = d * math32.Tan(s.FovY*0.5)
			hw = hh * s.Aspect
		}
		center := s.Position.Add(forward.MulScalar(d))
		x, y := right.MulScalar(hw), up.MulScalar(hh)
		out[i*4+0] = center.Sub(x).Sub(y)
		out[i*4+1] = center.Add(x).Sub(y)
		out[i*4+2] = center.Add(x).Add(y)
		out[i*4+3] = center.Sub(x).Add(y)
	}
	return out
}
