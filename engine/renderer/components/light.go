package components

import (
	"sync"

	"github.com/chewxy/math32"

	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type LightKind uint8

const (
	LightDirectional LightKind = iota + 1
	LightPoint
)

func (k LightKind) String() string {
	switch k {
	case LightDirectional:
		return "directional"
	case LightPoint:
		return "point"
	default:
		return "unknown"
	}
}

// DefaultSplitLambda blends logarithmic (1) and uniform (0) cascade splits.
const DefaultSplitLambda float32 = 0.75

// Cascade is one shadow frustum of a directional light.
type Cascade struct {
	ViewProjection math.Mat4
	// Near and Far are the view-space depths of the camera slice covered.
	Near float32
	Far  float32
}

/**
 * @brief A light in the scene. Directional lights travel along Direction,
 * point lights fall off to zero at Radius. Only directional lights can
 * make shadows.
 */
type Light struct {
	metadata.Object
	Kind LightKind

	mu        sync.RWMutex
	color     math.Vec3
	intensity float32
	direction math.Vec3
	position  math.Vec3
	radius    float32

	shadowMaker  bool
	cascadeCount uint32
	lambda       float32
	// shadowDistance caps the far end of the last cascade, 0 follows the camera.
	shadowDistance float32
	cascades       []Cascade
}

func NewDirectionalLight(id uint64, name string, direction, color math.Vec3, intensity float32) *Light {
	l := &Light{
		Kind:         LightDirectional,
		color:        color,
		intensity:    intensity,
		direction:    normalizeOr(direction, math.NewVec3(0, -1, 0)),
		cascadeCount: 1,
		lambda:       DefaultSplitLambda,
	}
	l.InitObject(id, name)
	return l
}

func NewPointLight(id uint64, name string, position, color math.Vec3, intensity, radius float32) *Light {
	l := &Light{
		Kind:      LightPoint,
		color:     color,
		intensity: intensity,
		position:  position,
		radius:    radius,
	}
	l.InitObject(id, name)
	return l
}

func normalizeOr(v, fallback math.Vec3) math.Vec3 {
	if v.LengthSquared() == 0 {
		return fallback
	}
	return v.Normalize()
}

// IsShadowMaker reports whether the light owns shadow-map layers.
func (l *Light) IsShadowMaker() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.Kind == LightDirectional && l.shadowMaker
}

// SetShadowMaker turns shadows on with count cascades. Point lights never
// make shadows. count is clamped to [1, limit] with limit capped by
// gpu.MaxCascades.
func (l *Light) SetShadowMaker(enabled bool, count, limit uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Kind != LightDirectional {
		return
	}
	l.shadowMaker = enabled
	l.cascadeCount = ClampCascades(count, limit)
	l.cascades = nil
}

// ClampCascades bounds a requested cascade count by the configured limit.
func ClampCascades(count, limit uint32) uint32 {
	if limit == 0 || limit > gpu.MaxCascades {
		limit = gpu.MaxCascades
	}
	return math.Clamp(count, 1, limit)
}

func (l *Light) CascadeCount() uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cascadeCount
}

func (l *Light) SetSplitLambda(lambda float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lambda = math.Clamp(lambda, 0, 1)
}

func (l *Light) SetShadowDistance(d float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shadowDistance = max(d, 0)
}

func (l *Light) Direction() math.Vec3 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.direction
}

func (l *Light) SetDirection(d math.Vec3) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.direction = normalizeOr(d, l.direction)
	l.Invalidate()
}

func (l *Light) Position() math.Vec3 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.position
}

func (l *Light) SetPosition(p math.Vec3) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.position = p
	l.Invalidate()
}

func (l *Light) SetColor(c math.Vec3, intensity float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.color, l.intensity = c, intensity
	l.Invalidate()
}

// UpdateCascades refits the cascades to the camera. casters bounds every
// shadow-casting model so occluders behind the slice still land in the map.
func (l *Light) UpdateCascades(cam *CameraState, casters math.AABB) []Cascade {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Kind != LightDirectional || !l.shadowMaker {
		return nil
	}
	far := cam.Far
	if l.shadowDistance > 0 {
		far = min(far, l.shadowDistance)
	}
	splits := CascadeSplits(cam.Near, far, l.cascadeCount, l.lambda)
	cascades := make([]Cascade, len(splits))
	prev := cam.Near
	for i, split := range splits {
		cascades[i] = fitCascade(l.direction, cam.SliceCorners(prev, split), casters)
		cascades[i].Near, cascades[i].Far = prev, split
		prev = split
	}
	l.cascades = cascades
	return cascades
}

// Cascades returns the last fitted cascades.
func (l *Light) Cascades() []Cascade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cascades
}

// CascadeSplits returns the far depth of each of count slices of
// [near, far], using the practical split scheme.
func CascadeSplits(near, far float32, count uint32, lambda float32) []float32 {
	splits := make([]float32, count)
	for i := range splits {
		p := float32(i+1) / float32(count)
		uniform := near + (far-near)*p
		split := uniform
		if near > 0 {
			split = lambda*near*math32.Pow(far/near, p) + (1-lambda)*uniform
		}
		splits[i] = split
	}
	splits[count-1] = far
	return splits
}

func fitCascade(direction math.Vec3, corners [8]math.Vec3, casters math.AABB) Cascade {
	center := math.NewVec3Zero()
	for _, c := range corners {
		center = center.Add(c)
	}
	center = center.MulScalar(1.0 / 8)
	var radius float32
	for _, c := range corners {
		radius = max(radius, c.Distance(center))
	}
	// quantize so the projection does not shimmer as the camera turns
	radius = math32.Ceil(radius*16) / 16

	up := math.NewVec3Up()
	if math32.Abs(direction.Dot(up)) > 0.99 {
		up = math.NewVec3(0, 0, 1)
	}
	eye := center.Sub(direction.MulScalar(radius))
	view := math.NewMat4LookAt(eye, center, up)

	near, far := float32(0), 2*radius
	if !casters.IsEmpty() {
		for _, p := range aabbCorners(casters) {
			d := -view.MulVec4(p.ToVec4(1)).Z
			near = min(near, d)
			far = max(far, d)
		}
	}
	proj := math.NewMat4Orthographic(-radius, radius, -radius, radius, near, far)
	return Cascade{ViewProjection: proj.Mul(view)}
}

func aabbCorners(b math.AABB) [8]math.Vec3 {
	var out [8]math.Vec3
	for i := range out {
		p := b.Min
		if i&1 != 0 {
			p.X = b.Max.X
		}
		if i&2 != 0 {
			p.Y = b.Max.Y
		}
		if i&4 != 0 {
			p.Z = b.Max.Z
		}
		out[i] = p
	}
	return out
}

// DirectionalData is the uniform entry of a directional light. slot is the
// shadow slot, or -1 when the light has none this frame.
func (l *Light) DirectionalData(slot int) gpu.DirectionalLightData {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return gpu.DirectionalLightData{
		Direction: l.direction.ToVec4(float32(slot)),
		Color:     l.color.ToVec4(l.intensity),
	}
}

func (l *Light) PointData() gpu.PointLightData {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return gpu.PointLightData{
		Position: l.position.ToVec4(l.radius),
		Color:    l.color.ToVec4(l.intensity),
	}
}
