package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

/** @brief A quaternion (x, y, z, w) with w the scalar part, used to represent rotational orientation. */
type Quaternion Vec4

/**
 * @brief A 4x4 matrix stored column-major: element (row r, column c) lives
 * at Data[c*4+r], matching GLSL.
 */
type Mat4 struct {
	Data [16]float32
}

/**
 * @brief Represents a single vertex of a mesh, as laid out in the vertex
 * buffer: 12 interleaved floats, 48 bytes.
 */
type Vertex3D struct {
	Position Vec3
	Normal   Vec3
	/** @brief xyz tangent, w handedness (+1 or -1). */
	Tangent  Vec4
	Texcoord Vec2
}

// VertexFloatCount is the number of float attributes per vertex.
const VertexFloatCount = 12

// VertexSize is the stride of Vertex3D in bytes.
const VertexSize = VertexFloatCount * 4

// Floats flattens the vertex in buffer order.
func (v Vertex3D) Floats() [VertexFloatCount]float32 {
	return [VertexFloatCount]float32{
		v.Position.X, v.Position.Y, v.Position.Z,
		v.Normal.X, v.Normal.Y, v.Normal.Z,
		v.Tangent.X, v.Tangent.Y, v.Tangent.Z, v.Tangent.W,
		v.Texcoord.X, v.Texcoord.Y,
	}
}

// VertexFromFloats is the inverse of Floats.
func VertexFromFloats(f []float32) Vertex3D {
	return Vertex3D{
		Position: Vec3{f[0], f[1], f[2]},
		Normal:   Vec3{f[3], f[4], f[5]},
		Tangent:  Vec4{f[6], f[7], f[8], f[9]},
		Texcoord: Vec2{f[10], f[11]},
	}
}

/**
 * @brief Represents the transform of an object in the world.
 * Transforms can have a parent whose own transform is then
 * taken into account. NOTE: The properties of this should not
 * be edited directly, but done via the methods in transform.go
 * to ensure proper matrix generation.
 */
type Transform struct {
	Position Vec3
	Rotation Quaternion
	Scale    Vec3
	/**
	 * @brief Indicates if the position, rotation or scale have changed,
	 * indicating that the local matrix needs to be recalculated.
	 */
	IsDirty bool
	/** @brief The cached local transformation matrix. */
	Local Mat4
	/** @brief The parent transform, if one is assigned. Can be nil. */
	Parent *Transform
}
