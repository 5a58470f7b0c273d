package math

import "github.com/chewxy/math32"

// GeometryGenerateNormals writes face normals into every vertex of each triangle.
func GeometryGenerateNormals(vertices []Vertex3D, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0 := indices[i+0]
		i1 := indices[i+1]
		i2 := indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		// NOTE: This just generates a face normal. Smoothing out should be done in a separate pass if desired.
		normal := edge1.Cross(edge2).Normalize()
		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}

func GeometryGenerateTangents(vertices []Vertex3D, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0 := indices[i+0]
		i1 := indices[i+1]
		i2 := indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		deltaU1 := vertices[i1].Texcoord.X - vertices[i0].Texcoord.X
		deltaV1 := vertices[i1].Texcoord.Y - vertices[i0].Texcoord.Y
		deltaU2 := vertices[i2].Texcoord.X - vertices[i0].Texcoord.X
		deltaV2 := vertices[i2].Texcoord.Y - vertices[i0].Texcoord.Y

		dividend := deltaU1*deltaV2 - deltaU2*deltaV1
		if dividend == 0 {
			continue
		}
		fc := 1.0 / dividend

		tangent := Vec3{
			fc * (deltaV2*edge1.X - deltaV1*edge2.X),
			fc * (deltaV2*edge1.Y - deltaV1*edge2.Y),
			fc * (deltaV2*edge1.Z - deltaV1*edge2.Z),
		}.Normalize()

		handedness := float32(1.0)
		if deltaV1*deltaU2-deltaV2*deltaU1 < 0.0 {
			handedness = -1.0
		}

		t4 := tangent.ToVec4(handedness)
		vertices[i0].Tangent = t4
		vertices[i1].Tangent = t4
		vertices[i2].Tangent = t4
	}
}

// GeometryCube builds an axis-aligned box centered at the origin: 24 vertices
// (4 per face, so normals stay flat) and 36 counter-clockwise indices.
func GeometryCube(width, height, depth float32) ([]Vertex3D, []uint32) {
	hw, hh, hd := width*0.5, height*0.5, depth*0.5
	type face struct {
		normal  Vec3
		corners [4]Vec3
	}
	faces := [6]face{
		{Vec3{0, 0, 1}, [4]Vec3{{-hw, -hh, hd}, {hw, -hh, hd}, {hw, hh, hd}, {-hw, hh, hd}}},
		{Vec3{0, 0, -1}, [4]Vec3{{hw, -hh, -hd}, {-hw, -hh, -hd}, {-hw, hh, -hd}, {hw, hh, -hd}}},
		{Vec3{1, 0, 0}, [4]Vec3{{hw, -hh, hd}, {hw, -hh, -hd}, {hw, hh, -hd}, {hw, hh, hd}}},
		{Vec3{-1, 0, 0}, [4]Vec3{{-hw, -hh, -hd}, {-hw, -hh, hd}, {-hw, hh, hd}, {-hw, hh, -hd}}},
		{Vec3{0, 1, 0}, [4]Vec3{{-hw, hh, hd}, {hw, hh, hd}, {hw, hh, -hd}, {-hw, hh, -hd}}},
		{Vec3{0, -1, 0}, [4]Vec3{{-hw, -hh, -hd}, {hw, -hh, -hd}, {hw, -hh, hd}, {-hw, -hh, hd}}},
	}
	uvs := [4]Vec2{{0, 1}, {1, 1}, {1, 0}, {0, 0}}

	vertices := make([]Vertex3D, 0, 24)
	indices := make([]uint32, 0, 36)
	for _, f := range faces {
		base := uint32(len(vertices))
		for c := 0; c < 4; c++ {
			vertices = append(vertices, Vertex3D{
				Position: f.corners[c],
				Normal:   f.normal,
				Texcoord: uvs[c],
			})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	GeometryGenerateTangents(vertices, indices)
	return vertices, indices
}

// GeometryPlane builds a horizontal (XZ) plane facing +Y, split into
// xSegments by zSegments quads.
func GeometryPlane(width, depth float32, xSegments, zSegments uint32) ([]Vertex3D, []uint32) {
	if xSegments == 0 {
		xSegments = 1
	}
	if zSegments == 0 {
		zSegments = 1
	}
	vertices := make([]Vertex3D, 0, (xSegments+1)*(zSegments+1))
	for z := uint32(0); z <= zSegments; z++ {
		for x := uint32(0); x <= xSegments; x++ {
			u := float32(x) / float32(xSegments)
			v := float32(z) / float32(zSegments)
			vertices = append(vertices, Vertex3D{
				Position: Vec3{(u - 0.5) * width, 0, (v - 0.5) * depth},
				Normal:   Vec3{0, 1, 0},
				Texcoord: Vec2{u, v},
			})
		}
	}
	indices := make([]uint32, 0, xSegments*zSegments*6)
	stride := xSegments + 1
	for z := uint32(0); z < zSegments; z++ {
		for x := uint32(0); x < xSegments; x++ {
			i0 := z*stride + x
			i1 := i0 + 1
			i2 := i0 + stride
			i3 := i2 + 1
			// counter-clockwise seen from +Y
			indices = append(indices, i0, i2, i1, i1, i2, i3)
		}
	}
	GeometryGenerateTangents(vertices, indices)
	return vertices, indices
}

// BoundingRadius is the distance from the origin to the farthest vertex.
func BoundingRadius(vertices []Vertex3D) float32 {
	var r2 float32
	for i := range vertices {
		if l := vertices[i].Position.LengthSquared(); l > r2 {
			r2 = l
		}
	}
	return math32.Sqrt(r2)
}
