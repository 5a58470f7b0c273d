// Package gx3d reads and writes the engine's binary asset container.
//
// Layout: byte 0 is the writer's byte order (0 big, 1 little), bytes 1..9 the
// last issued identifier, then one offset table per Kind in Kind order
// (u64 count, then count pairs of u64 id and u64 absolute offset), then the
// records. Arrays carry a u64 length prefix and strings a u16 one.
package gx3d

import (
	"encoding/binary"
)

// FileName is the mandatory name of the container beside the executable.
const FileName = "data.gx3d"

type Kind uint8

const (
	KindCamera Kind = iota
	KindAudio
	KindLight
	KindTexture
	KindFont
	KindMesh
	KindModel
	KindSkybox
	KindConstraint
	KindScene

	KindCount
)

func (k Kind) String() string {
	switch k {
	case KindCamera:
		return "camera"
	case KindAudio:
		return "audio"
	case KindLight:
		return "light"
	case KindTexture:
		return "texture"
	case KindFont:
		return "font"
	case KindMesh:
		return "mesh"
	case KindModel:
		return "model"
	case KindSkybox:
		return "skybox"
	case KindConstraint:
		return "constraint"
	case KindScene:
		return "scene"
	default:
		return "unknown"
	}
}

const (
	markerBigEndian    byte = 0
	markerLittleEndian byte = 1

	headerSize = 1 + 8
)

// HostOrder is the byte order of the running machine.
func HostOrder() binary.ByteOrder {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 1)
	if b[0] == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// SwappedOrder is the byte order opposite to the host's.
func SwappedOrder() binary.ByteOrder {
	if HostOrder() == binary.LittleEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func orderMarker(order binary.ByteOrder) byte {
	if order == binary.BigEndian {
		return markerBigEndian
	}
	return markerLittleEndian
}
