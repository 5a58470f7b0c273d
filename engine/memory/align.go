package memory

import (
	"fmt"
	"math/bits"
)

// Debug enables alignment validation on every Align call.
var Debug = false

// Align rounds size up to the next multiple of alignment. mask must be
// alignment-1 and notMask its complement.
func Align(size, alignment, mask, notMask uint64) uint64 {
	if Debug {
		if err := ValidateAlignment(alignment, mask, notMask); err != nil {
			panic(err)
		}
	}
	return (size + mask) & notMask
}

// AlignTo derives the masks from alignment.
func AlignTo(size, alignment uint64) uint64 {
	if alignment <= 1 {
		return size
	}
	mask := alignment - 1
	return Align(size, alignment, mask, ^mask)
}

func ValidateAlignment(alignment, mask, notMask uint64) error {
	if alignment == 0 || bits.OnesCount64(alignment) != 1 {
		return fmt.Errorf("alignment %d is not a power of two", alignment)
	}
	if mask != alignment-1 || mask != ^notMask {
		return fmt.Errorf("alignment %d has inconsistent masks %#x / %#x", alignment, mask, notMask)
	}
	return nil
}

// Block is an aligned range [Offset, End) inside a parent region.
type Block struct {
	Offset           uint64
	Size             uint64
	AlignmentMask    uint64
	AlignmentNotMask uint64
	End              uint64
}

// NewBlock aligns offset up to alignment and reserves size bytes from there.
func NewBlock(offset, size, alignment uint64) Block {
	if alignment == 0 {
		alignment = 1
	}
	mask := alignment - 1
	b := Block{
		AlignmentMask:    mask,
		AlignmentNotMask: ^mask,
		Size:             size,
	}
	b.Offset = Align(offset, alignment, mask, ^mask)
	b.End = b.Offset + size
	return b
}

func (b Block) Alignment() uint64 {
	return b.AlignmentMask + 1
}

// Fits reports whether the block is aligned and lies inside parent.
func (b Block) Fits(parent Block) bool {
	return b.Offset&b.AlignmentMask == 0 && b.Offset >= parent.Offset && b.End <= parent.End
}
