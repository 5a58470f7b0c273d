package gx3d

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/spaghettifunk/prism/engine/core"
	m "github.com/spaghettifunk/prism/engine/math"
)

// Table maps identifiers of one kind to absolute record offsets.
type Table struct {
	IDs     []uint64
	Offsets map[uint64]uint64
}

func (t *Table) Len() int {
	return len(t.IDs)
}

// Reader parses the header once and hands out cursors over records. It is
// safe for concurrent use when the underlying io.ReaderAt is.
type Reader struct {
	src    io.ReaderAt
	size   int64
	order  binary.ByteOrder
	swap   bool
	lastID uint64
	tables [KindCount]Table
}

func NewReader(src io.ReaderAt, size int64) (*Reader, error) {
	r := &Reader{src: src, size: size}
	c := &Cursor{r: r}

	marker := c.U8()
	if c.err != nil {
		return nil, c.err
	}
	switch marker {
	case markerBigEndian:
		r.order = binary.BigEndian
	case markerLittleEndian:
		r.order = binary.LittleEndian
	default:
		return nil, fmt.Errorf("endianness marker %d: %w", marker, core.ErrMalformedAsset)
	}
	r.swap = r.order != HostOrder()
	r.lastID = c.U64()

	for k := Kind(0); k < KindCount; k++ {
		n := c.count(16)
		t := Table{IDs: make([]uint64, 0, n), Offsets: make(map[uint64]uint64, n)}
		for i := uint64(0); i < n && c.err == nil; i++ {
			id := c.U64()
			off := c.U64()
			if c.err == nil && (off < headerSize || int64(off) >= size) {
				c.err = fmt.Errorf("%s %d offset %d outside file of %d bytes: %w", k, id, off, size, core.ErrMalformedAsset)
			}
			t.IDs = append(t.IDs, id)
			t.Offsets[id] = off
		}
		r.tables[k] = t
	}
	if c.err != nil {
		return nil, c.err
	}
	return r, nil
}

func (r *Reader) LastID() uint64 {
	return r.lastID
}

func (r *Reader) Order() binary.ByteOrder {
	return r.order
}

// Swapped reports whether typed reads reverse bytes relative to the host.
func (r *Reader) Swapped() bool {
	return r.swap
}

func (r *Reader) Table(kind Kind) *Table {
	return &r.tables[kind]
}

func (r *Reader) Has(kind Kind, id uint64) bool {
	_, ok := r.tables[kind].Offsets[id]
	return ok
}

// At returns a cursor at an absolute offset.
func (r *Reader) At(offset uint64) *Cursor {
	return &Cursor{r: r, pos: int64(offset)}
}

// Seek returns a cursor on the record of kind with identifier id.
func (r *Reader) Seek(kind Kind, id uint64) (*Cursor, error) {
	off, ok := r.tables[kind].Offsets[id]
	if !ok {
		return nil, fmt.Errorf("%s %d: %w", kind, id, core.ErrResourceNotFound)
	}
	return r.At(off), nil
}

// Cursor performs typed reads. The first failure sticks: later reads return
// zero values and Err reports it.
type Cursor struct {
	r   *Reader
	pos int64
	err error
	buf [8]byte
}

func (c *Cursor) Err() error {
	return c.err
}

func (c *Cursor) Offset() int64 {
	return c.pos
}

func (c *Cursor) read(p []byte) bool {
	if c.err != nil {
		return false
	}
	n, err := c.r.src.ReadAt(p, c.pos)
	c.pos += int64(n)
	if n < len(p) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		c.err = fmt.Errorf("short read of %d bytes at %d: %w: %w", len(p), c.pos-int64(n), core.ErrIO, err)
		return false
	}
	return true
}

// count reads a u64 array length and checks elemSize*n fits in what is left.
func (c *Cursor) count(elemSize uint64) uint64 {
	n := c.U64()
	if c.err != nil {
		return 0
	}
	remaining := uint64(c.r.size - c.pos)
	if elemSize > 0 && n > remaining/elemSize {
		c.err = fmt.Errorf("declared %d elements of %d bytes at %d exceed file size %d: %w",
			n, elemSize, c.pos, c.r.size, core.ErrMalformedAsset)
		return 0
	}
	return n
}

func (c *Cursor) U8() uint8 {
	if !c.read(c.buf[:1]) {
		return 0
	}
	return c.buf[0]
}

func (c *Cursor) Bool() bool {
	return c.U8() != 0
}

func (c *Cursor) U16() uint16 {
	if !c.read(c.buf[:2]) {
		return 0
	}
	return c.r.order.Uint16(c.buf[:2])
}

func (c *Cursor) U32() uint32 {
	if !c.read(c.buf[:4]) {
		return 0
	}
	return c.r.order.Uint32(c.buf[:4])
}

func (c *Cursor) U64() uint64 {
	if !c.read(c.buf[:8]) {
		return 0
	}
	return c.r.order.Uint64(c.buf[:8])
}

func (c *Cursor) I32() int32 {
	return int32(c.U32())
}

func (c *Cursor) F32() float32 {
	return math.Float32frombits(c.U32())
}

func (c *Cursor) String() string {
	n := c.U16()
	if c.err != nil || n == 0 {
		return ""
	}
	b := make([]byte, n)
	if !c.read(b) {
		return ""
	}
	return string(b)
}

// Bytes reads a u64 length-prefixed raw byte array.
func (c *Cursor) Bytes() []byte {
	n := c.count(1)
	if c.err != nil {
		return nil
	}
	b := make([]byte, n)
	if !c.read(b) {
		return nil
	}
	return b
}

func (c *Cursor) Vec3() m.Vec3 {
	return m.Vec3{X: c.F32(), Y: c.F32(), Z: c.F32()}
}

func (c *Cursor) Vec4() m.Vec4 {
	return m.Vec4{X: c.F32(), Y: c.F32(), Z: c.F32(), W: c.F32()}
}

func (c *Cursor) Quat() m.Quaternion {
	return m.Quaternion(c.Vec4())
}

func (c *Cursor) Mat4() m.Mat4 {
	var out m.Mat4
	for i := range out.Data {
		out.Data[i] = c.F32()
	}
	return out
}

// F32s reads a u64 length-prefixed float array.
func (c *Cursor) F32s() []float32 {
	n := c.count(4)
	out := make([]float32, 0, n)
	for i := uint64(0); i < n && c.err == nil; i++ {
		out = append(out, c.F32())
	}
	return out
}

func (c *Cursor) U32s() []uint32 {
	n := c.count(4)
	out := make([]uint32, 0, n)
	for i := uint64(0); i < n && c.err == nil; i++ {
		out = append(out, c.U32())
	}
	return out
}

// IDs reads a u64 length-prefixed identifier list.
func (c *Cursor) IDs() []uint64 {
	n := c.count(8)
	out := make([]uint64, 0, n)
	for i := uint64(0); i < n && c.err == nil; i++ {
		out = append(out, c.U64())
	}
	return out
}

// Fail records a decoding error unless one is already set.
func (c *Cursor) Fail(err error) {
	if c.err == nil {
		c.err = err
	}
}
