package gx3d

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/spaghettifunk/prism/engine/core"
	m "github.com/spaghettifunk/prism/engine/math"
)

// Record is one typed payload in the container.
type Record interface {
	Kind() Kind
	Encode(e *Encoder)
	Decode(c *Cursor)
}

type entry struct {
	id   uint64
	data []byte
}

// Writer collects records and emits a complete container.
type Writer struct {
	order   binary.ByteOrder
	lastID  uint64
	entries [KindCount][]entry
}

// NewWriter writes in the given byte order; nil means the host's.
func NewWriter(order binary.ByteOrder) *Writer {
	if order == nil || order == binary.ByteOrder(binary.NativeEndian) {
		order = HostOrder()
	}
	return &Writer{order: order}
}

// Add encodes rec under id. Identifiers must be unique per kind.
func (w *Writer) Add(id uint64, rec Record) error {
	k := rec.Kind()
	for _, e := range w.entries[k] {
		if e.id == id {
			return fmt.Errorf("%s %d added twice: %w", k, id, core.ErrInvalidState)
		}
	}
	e := &Encoder{order: w.order}
	rec.Encode(e)
	if err := e.Err(); err != nil {
		return fmt.Errorf("%s %d: %w", k, id, err)
	}
	w.entries[k] = append(w.entries[k], entry{id: id, data: e.buf.Bytes()})
	if id > w.lastID {
		w.lastID = id
	}
	return nil
}

// SetLastID raises the header's last identifier.
func (w *Writer) SetLastID(id uint64) {
	if id > w.lastID {
		w.lastID = id
	}
}

func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	tableBytes := uint64(0)
	for k := range w.entries {
		sort.Slice(w.entries[k], func(i, j int) bool { return w.entries[k][i].id < w.entries[k][j].id })
		tableBytes += 8 + 16*uint64(len(w.entries[k]))
	}

	head := &Encoder{order: w.order}
	head.U8(orderMarker(w.order))
	head.U64(w.lastID)
	offset := uint64(headerSize) + tableBytes
	for k := range w.entries {
		head.U64(uint64(len(w.entries[k])))
		for _, e := range w.entries[k] {
			head.U64(e.id)
			head.U64(offset)
			offset += uint64(len(e.data))
		}
	}

	if err := head.Err(); err != nil {
		return 0, fmt.Errorf("header: %w", err)
	}
	n, err := dst.Write(head.buf.Bytes())
	total := int64(n)
	if err != nil {
		return total, fmt.Errorf("write header: %w: %w", core.ErrIO, err)
	}
	for k := range w.entries {
		for _, e := range w.entries[k] {
			n, err := dst.Write(e.data)
			total += int64(n)
			if err != nil {
				return total, fmt.Errorf("write %s %d: %w: %w", Kind(k), e.id, core.ErrIO, err)
			}
		}
	}
	return total, nil
}

// Bytes renders the container in memory.
func (w *Writer) Bytes() []byte {
	var b bytes.Buffer
	_, _ = w.WriteTo(&b)
	return b.Bytes()
}

// Encoder mirrors Cursor for writing. The first value that cannot be
// represented sticks and turns every later write into a no-op.
type Encoder struct {
	order binary.ByteOrder
	buf   bytes.Buffer
	tmp   [8]byte
	err   error
}

func (e *Encoder) Err() error {
	return e.err
}

func (e *Encoder) U8(v uint8) {
	if e.err != nil {
		return
	}
	e.buf.WriteByte(v)
}

func (e *Encoder) Bool(v bool) {
	if v {
		e.U8(1)
		return
	}
	e.U8(0)
}

func (e *Encoder) U16(v uint16) {
	if e.err != nil {
		return
	}
	e.order.PutUint16(e.tmp[:2], v)
	e.buf.Write(e.tmp[:2])
}

func (e *Encoder) U32(v uint32) {
	if e.err != nil {
		return
	}
	e.order.PutUint32(e.tmp[:4], v)
	e.buf.Write(e.tmp[:4])
}

func (e *Encoder) U64(v uint64) {
	if e.err != nil {
		return
	}
	e.order.PutUint64(e.tmp[:8], v)
	e.buf.Write(e.tmp[:8])
}

func (e *Encoder) I32(v int32) {
	e.U32(uint32(v))
}

func (e *Encoder) F32(v float32) {
	e.U32(math.Float32bits(v))
}

// String fails on strings longer than 65535 bytes.
func (e *Encoder) String(s string) {
	if len(s) > math.MaxUint16 {
		if e.err == nil {
			e.err = fmt.Errorf("string of %d bytes exceeds %d: %w", len(s), math.MaxUint16, core.ErrInvalidState)
		}
		return
	}
	e.U16(uint16(len(s)))
	if e.err == nil {
		e.buf.WriteString(s)
	}
}

func (e *Encoder) Bytes(b []byte) {
	e.U64(uint64(len(b)))
	if e.err == nil {
		e.buf.Write(b)
	}
}

func (e *Encoder) Vec3(v m.Vec3) {
	e.F32(v.X)
	e.F32(v.Y)
	e.F32(v.Z)
}

func (e *Encoder) Vec4(v m.Vec4) {
	e.F32(v.X)
	e.F32(v.Y)
	e.F32(v.Z)
	e.F32(v.W)
}

func (e *Encoder) Quat(q m.Quaternion) {
	e.Vec4(m.Vec4(q))
}

func (e *Encoder) Mat4(mt m.Mat4) {
	for _, f := range mt.Data {
		e.F32(f)
	}
}

func (e *Encoder) F32s(v []float32) {
	e.U64(uint64(len(v)))
	for _, f := range v {
		e.F32(f)
	}
}

func (e *Encoder) U32s(v []uint32) {
	e.U64(uint64(len(v)))
	for _, u := range v {
		e.U32(u)
	}
}

func (e *Encoder) IDs(v []uint64) {
	e.U64(uint64(len(v)))
	for _, u := range v {
		e.U64(u)
	}
}
