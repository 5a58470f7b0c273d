package gx3d

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
)

// Container is the process-wide handle on data.gx3d. Reads run concurrently;
// Reload swaps the file under a write lock.
type Container struct {
	mu     sync.RWMutex
	path   string
	file   *os.File
	reader *Reader
	// generation increases on every successful Reload.
	generation uint64
}

// Open opens and indexes the container at path.
func Open(path string) (*Container, error) {
	c := &Container{path: path}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

// OpenBytes indexes an in-memory container.
func OpenBytes(data []byte) (*Container, error) {
	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return &Container{reader: r}, nil
}

func (c *Container) open() error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("open %s: %w: %w", c.path, core.ErrIO, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w: %w", c.path, core.ErrIO, err)
	}
	r, err := NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", c.path, err)
	}
	c.file = f
	c.reader = r
	return nil
}

// Reload re-reads the file from disk. On failure the previous contents stay
// in place.
func (c *Container) Reload() error {
	if c.path == "" {
		return nil
	}
	next := &Container{path: c.path}
	if err := next.open(); err != nil {
		return err
	}
	c.mu.Lock()
	old := c.file
	c.file = next.file
	c.reader = next.reader
	c.generation++
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (c *Container) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *Container) Path() string {
	return c.path
}

func (c *Container) LastID() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reader.LastID()
}

func (c *Container) Has(kind Kind, id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reader.Has(kind, id)
}

// IDs lists the identifiers of kind in table order.
func (c *Container) IDs(kind Kind) []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]uint64(nil), c.reader.Table(kind).IDs...)
}

// Load seeks to the record and decodes it into rec. Missing identifiers
// return ErrResourceNotFound.
func (c *Container) Load(id uint64, rec Record) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cur, err := c.reader.Seek(rec.Kind(), id)
	if err != nil {
		return err
	}
	rec.Decode(cur)
	if err := cur.Err(); err != nil {
		return fmt.Errorf("decode %s %d: %w", rec.Kind(), id, err)
	}
	return nil
}

func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
