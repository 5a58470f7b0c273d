package gpu

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/spaghettifunk/prism/engine/core"
)

const pipelineCacheVersion = 1

type pipelineCacheEnvelope struct {
	Version int       `msgpack:"version"`
	Backend string    `msgpack:"backend"`
	Device  string    `msgpack:"device"`
	Data    []byte    `msgpack:"data"`
	SavedAt time.Time `msgpack:"saved_at"`
}

// PipelineCacheStore persists backend pipeline-cache blobs between runs.
// Blobs are only handed back to the backend and device that produced them.
type PipelineCacheStore struct {
	path string
}

func NewPipelineCacheStore(path string) *PipelineCacheStore {
	return &PipelineCacheStore{path: path}
}

func (s *PipelineCacheStore) Path() string {
	return s.path
}

func (s *PipelineCacheStore) Save(backend, device string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return err
	}
	env := pipelineCacheEnvelope{
		Version: pipelineCacheVersion,
		Backend: backend,
		Device:  device,
		Data:    data,
		SavedAt: time.Now(),
	}
	if err := msgpack.NewEncoder(zw).Encode(&env); err != nil {
		zw.Close()
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load returns the stored blob. A missing file yields (nil, nil); a blob
// written by another backend or device is discarded the same way. An empty
// device accepts any device, for callers seeding a device not created yet.
func (s *PipelineCacheStore) Load(backend, device string) ([]byte, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("%v: %w", err, core.ErrIO)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", s.path, err, core.ErrMalformedAsset)
	}
	defer zr.Close()

	var env pipelineCacheEnvelope
	if err := msgpack.NewDecoder(zr).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", s.path, err, core.ErrMalformedAsset)
	}
	if env.Version != pipelineCacheVersion || env.Backend != backend || (device != "" && env.Device != device) {
		core.LogInfo("ignoring pipeline cache for %s/%s (v%d)", env.Backend, env.Device, env.Version)
		return nil, nil
	}
	return env.Data, nil
}
