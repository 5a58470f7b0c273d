package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/prism/engine/assets/loaders"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gx3d"
)

// reloadDelay coalesces the bursts of events editors and copies produce.
const reloadDelay = 150 * time.Millisecond

type Config struct {
	// Path is the directory holding data.gx3d. Empty means the directory of
	// the executable, then the working directory.
	Path string
	// Watch reloads the container when the file changes on disk.
	Watch bool
	// Mipmaps generates mip chains for 2D textures.
	Mipmaps bool
}

// AssetManager owns the gx3d container and the payload loaders.
type AssetManager struct {
	cfg       Config
	dir       string
	container *gx3d.Container

	images      Loader[*loaders.Image]
	bitmapFonts Loader[*loaders.FontData]
	systemFonts Loader[*loaders.FontData]

	mutex     sync.RWMutex
	listeners []func(generation uint64)

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	timer    *time.Timer
}

func NewAssetManager(cfg Config) *AssetManager {
	return &AssetManager{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// FromContainer wraps an already opened container. dir resolves relative
// asset paths such as bitmap font descriptors. Nothing is watched.
func FromContainer(c *gx3d.Container, dir string) *AssetManager {
	am := NewAssetManager(Config{Path: dir})
	am.dir = dir
	am.container = c
	am.registerLoaders()
	return am
}

// Initialize locates and opens data.gx3d. A missing file leaves the manager
// with an empty container so runtime-built scenes still work.
func (am *AssetManager) Initialize() error {
	if am.container != nil {
		return nil
	}
	dir, err := locate(am.cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		core.LogWarn("%s not found, starting with an empty container", gx3d.FileName)
		am.dir = dir
		empty, err := gx3d.OpenBytes(gx3d.NewWriter(gx3d.HostOrder()).Bytes())
		if err != nil {
			return err
		}
		am.container = empty
		am.registerLoaders()
		return nil
	case err != nil:
		return err
	}

	am.dir = dir
	c, err := gx3d.Open(filepath.Join(dir, gx3d.FileName))
	if err != nil {
		return err
	}
	am.container = c
	am.registerLoaders()
	core.SeedIdentifiers(c.LastID())
	core.LogInfo("asset container %s opened (last id %d)", c.Path(), c.LastID())

	if am.cfg.Watch {
		if err := am.watch(); err != nil {
			return err
		}
	}
	return nil
}

func (am *AssetManager) registerLoaders() {
	am.images = &loaders.ImageLoader{Mipmaps: am.cfg.Mipmaps}
	am.bitmapFonts = &loaders.BitmapFontLoader{ResourcePath: am.dir}
	am.systemFonts = &loaders.SystemFontLoader{DefaultSize: 16}
}

func locate(configured string) (string, error) {
	var candidates []string
	if configured != "" {
		candidates = append(candidates, configured)
	} else {
		if exe, err := os.Executable(); err == nil {
			candidates = append(candidates, filepath.Dir(exe))
		}
		if wd, err := os.Getwd(); err == nil {
			candidates = append(candidates, wd)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no asset directory: %w", os.ErrNotExist)
	}
	for _, dir := range candidates {
		st, err := os.Stat(filepath.Join(dir, gx3d.FileName))
		if err == nil && !st.IsDir() {
			return dir, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w: %w", dir, core.ErrIO, err)
		}
	}
	return candidates[0], fmt.Errorf("%s: %w", gx3d.FileName, os.ErrNotExist)
}

func (am *AssetManager) Container() *gx3d.Container {
	return am.container
}

func (am *AssetManager) Dir() string {
	return am.dir
}

// Resolve turns a container-relative path into a filesystem path.
func (am *AssetManager) Resolve(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(am.dir, rel)
}

// LoadImage decodes a texture record payload.
func (am *AssetManager) LoadImage(name string, rec *gx3d.TextureRecord) (*loaders.Image, error) {
	return am.images.Load(name, loaders.Source{Data: rec.Data, Cube: rec.Type == gx3d.TextureCube})
}

// LoadFont rasterizes or reads the font a record describes.
func (am *AssetManager) LoadFont(rec *gx3d.FontRecord) (*loaders.FontData, error) {
	switch rec.Type {
	case gx3d.FontBitmap:
		return am.bitmapFonts.Load(rec.Name, loaders.Source{Path: am.Resolve(rec.Path)})
	case gx3d.FontTrueType:
		return am.systemFonts.Load(rec.Name, loaders.Source{Data: rec.Data, Size: rec.Size})
	}
	return nil, fmt.Errorf("font %q type %d: %w", rec.Name, rec.Type, core.ErrMalformedAsset)
}

// OnReload registers fn to run after every successful container reload.
func (am *AssetManager) OnReload(fn func(generation uint64)) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.listeners = append(am.listeners, fn)
}

// Reload re-reads the container and notifies the listeners.
func (am *AssetManager) Reload() error {
	if err := am.container.Reload(); err != nil {
		return err
	}
	gen := am.container.Generation()
	core.SeedIdentifiers(am.container.LastID())
	core.LogInfo("asset container reloaded (generation %d)", gen)

	am.mutex.RLock()
	listeners := append([]func(uint64){}, am.listeners...)
	am.mutex.RUnlock()
	for _, fn := range listeners {
		fn(gen)
	}
	return nil
}

// watch follows the directory rather than the file so that atomic
// replacements (write temp, rename) are seen.
func (am *AssetManager) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("asset watcher: %w: %w", core.ErrIO, err)
	}
	if err := w.Add(am.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w: %w", am.dir, core.ErrIO, err)
	}
	am.fsnotify = w
	am.stopped = make(chan struct{})
	go am.start()
	return nil
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Base(e.Name) != gx3d.FileName {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				am.scheduleReload()
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) scheduleReload() {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	if am.isClosed {
		return
	}
	if am.timer != nil {
		am.timer.Stop()
	}
	am.timer = time.AfterFunc(reloadDelay, func() {
		if err := am.Reload(); err != nil {
			core.LogError("reload %s: %s", gx3d.FileName, err)
		}
	})
}

// Shutdown stops watching and closes the container.
func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	if am.timer != nil {
		am.timer.Stop()
	}
	am.mutex.Unlock()

	close(am.done)
	if am.stopped != nil {
		<-am.stopped
	}
	if am.container == nil {
		return nil
	}
	return am.container.Close()
}
