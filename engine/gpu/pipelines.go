package gpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/prism/engine/core"
)

type pipelineKey struct {
	renderPass uint64
	kind       PipelineType
}

// PipelineManager caches compiled pipelines by render pass and type.
type PipelineManager struct {
	mu           sync.Mutex
	device       Device
	store        *PipelineCacheStore
	pipelines    map[pipelineKey]Pipeline
	compilations atomic.Uint64
}

// NewPipelineManager creates a manager. store may be nil, in which case the
// backend cache is never persisted.
func NewPipelineManager(device Device, store *PipelineCacheStore) *PipelineManager {
	return &PipelineManager{
		device:    device,
		store:     store,
		pipelines: make(map[pipelineKey]Pipeline),
	}
}

// Get returns the pipeline for desc, compiling it on first use.
func (pm *PipelineManager) Get(desc PipelineDesc) (Pipeline, error) {
	if desc.RenderPass == nil {
		return nil, fmt.Errorf("pipeline %s without render pass: %w", desc.Type, core.ErrInvalidState)
	}
	key := pipelineKey{renderPass: desc.RenderPass.ID(), kind: desc.Type}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.pipelines[key]; ok {
		return p, nil
	}
	p, err := pm.device.CreatePipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s for pass %s: %w", desc.Type, desc.RenderPass.Desc().Name, err)
	}
	pm.compilations.Add(1)
	pm.pipelines[key] = p
	core.LogDebug("compiled pipeline %s for render pass %d", desc.Type, key.renderPass)
	return p, nil
}

// Lookup returns a cached pipeline without compiling.
func (pm *PipelineManager) Lookup(renderPassID uint64, kind PipelineType) (Pipeline, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.pipelines[pipelineKey{renderPass: renderPassID, kind: kind}]
	return p, ok
}

// Drop destroys every pipeline built for the render pass. The device must
// be idle.
func (pm *PipelineManager) Drop(renderPassID uint64) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	n := 0
	for k, p := range pm.pipelines {
		if k.renderPass == renderPassID {
			p.Destroy()
			delete(pm.pipelines, k)
			n++
		}
	}
	return n
}

func (pm *PipelineManager) Compilations() uint64 {
	return pm.compilations.Load()
}

func (pm *PipelineManager) Len() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.pipelines)
}

// Save persists the backend pipeline cache.
func (pm *PipelineManager) Save() error {
	if pm.store == nil {
		return nil
	}
	data, err := pm.device.PipelineCacheData()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return pm.store.Save(pm.device.Backend(), pm.device.Name(), data)
}

// Destroy releases all pipelines. The device must be idle.
func (pm *PipelineManager) Destroy() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for k, p := range pm.pipelines {
		p.Destroy()
		delete(pm.pipelines, k)
	}
}
