package scene

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
)

// Manager owns the scenes. Scenes point back to it weakly.
type Manager struct {
	mu     sync.RWMutex
	scenes map[uint64]*Scene
	active uint64
}

func NewManager() *Manager {
	return &Manager{scenes: make(map[uint64]*Scene)}
}

// Add registers s. The first game scene becomes the active one.
func (m *Manager) Add(s *Scene) {
	m.mu.Lock()
	m.scenes[s.ID()] = s
	if m.active == 0 && s.Kind == KindGame {
		m.active = s.ID()
	}
	m.mu.Unlock()
	s.setManager(m)
	core.LogDebug("scene %q (%s) added", s.Name(), s.Kind)
}

func (m *Manager) Remove(id uint64) *Scene {
	m.mu.Lock()
	s, ok := m.scenes[id]
	if ok {
		delete(m.scenes, id)
		if m.active == id {
			m.active = 0
		}
	}
	m.mu.Unlock()
	if ok {
		s.setManager(nil)
	}
	return s
}

func (m *Manager) Get(id uint64) (*Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenes[id]
	if !ok {
		return nil, fmt.Errorf("scene %d: %w", id, core.ErrResourceNotFound)
	}
	return s, nil
}

// SetActive selects the game scene whose output is presented.
func (m *Manager) SetActive(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenes[id]
	if !ok || s.Kind != KindGame {
		return fmt.Errorf("active scene %d: %w", id, core.ErrResourceNotFound)
	}
	m.active = id
	return nil
}

// Active is the presented game scene, nil when there is none.
func (m *Manager) Active() *Scene {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scenes[m.active]
}

// Scenes returns every scene ordered by identifier.
func (m *Manager) Scenes() []*Scene {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Scene, 0, len(m.scenes))
	for _, s := range m.scenes {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Scene) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// Update runs Scene.Update for every scene.
func (m *Manager) Update(frame uint32) error {
	for _, s := range m.Scenes() {
		if err := s.Update(frame); err != nil {
			return fmt.Errorf("update scene %q: %w", s.Name(), err)
		}
	}
	return nil
}

// Destroy releases every scene's frame set.
func (m *Manager) Destroy() {
	for _, s := range m.Scenes() {
		m.Remove(s.ID()).Destroy()
	}
}
