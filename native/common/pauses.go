package common

import (
	"sort"
	"strings"
	"sync"
)

// Pauses is a concurrency-safe pause switchboard. Operators flip switches at
// runtime through the admin surface; engines consult it through the
// PauseView interface on every operation.
type Pauses struct {
	mu      sync.RWMutex
	modules map[string]bool
}

// NewPauses builds a switchboard with the given switches initially engaged.
func NewPauses(initial ...string) *Pauses {
	p := &Pauses{modules: make(map[string]bool)}
	for _, module := range initial {
		module = strings.TrimSpace(module)
		if module != "" {
			p.modules[module] = true
		}
	}
	return p
}

// SetPaused engages or releases one switch.
func (p *Pauses) SetPaused(module string, paused bool) {
	if p == nil {
		return
	}
	module = strings.TrimSpace(module)
	if module == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.modules[module] = true
	} else {
		delete(p.modules, module)
	}
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modules[module]
}

// Snapshot lists the currently engaged switches in sorted order.
func (p *Pauses) Snapshot() []string {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	engaged := make([]string, 0, len(p.modules))
	for module := range p.modules {
		engaged = append(engaged, module)
	}
	sort.Strings(engaged)
	return engaged
}
