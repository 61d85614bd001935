package pipe

import "sync"

// NameRegistry tracks which pipe names are active, so two pipes in one
// process cannot bind the same name. Pipes take it as a capability rather
// than touching shared global state; New falls back to a process-wide
// default when none is supplied.
type NameRegistry interface {
	// Register claims a name; returns ErrDuplicateName if already claimed.
	Register(name string) error
	// Unregister releases a name. Unknown names are ignored.
	Unregister(name string)
}

// NewProcessNameRegistry returns an empty in-memory NameRegistry.
func NewProcessNameRegistry() NameRegistry {
	return &processNames{names: make(map[string]struct{})}
}

// defaultNames backs every pipe created without WithNameRegistry.
var defaultNames = NewProcessNameRegistry()

type processNames struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func (p *processNames) Register(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.names[name]; ok {
		return ErrDuplicateName
	}
	p.names[name] = struct{}{}
	return nil
}

func (p *processNames) Unregister(name string) {
	p.mu.Lock()
	delete(p.names, name)
	p.mu.Unlock()
}
