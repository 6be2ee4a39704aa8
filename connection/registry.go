package connection

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry hands out one Manager per name so that every consumer in a
// process shares the same socket for a given channel.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	managers map[string]*Manager
}

func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		managers: make(map[string]*Manager),
	}
}

// Manager returns the manager for name, creating it on first use.
func (r *Registry) Manager(name string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[name]; ok {
		return m
	}
	m := NewManager(r.cfg, r.logger.With(zap.String("manager", name)))
	r.managers[name] = m
	return m
}

// Names lists the managers created so far.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.managers))
	for n := range r.managers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close disconnects every manager.
func (r *Registry) Close() {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	for _, m := range managers {
		m.Disconnect()
	}
}
