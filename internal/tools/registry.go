package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/windlane/chatgraph/internal/log"
)

// Registry holds tool descriptors by name.
//
// Thread safety: all operations take the registry lock; handlers run
// outside it, so a slow tool never blocks registration or lookup.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
	order  []string
	logger log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		byName: make(map[string]*Descriptor),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a descriptor. Registering an existing name replaces the
// previous descriptor (last write wins); the enabled flag is taken from
// the new descriptor.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	if err := d.compile(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	} else {
		r.logger.Debug("replacing registered tool", "tool", d.Name)
	}
	r.byName[d.Name] = d
	return nil
}

// Enable marks the named tool invocable. Unknown names are a no-op.
func (r *Registry) Enable(name string) {
	r.setEnabled(name, true)
}

// Disable marks the named tool non-invocable without unregistering it.
// Unknown names are a no-op.
func (r *Registry) Disable(name string) {
	r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byName[name]
	if !ok {
		r.logger.Warn("toggling unknown tool", "tool", name, "enabled", enabled)
		return
	}
	d.Enabled = enabled
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Names returns all registered tool names in registration order,
// including disabled ones.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve maps requested names to enabled descriptors. Unknown and
// disabled names are skipped with a warning, matching the contract that a
// request may name tools freely without failing the turn.
func (r *Registry) Resolve(names []string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(names))
	for _, name := range names {
		d, ok := r.byName[name]
		if !ok {
			r.logger.Warn("skipping unknown tool", "tool", name)
			continue
		}
		if !d.Enabled {
			r.logger.Warn("skipping disabled tool", "tool", name)
			continue
		}
		out = append(out, d)
	}
	return out
}

// Invoke validates args against the tool's schema and runs its handler.
// Any failure (unknown tool, disabled tool, schema violation, handler
// error, handler panic) comes back as an error; the caller decides how to
// surface it. Invoke never panics.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result any, err error) {
	r.mu.RLock()
	d, ok := r.byName[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if !d.Enabled {
		return nil, fmt.Errorf("%w: %q", ErrToolDisabled, name)
	}

	if args == nil {
		args = map[string]any{}
	}
	if verr := d.resolved.Validate(args); verr != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidInput, name, verr)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", rec)
			result = nil
			err = fmt.Errorf("tool %q panicked: %v", name, rec)
		}
	}()

	result, err = d.Handler(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	return result, nil
}
