// Package model adapts language model providers behind a uniform
// capability interface.
//
// The turn graph talks to a Model: it sends the full conversation plus the
// tool definitions for the request and receives the next assistant message,
// with text fragments streamed through a callback as they arrive. Provider
// specifics (wire format, retries, rate limits) stay inside this package.
package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/windlane/chatgraph/internal/agent"
)

var (
	// ErrUnknownModel indicates the requested model id has no registered
	// constructor.
	ErrUnknownModel = errors.New("unknown model")

	// ErrGenerate indicates the provider failed to produce a response.
	ErrGenerate = errors.New("model generation failed")
)

// ToolDef describes one tool offered to the model for a request.
type ToolDef struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// Request carries the conversation and the tools for one model call.
type Request struct {
	Messages []*agent.Message
	Tools    []ToolDef
}

// Chunk is one streamed fragment of assistant text.
type Chunk struct {
	Text string
}

// StreamCallback receives text chunks as the provider produces them.
// Returning an error stops the stream.
type StreamCallback func(ctx context.Context, chunk *Chunk) error

// Model is the capability interface implemented by providers.
type Model interface {
	// Name returns the model identifier.
	Name() string

	// Generate produces the next assistant message for the request. When
	// cb is non-nil, text fragments are delivered through it before the
	// complete message is returned. The returned message may carry tool
	// request parts alongside or instead of text.
	Generate(ctx context.Context, req *Request, cb StreamCallback) (*agent.Message, error)
}

// Factory constructs a model instance.
type Factory func(ctx context.Context) (Model, error)

// Registry maps model identifiers to factories. Constructed models are
// memoized so repeated requests for the same id share one client.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	models    map[string]Model
	defaultID string
}

// NewRegistry creates a registry. defaultID resolves requests that do not
// name a model.
func NewRegistry(defaultID string) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		models:    make(map[string]Model),
		defaultID: defaultID,
	}
}

// Register adds a factory under the given id. Registering an id twice
// replaces the factory and drops any memoized instance.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
	delete(r.models, id)
}

// Get returns the model for id, constructing it on first use. An empty id
// selects the registry default.
func (r *Registry) Get(ctx context.Context, id string) (Model, error) {
	if id == "" {
		id = r.defaultID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[id]; ok {
		return m, nil
	}

	f, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}

	m, err := f(ctx)
	if err != nil {
		return nil, fmt.Errorf("constructing model %q: %w", id, err)
	}
	r.models[id] = m
	return m, nil
}

// IDs returns the registered model identifiers, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
