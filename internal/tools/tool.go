// Package tools implements the named tool registry offered to the model.
//
// Tools are registered as descriptors: a name, a human-readable
// description, a JSON schema for the input, and a handler. The registry
// validates arguments against the schema before every invocation, and
// converts handler failures (including panics) into ordinary errors so a
// misbehaving tool can never take the conversation down.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

var (
	// ErrInvalidDescriptor indicates a descriptor missing required fields.
	ErrInvalidDescriptor = errors.New("invalid tool descriptor")

	// ErrUnknownTool indicates the requested tool is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolDisabled indicates the tool is registered but disabled.
	ErrToolDisabled = errors.New("tool is disabled")

	// ErrInvalidInput indicates the arguments failed schema validation.
	ErrInvalidInput = errors.New("invalid tool input")
)

// Handler executes one tool invocation. Input has already passed schema
// validation when the handler runs.
type Handler func(ctx context.Context, input map[string]any) (any, error)

// Descriptor describes one registered tool.
type Descriptor struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler

	// Enabled gates whether the tool may be resolved and invoked.
	// Disabled tools stay registered so they can be re-enabled.
	Enabled bool

	// Options carries tool-specific settings (base URLs, limits). Opaque
	// to the registry.
	Options map[string]any

	// resolved caches the compiled schema for validation.
	resolved *jsonschema.Resolved
}

// validate checks the descriptor invariants before registration.
func (d *Descriptor) validate() error {
	if d == nil {
		return fmt.Errorf("%w: descriptor is nil", ErrInvalidDescriptor)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	if d.Description == "" {
		return fmt.Errorf("%w: %q has no description", ErrInvalidDescriptor, d.Name)
	}
	if d.Schema == nil {
		return fmt.Errorf("%w: %q has no input schema", ErrInvalidDescriptor, d.Name)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: %q has no handler", ErrInvalidDescriptor, d.Name)
	}
	return nil
}

// compile resolves the schema once so invocations validate cheaply.
func (d *Descriptor) compile() error {
	resolved, err := d.Schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("%w: %q schema does not resolve: %v", ErrInvalidDescriptor, d.Name, err)
	}
	d.resolved = resolved
	return nil
}
