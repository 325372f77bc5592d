// Package chat implements the agent turn graph: the state machine that
// drives one user message through model calls and tool executions until a
// final assistant response lands.
//
// States:
//
//	AwaitModel -> Decide -> ExecTools -> AwaitModel -> ... -> Done
//
// Graphs compiled without tools skip Decide/ExecTools structurally; the
// model is never offered tools and its first response ends the turn.
// State lands in the session store as the turn progresses, one append per
// transition, so an interrupted turn keeps exactly the prefix that
// happened.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/windlane/chatgraph/internal/agent"
	"github.com/windlane/chatgraph/internal/log"
	"github.com/windlane/chatgraph/internal/model"
	"github.com/windlane/chatgraph/internal/session"
	"github.com/windlane/chatgraph/internal/tools"
)

var (
	// ErrMaxTurns indicates the turn exceeded its model call budget.
	ErrMaxTurns = errors.New("turn exceeded max model calls")

	// ErrModel indicates the model failed to produce a response.
	ErrModel = errors.New("model failure")

	// ErrPersistence indicates the session store failed mid-turn.
	ErrPersistence = errors.New("persistence failure")

	// ErrStreamClosed indicates the event consumer went away.
	ErrStreamClosed = errors.New("event stream closed")
)

// DefaultMaxTurns bounds model calls per turn when the config leaves it
// unset.
const DefaultMaxTurns = 8

// State identifies a turn graph node.
type State int

const (
	StateAwaitModel State = iota
	StateDecide
	StateExecTools
	StateDone
)

// String implements Stringer for logging.
func (s State) String() string {
	switch s {
	case StateAwaitModel:
		return "await_model"
	case StateDecide:
		return "decide"
	case StateExecTools:
		return "exec_tools"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EmitFunc receives wire events in emission order. Returning an error
// stops further emission; the turn treats it as a closed stream.
type EmitFunc func(ctx context.Context, ev *Event) error

// Config selects what a compiled graph talks to.
type Config struct {
	// Model is the model id; empty selects the registry default.
	Model string

	// Tools are requested tool names. Unknown and disabled names are
	// skipped at compile time.
	Tools []string

	// MaxTurns caps model calls per run; zero means DefaultMaxTurns.
	MaxTurns int
}

// Key returns the cache key for this configuration: the model id and the
// sorted tool names. Two requests with the same key share a compiled
// graph. Fields are joined with NUL so a model id ending in a tool name
// cannot alias a different configuration.
func (c Config) Key() string {
	modelID := c.Model
	if modelID == "" {
		modelID = "default"
	}
	names := make([]string, len(c.Tools))
	copy(names, c.Tools)
	sort.Strings(names)
	return strings.Join(append([]string{modelID}, names...), "\x00")
}

// Builder compiles graphs against shared infrastructure.
type Builder struct {
	models   *model.Registry
	registry *tools.Registry
	store    session.Store
	logger   log.Logger
}

// NewBuilder creates a graph builder.
func NewBuilder(models *model.Registry, registry *tools.Registry, store session.Store, logger log.Logger) (*Builder, error) {
	if models == nil {
		return nil, fmt.Errorf("model registry is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Builder{
		models:   models,
		registry: registry,
		store:    store,
		logger:   logger.With("component", "chat"),
	}, nil
}

// ModelIDs returns the model identifiers the builder can compile against.
func (b *Builder) ModelIDs() []string {
	return b.models.IDs()
}

// ToolNames returns every registered tool name, disabled ones included.
func (b *Builder) ToolNames() []string {
	return b.registry.Names()
}

// Compile resolves the configuration into a runnable graph. Tool
// resolution happens here, once: a graph compiled without any usable tool
// has no decide/exec states at all.
func (b *Builder) Compile(ctx context.Context, cfg Config) (*Graph, error) {
	m, err := b.models.Get(ctx, cfg.Model)
	if err != nil {
		return nil, err
	}

	descs := b.registry.Resolve(cfg.Tools)
	defs := make([]model.ToolDef, 0, len(descs))
	for _, d := range descs {
		defs = append(defs, model.ToolDef{
			Name:        d.Name,
			Description: d.Description,
			Schema:      d.Schema,
		})
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	return &Graph{
		model:    m,
		toolDefs: defs,
		registry: b.registry,
		store:    b.store,
		maxTurns: maxTurns,
		logger:   b.logger.With("model", m.Name()),
	}, nil
}

// Graph is a compiled turn graph. One Graph serves many concurrent Run
// calls; all per-turn state lives on the Run stack.
type Graph struct {
	model    model.Model
	toolDefs []model.ToolDef
	registry *tools.Registry
	store    session.Store
	maxTurns int
	logger   log.Logger
}

// HasTools reports whether the graph offers tools to the model.
func (g *Graph) HasTools() bool {
	return len(g.toolDefs) > 0
}

// Result is the outcome of a completed turn.
type Result struct {
	Final   *agent.Message
	History []*agent.Message
}

// Run drives one user message through the graph, emitting wire events
// through emit. The session must already exist. On success the final
// event emitted is "end"; on failure Run returns an error classified by
// the package sentinels and emits nothing further, leaving the terminal
// error event to the caller (which knows how much of the stream the
// client saw).
func (g *Graph) Run(ctx context.Context, threadID string, userMsg *agent.Message, emit EmitFunc) (*Result, error) {
	if emit == nil {
		emit = func(context.Context, *Event) error { return nil }
	}

	history, err := g.store.History(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading history: %w", ErrPersistence, err)
	}

	if err := g.store.AppendMessages(ctx, threadID, []*agent.Message{userMsg}); err != nil {
		return nil, fmt.Errorf("%w: appending user message: %w", ErrPersistence, err)
	}

	messages := append(history, userMsg)

	var (
		final      *agent.Message
		modelCalls int
		state      = StateAwaitModel
	)

	for state != StateDone {
		g.logger.Debug("turn transition", "thread_id", threadID, "state", state.String(), "model_calls", modelCalls)

		switch state {
		case StateAwaitModel:
			if modelCalls >= g.maxTurns {
				return nil, fmt.Errorf("%w: %d calls", ErrMaxTurns, modelCalls)
			}
			modelCalls++

			req := &model.Request{Messages: messages, Tools: g.toolDefs}
			msg, err := g.model.Generate(ctx, req, func(ctx context.Context, chunk *model.Chunk) error {
				if chunk.Text == "" {
					return nil
				}
				if err := emit(ctx, &Event{Type: EventChunk, Content: chunk.Text}); err != nil {
					return fmt.Errorf("%w: %w", ErrStreamClosed, err)
				}
				return nil
			})
			if err != nil {
				if errors.Is(err, ErrStreamClosed) {
					return nil, err
				}
				return nil, fmt.Errorf("%w: %w", ErrModel, err)
			}

			if err := g.store.AppendMessages(ctx, threadID, []*agent.Message{msg}); err != nil {
				return nil, fmt.Errorf("%w: appending assistant message: %w", ErrPersistence, err)
			}
			messages = append(messages, msg)
			final = msg

			// A graph without tools ignores hallucinated calls entirely;
			// its stream carries no tool events.
			if calls := msg.ToolRequests(); len(calls) > 0 && g.HasTools() {
				if err := emit(ctx, &Event{Type: EventToolCalls, ToolCalls: calls}); err != nil {
					return nil, fmt.Errorf("%w: %w", ErrStreamClosed, err)
				}
			}

			if g.HasTools() {
				state = StateDecide
			} else {
				state = StateDone
			}

		case StateDecide:
			if len(final.ToolRequests()) > 0 {
				state = StateExecTools
			} else {
				state = StateDone
			}

		case StateExecTools:
			results, err := g.execTools(ctx, threadID, final.ToolRequests(), emit)
			if err != nil {
				return nil, err
			}
			messages = append(messages, results...)
			state = StateAwaitModel
		}
	}

	endEvent := &Event{
		Type:     EventEnd,
		Status:   "success",
		ThreadID: threadID,
		Message:  final,
		Messages: messages,
	}
	if err := emit(ctx, endEvent); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}

	return &Result{Final: final, History: messages}, nil
}

// execTools runs the step's tool calls concurrently, waits for all of
// them, then emits and persists the results in request order. A handler
// failure becomes a tool_error event and an error-shaped tool message;
// it never fails the turn.
func (g *Graph) execTools(ctx context.Context, threadID string, calls []*agent.ToolRequest, emit EmitFunc) ([]*agent.Message, error) {
	type outcome struct {
		output any
		err    error
	}

	outcomes := make([]outcome, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call *agent.ToolRequest) {
			defer wg.Done()
			out, err := g.registry.Invoke(ctx, call.Name, call.Input)
			outcomes[i] = outcome{output: out, err: err}
		}(i, call)
	}
	wg.Wait()

	results := make([]*agent.Message, 0, len(calls))
	for i, call := range calls {
		out := outcomes[i]

		var resp *agent.ToolResponse
		if out.err != nil {
			g.logger.Warn("tool invocation failed",
				"thread_id", threadID, "tool", call.Name, "error", out.err)
			if err := emit(ctx, &Event{
				Type:  EventToolError,
				Name:  call.Name,
				Error: out.err.Error(),
			}); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrStreamClosed, err)
			}
			// The model sees the failure as tool output and can react.
			resp = &agent.ToolResponse{
				Ref:    call.Ref,
				Name:   call.Name,
				Output: map[string]any{"error": out.err.Error()},
			}
		} else {
			if err := emit(ctx, &Event{
				Type: EventToolResult,
				Name: call.Name,
				Data: out.output,
			}); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrStreamClosed, err)
			}
			resp = &agent.ToolResponse{
				Ref:    call.Ref,
				Name:   call.Name,
				Output: out.output,
			}
		}
		results = append(results, agent.NewToolMessage(resp))
	}

	if err := g.store.AppendMessages(ctx, threadID, results); err != nil {
		return nil, fmt.Errorf("%w: appending tool results: %w", ErrPersistence, err)
	}
	return results, nil
}
