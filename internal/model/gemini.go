package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/windlane/chatgraph/internal/agent"
	"github.com/windlane/chatgraph/internal/log"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey      string
	Model       string // e.g. "gemini-2.5-flash"
	Temperature float32
	MaxTokens   int
	Retry       RetryConfig
	// Limiter throttles calls to the provider. Shared across all graphs
	// using this model. Nil disables throttling.
	Limiter *rate.Limiter
	Logger  log.Logger
}

// Gemini drives Google's Gemini API through the genai SDK.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	retry       RetryConfig
	limiter     *rate.Limiter
	logger      log.Logger
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini: model name is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Gemini{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
		retry:       cfg.Retry,
		limiter:     cfg.Limiter,
		logger:      cfg.Logger.With("component", "model", "model", cfg.Model),
	}, nil
}

// Name returns the model identifier.
func (g *Gemini) Name() string {
	return g.model
}

// Generate implements Model. Text fragments stream through cb as the
// provider produces them; function calls are collected into tool request
// parts on the returned message.
func (g *Gemini) Generate(ctx context.Context, req *Request, cb StreamCallback) (*agent.Message, error) {
	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerate, err)
	}

	config := &genai.GenerateContentConfig{}
	if g.temperature > 0 {
		config.Temperature = genai.Ptr(g.temperature)
	}
	if g.maxTokens > 0 {
		config.MaxOutputTokens = g.maxTokens
	}
	if len(req.Tools) > 0 {
		decls, err := toFunctionDeclarations(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGenerate, err)
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	msg, err := generateWithRetry(ctx, g.logger, g.limiter, g.retry,
		func(ctx context.Context) (*agent.Message, bool, error) {
			return g.streamOnce(ctx, contents, config, cb)
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerate, err)
	}
	return msg, nil
}

// streamOnce runs one streaming generation attempt. The returned bool
// reports whether any chunk reached cb; retry logic must not replay an
// attempt that already emitted.
func (g *Gemini) streamOnce(
	ctx context.Context,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	cb StreamCallback,
) (*agent.Message, bool, error) {
	var (
		text    strings.Builder
		calls   []*agent.ToolRequest
		emitted bool
	)

	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
		if err != nil {
			return nil, emitted, fmt.Errorf("gemini stream: %w", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
					if cb != nil {
						if cbErr := cb(ctx, &Chunk{Text: part.Text}); cbErr != nil {
							return nil, true, cbErr
						}
						emitted = true
					}
				}
				if part.FunctionCall != nil {
					calls = append(calls, &agent.ToolRequest{
						Ref:   callRef(part.FunctionCall),
						Name:  part.FunctionCall.Name,
						Input: part.FunctionCall.Args,
					})
				}
			}
		}
	}

	msg := &agent.Message{Role: agent.RoleModel}
	if text.Len() > 0 {
		msg.Content = append(msg.Content, agent.NewTextPart(text.String()))
	}
	for _, call := range calls {
		msg.Content = append(msg.Content, &agent.Part{ToolRequest: call})
	}
	if len(msg.Content) == 0 {
		msg.Content = append(msg.Content, agent.NewTextPart(""))
	}
	return msg, emitted, nil
}

// callRef returns the provider call id, or a fresh one when the provider
// omits it. Call ids correlate tool requests with their responses.
func callRef(fc *genai.FunctionCall) string {
	if fc.ID != "" {
		return fc.ID
	}
	return uuid.NewString()
}

// toContents converts conversation messages to genai contents. Tool
// messages become function-response parts under the user role, which is
// what the Gemini API expects.
func toContents(msgs []*agent.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		c := &genai.Content{}
		switch m.Role {
		case agent.RoleUser, agent.RoleTool:
			c.Role = genai.RoleUser
		case agent.RoleModel:
			c.Role = genai.RoleModel
		default:
			return nil, fmt.Errorf("unsupported role %q", m.Role)
		}

		for _, p := range m.Content {
			switch {
			case p.ToolRequest != nil:
				c.Parts = append(c.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   p.ToolRequest.Ref,
						Name: p.ToolRequest.Name,
						Args: p.ToolRequest.Input,
					},
				})
			case p.ToolResponse != nil:
				c.Parts = append(c.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       p.ToolResponse.Ref,
						Name:     p.ToolResponse.Name,
						Response: toResponseMap(p.ToolResponse.Output),
					},
				})
			case p.Media != nil:
				c.Parts = append(c.Parts, &genai.Part{
					FileData: &genai.FileData{
						FileURI:  p.Media.URL,
						MIMEType: p.Media.ContentType,
					},
				})
			default:
				c.Parts = append(c.Parts, &genai.Part{Text: p.Text})
			}
		}
		contents = append(contents, c)
	}
	return contents, nil
}

// toResponseMap wraps a tool output into the map shape FunctionResponse
// requires.
func toResponseMap(output any) map[string]any {
	if m, ok := output.(map[string]any); ok {
		return m
	}
	return map[string]any{"output": output}
}

// toFunctionDeclarations converts tool definitions to genai function
// declarations.
func toFunctionDeclarations(tools []ToolDef) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		params, err := toGenaiSchema(t.Schema)
		if err != nil {
			return nil, fmt.Errorf("tool %q schema: %w", t.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return decls, nil
}

// toGenaiSchema converts a JSON schema to the genai schema subset. The
// Gemini API understands only the OpenAPI-style core: type, description,
// enum, format, properties, required, items.
func toGenaiSchema(s *jsonschema.Schema) (*genai.Schema, error) {
	if s == nil {
		return nil, nil
	}

	out := &genai.Schema{
		Description: s.Description,
		Format:      s.Format,
	}

	switch s.Type {
	case "object", "":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	default:
		return nil, fmt.Errorf("unsupported schema type %q", s.Type)
	}

	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			conv, err := toGenaiSchema(prop)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			out.Properties[name] = conv
		}
	}
	out.Required = s.Required

	if s.Items != nil {
		items, err := toGenaiSchema(s.Items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		out.Items = items
	}

	for _, v := range s.Enum {
		out.Enum = append(out.Enum, fmt.Sprint(v))
	}

	return out, nil
}
