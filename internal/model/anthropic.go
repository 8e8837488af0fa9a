// ABOUTME: Client implementation backed by the Anthropic Messages API.
// ABOUTME: Encodes turns and tool schemas into SDK params and classifies transport failures.

package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// DefaultMaxTokens is used when no token limit is configured.
const DefaultMaxTokens = 2048

// MessagesClient is the subset of the SDK used here. It is satisfied by
// *sdk.MessageService so tests can substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	// RequestsPerMinute throttles calls client-side when positive.
	RequestsPerMinute float64
	// Timeout bounds a single HTTP exchange with the service.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Anthropic implements Client.
type Anthropic struct {
	msgs      MessagesClient
	model     string
	maxTokens int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewAnthropic builds a client from an API key. Without a key the client is
// created but not Ready, and every Call fails with an auth transport error.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	var msgs MessagesClient
	if cfg.APIKey != "" {
		opts := []option.RequestOption{
			option.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(0),
		}
		if cfg.Timeout > 0 {
			opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
		}
		ac := sdk.NewClient(opts...)
		msgs = &ac.Messages
	}
	return NewAnthropicWithMessages(msgs, cfg)
}

// NewAnthropicWithMessages builds a client around an existing MessagesClient.
func NewAnthropicWithMessages(msgs MessagesClient, cfg AnthropicConfig) *Anthropic {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	modelID := cfg.Model
	if modelID == "" {
		modelID = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	c := &Anthropic{
		msgs:      msgs,
		model:     modelID,
		maxTokens: maxTokens,
		logger:    logger.With("component", "model"),
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), 1)
	}
	return c
}

// Ready reports whether credentials were supplied.
func (c *Anthropic) Ready() bool { return c.msgs != nil }

// Model returns the configured model identifier.
func (c *Anthropic) Model() string { return c.model }

// Call sends one Messages.New request. Errors are *TransportError.
func (c *Anthropic) Call(ctx context.Context, req *Request) (*Response, error) {
	if c.msgs == nil {
		return nil, &TransportError{Kind: TransportAuth, Err: ErrNotConfigured}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Kind: TransportRateLimit, Err: fmt.Errorf("client-side rate limiter: %w", err)}
		}
	}

	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("→ calling model",
		"model", c.model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)
	start := time.Now()
	msg, err := c.msgs.New(ctx, *params)
	if err != nil {
		te := classify(err)
		c.logger.Warn("model call failed", "kind", te.Kind, "status", te.StatusCode, "error", err)
		return nil, te
	}

	resp, err := translateResponse(msg)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("← model responded",
		"stop_reason", resp.StopReason,
		"parts", len(resp.Parts),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", time.Since(start),
	)
	return resp, nil
}

func (c *Anthropic) buildParams(req *Request) (*sdk.MessageNewParams, error) {
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(c.model),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return &params, nil
}

func encodeMessages(turns []Turn) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(t.Parts))
		for _, p := range t.Parts {
			switch v := p.(type) {
			case TextPart:
				if v.Text == "" {
					continue
				}
				blocks = append(blocks, sdk.NewTextBlock(v.Text))
			case ToolCallPart:
				var input any = map[string]any{}
				if len(v.Arguments) > 0 {
					input = v.Arguments
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, v.Name))
			case ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ID, v.Content, v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch t.Role {
		case RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("encoding messages: invalid role %q", t.Role)
		}
	}
	return out, nil
}

func encodeTools(schemas []ToolSchema) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		var m map[string]any
		if len(s.InputSchema) > 0 {
			if err := json.Unmarshal(s.InputSchema, &m); err != nil {
				return nil, fmt.Errorf("tool %q schema: %w", s.Name, err)
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: m}, s.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(s.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateResponse(msg *sdk.Message) (*Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &Response{
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Parts = append(resp.Parts, TextPart{Text: block.Text})
		case "tool_use":
			args := json.RawMessage(block.Input)
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			resp.Parts = append(resp.Parts, ToolCallPart{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	return resp, nil
}

// classify maps an SDK or network error to a TransportError.
func classify(err error) *TransportError {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		te := &TransportError{StatusCode: apiErr.StatusCode, Err: err}
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			te.Kind = TransportRateLimit
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			te.Kind = TransportAuth
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode >= 500:
			te.Kind = TransportConnection
		default:
			te.Kind = TransportAPI
		}
		return te
	}

	// Network failures, timeouts and cancellations all surface as connection.
	return &TransportError{Kind: TransportConnection, Err: err}
}
