// ABOUTME: Engine runs the agentic loop: model call, tool batch, feed results back, repeat.
// ABOUTME: Session history is only written once a query has produced its final answer.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cappelaere/wai/internal/dispatch"
	"github.com/cappelaere/wai/internal/metrics"
	"github.com/cappelaere/wai/internal/model"
	"github.com/cappelaere/wai/internal/session"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxIterations = 10
	DefaultHistoryWindow = 10
	DefaultMaxTokens     = 4096
)

// ErrIterationBoundExceeded is wrapped by IterationBoundError.
var ErrIterationBoundExceeded = errors.New("iteration bound exceeded")

// IterationBoundError reports a query whose model kept requesting tools
// after the last permitted batch.
type IterationBoundError struct {
	MaxIterations int
	PendingCalls  int
}

func (e *IterationBoundError) Error() string {
	return fmt.Sprintf("%s: model still requested %d tool call(s) after %d iterations",
		ErrIterationBoundExceeded, e.PendingCalls, e.MaxIterations)
}

func (e *IterationBoundError) Unwrap() error { return ErrIterationBoundExceeded }

// Dispatcher advertises and invokes capabilities. *dispatch.Manager
// satisfies it.
type Dispatcher interface {
	DescribeCapabilities() []model.ToolSchema
	DispatchBatch(ctx context.Context, calls []dispatch.Call) []dispatch.Envelope
}

// Sessions is the part of session.Store the engine needs.
type Sessions interface {
	Load(ctx context.Context, id string) (*session.Session, error)
	AppendTurns(ctx context.Context, id string, turns ...model.Turn) error
}

// Config configures an Engine.
type Config struct {
	Sessions   Sessions
	Dispatcher Dispatcher
	Model      model.Client

	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
	Broadcaster *Broadcaster

	// Locker serializes queries on a session across processes. Optional.
	Locker  Locker
	LockTTL time.Duration

	MaxIterations int
	HistoryWindow int
	MaxTokens     int
}

// ToolCall records one capability invocation made while answering a query.
type ToolCall struct {
	Iteration int    `json:"iteration"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// Result is a completed query.
type Result struct {
	SessionID  string     `json:"session_id"`
	Answer     string     `json:"answer"`
	Iterations int        `json:"iterations"`
	ToolCalls  []ToolCall `json:"tool_calls"`
}

// Engine answers natural-language queries against a session.
type Engine struct {
	sessions    Sessions
	dispatcher  Dispatcher
	model       model.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	broadcaster *Broadcaster
	locker      Locker
	lockTTL     time.Duration
	locks       *keyedMutex

	maxIterations int
	historyWindow int
	maxTokens     int
}

// New creates an Engine. Sessions, Dispatcher and Model are required.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Sessions == nil:
		return nil, errors.New("conversation: session store is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("conversation: dispatcher is required")
	case cfg.Model == nil:
		return nil, errors.New("conversation: model client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/cappelaere/wai/internal/conversation")
	}
	e := &Engine{
		sessions:      cfg.Sessions,
		dispatcher:    cfg.Dispatcher,
		model:         cfg.Model,
		logger:        logger.With("component", "conversation"),
		metrics:       cfg.Metrics,
		tracer:        tracer,
		broadcaster:   cfg.Broadcaster,
		locker:        cfg.Locker,
		lockTTL:       cfg.LockTTL,
		locks:         newKeyedMutex(),
		maxIterations: cfg.MaxIterations,
		historyWindow: cfg.HistoryWindow,
		maxTokens:     cfg.MaxTokens,
	}
	if e.maxIterations <= 0 {
		e.maxIterations = DefaultMaxIterations
	}
	if e.historyWindow <= 0 {
		e.historyWindow = DefaultHistoryWindow
	}
	if e.maxTokens <= 0 {
		e.maxTokens = DefaultMaxTokens
	}
	if e.lockTTL <= 0 {
		e.lockTTL = DefaultLockTTL
	}
	return e, nil
}

// MaxIterations returns the tool-batch bound per query.
func (e *Engine) MaxIterations() int { return e.maxIterations }

// ProcessQuery answers query in the context of sessionID.
//
// Session load failures and model transport failures are returned as is. A
// model that keeps requesting tools past the bound yields *IterationBoundError.
// In every failure case the session history is left untouched.
func (e *Engine) ProcessQuery(ctx context.Context, query, sessionID string) (*Result, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "conversation.query",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	e.logger.Info("→ processing query", "session_id", sessionID, "query_length", len(query))

	unlock, err := e.lock(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.metrics.ObserveQuery(Outcome(err), 0)
		return nil, err
	}
	defer unlock()

	e.publish(Event{Type: EventQueryStarted, SessionID: sessionID, Text: query})
	res, err := e.run(ctx, query, sessionID)

	outcome := Outcome(err)
	e.metrics.ObserveQuery(outcome, res.Iterations)
	span.SetAttributes(
		attribute.Int("conversation.iterations", res.Iterations),
		attribute.String("conversation.outcome", outcome),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.publish(Event{Type: EventError, SessionID: sessionID, Iteration: res.Iterations, Text: err.Error()})
		e.logger.Error("query failed",
			"session_id", sessionID,
			"outcome", outcome,
			"iterations", res.Iterations,
			"error", err,
			"duration", time.Since(start),
		)
		return nil, err
	}

	e.publish(Event{Type: EventAnswer, SessionID: sessionID, Iteration: res.Iterations, Text: res.Answer})
	e.logger.Info("← query answered",
		"session_id", sessionID,
		"iterations", res.Iterations,
		"tool_calls", len(res.ToolCalls),
		"duration", time.Since(start),
	)
	return res, nil
}

func (e *Engine) run(ctx context.Context, query, sessionID string) (*Result, error) {
	res := &Result{SessionID: sessionID, ToolCalls: []ToolCall{}}

	sess, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return res, err
	}

	tools := e.dispatcher.DescribeCapabilities()
	req := &model.Request{
		System:    Preamble(sess.CurrentApplication(), tools),
		Tools:     tools,
		MaxTokens: e.maxTokens,
	}
	history := sess.Recent(e.historyWindow)
	req.Messages = make([]model.Turn, 0, len(history)+1)
	req.Messages = append(req.Messages, history...)
	req.Messages = append(req.Messages, model.UserText(query))

	var answer string
	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Iterations = iteration

		resp, err := e.callModel(ctx, sessionID, iteration, req)
		if err != nil {
			return res, err
		}

		requested := resp.ToolCalls()
		if len(requested) == 0 {
			answer = resp.Text()
			break
		}
		if iteration > e.maxIterations {
			return res, &IterationBoundError{MaxIterations: e.maxIterations, PendingCalls: len(requested)}
		}

		results := e.runTools(ctx, sessionID, iteration, requested, res)
		req.Messages = append(req.Messages,
			model.Turn{Role: model.RoleAssistant, Parts: resp.Parts},
			model.Turn{Role: model.RoleUser, Parts: results},
		)
	}

	if err := e.sessions.AppendTurns(ctx, sessionID, model.UserText(query), model.AssistantText(answer)); err != nil {
		return res, fmt.Errorf("saving conversation turns: %w", err)
	}
	res.Answer = answer
	return res, nil
}

func (e *Engine) callModel(ctx context.Context, sessionID string, iteration int, req *model.Request) (*model.Response, error) {
	ctx, span := e.tracer.Start(ctx, "conversation.model_call",
		trace.WithAttributes(attribute.Int("conversation.iteration", iteration)),
	)
	defer span.End()

	e.publish(Event{Type: EventModelCall, SessionID: sessionID, Iteration: iteration})
	e.logger.Debug("calling model", "session_id", sessionID, "iteration", iteration, "messages", len(req.Messages))

	start := time.Now()
	resp, err := e.model.Call(ctx, req)
	if err != nil {
		outcome := "error"
		if te, ok := model.AsTransportError(err); ok {
			outcome = string(te.Kind)
		}
		e.metrics.ObserveModelCall(outcome, time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	e.metrics.ObserveModelCall("ok", time.Since(start))
	span.SetAttributes(
		attribute.String("model.stop_reason", resp.StopReason),
		attribute.Int64("model.input_tokens", resp.Usage.InputTokens),
		attribute.Int64("model.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

// runTools dispatches every requested call and returns the tool-result parts
// in request order.
func (e *Engine) runTools(ctx context.Context, sessionID string, iteration int, requested []model.ToolCallPart, res *Result) []model.Part {
	calls := make([]dispatch.Call, len(requested))
	for i, tc := range requested {
		calls[i] = dispatch.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		e.publish(Event{Type: EventToolCall, SessionID: sessionID, Iteration: iteration, Tool: tc.Name, CallID: tc.ID})
	}
	e.logger.Info("executing tool batch", "session_id", sessionID, "iteration", iteration, "count", len(calls))

	envelopes := e.dispatcher.DispatchBatch(ctx, calls)

	parts := make([]model.Part, len(requested))
	for i, tc := range requested {
		env := envelopes[i]
		parts[i] = model.ToolResultPart{ID: tc.ID, Content: env.ModelContent(), IsError: env.IsError()}
		call := ToolCall{Iteration: iteration, ID: tc.ID, Name: tc.Name, Success: env.Success}
		if !env.Success {
			call.ErrorKind = string(env.Kind)
		}
		res.ToolCalls = append(res.ToolCalls, call)
		e.publish(Event{Type: EventToolResult, SessionID: sessionID, Iteration: iteration, Tool: tc.Name, CallID: tc.ID, IsError: env.IsError()})
	}
	return parts
}

// lock serializes queries on sessionID within this process and, when a
// Locker is configured, across processes.
func (e *Engine) lock(ctx context.Context, sessionID string) (func(), error) {
	unlockLocal, err := e.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("waiting for session %s: %w", sessionID, err)
	}
	if e.locker == nil {
		return unlockLocal, nil
	}

	unlockRemote, err := e.locker.Lock(ctx, "session:"+sessionID, e.lockTTL)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("locking session %s: %w", sessionID, err)
	}
	return func() {
		// Release with a fresh context so a cancelled request still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockRemote(releaseCtx); err != nil {
			e.logger.Warn("releasing session lock", "session_id", sessionID, "error", err)
		}
		unlockLocal()
	}, nil
}

func (e *Engine) publish(ev Event) {
	e.broadcaster.Publish(ev)
}

// Outcome classifies a ProcessQuery error for metrics and logs.
func Outcome(err error) string {
	var te *model.TransportError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, session.ErrNotFound):
		return "session_not_found"
	case errors.Is(err, session.ErrExpired):
		return "session_expired"
	case errors.As(err, &te):
		return "model_" + string(te.Kind)
	case errors.Is(err, ErrIterationBoundExceeded):
		return "iteration_bound"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
