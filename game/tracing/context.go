// Package tracing captures per-turn phase timings with minimal overhead.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TraceStatus represents the status of a trace.
type TraceStatus int

const (
	StatusOK TraceStatus = iota
	StatusError
	StatusCanceled
)

// TurnTrace holds tracing information for a single turn.
type TurnTrace struct {
	// TraceID uniquely identifies this trace. Supplied by the caller or
	// generated at turn start.
	TraceID string

	// TurnID identifies the turn once the orchestrator assigns it.
	TurnID string

	// CharacterID identifies the character the turn belongs to.
	CharacterID string

	// StartTime marks when the turn started.
	StartTime time.Time

	// EndTime marks when the turn completed.
	EndTime time.Time

	// Phases contains all traced phases in execution order.
	Phases []*Phase

	// LLM captures the turn's model call, if one was made.
	LLM *LLMCall

	// Status indicates the trace status.
	Status TraceStatus

	mu sync.RWMutex
}

// Phase represents a distinct phase in turn processing.
type Phase struct {
	// Name identifies the phase.
	Name string

	// StartTime when the phase started.
	StartTime time.Time

	// EndTime when the phase completed.
	EndTime time.Time

	// Duration of the phase.
	Duration time.Duration

	// Status of the phase.
	Status TraceStatus

	// Error message if status is error.
	Error string
}

// LLMCall captures the turn's model invocation.
type LLMCall struct {
	Model            string
	Provider         string
	Duration         time.Duration
	TimeToFirstToken time.Duration
	Stream           bool
	Status           TraceStatus
	Error            string
}

// NewTurnTrace starts a trace for one turn. An empty traceID gets a fresh
// UUID so every remote call and log line can correlate.
func NewTurnTrace(traceID, characterID string) *TurnTrace {
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return &TurnTrace{
		TraceID:     traceID,
		CharacterID: characterID,
		StartTime:   time.Now(),
		Phases:      make([]*Phase, 0, 12),
		Status:      StatusOK,
	}
}

// RecordPhase runs fn and appends a phase record with its duration and
// outcome. The error is passed through unchanged.
func (t *TurnTrace) RecordPhase(name string, fn func() error) error {
	if t == nil {
		return fn()
	}

	phase := &Phase{
		Name:      name,
		StartTime: time.Now(),
	}

	err := fn()

	phase.EndTime = time.Now()
	phase.Duration = phase.EndTime.Sub(phase.StartTime)

	if err != nil {
		phase.Status = StatusError
		phase.Error = err.Error()
	} else {
		phase.Status = StatusOK
	}

	t.mu.Lock()
	t.Phases = append(t.Phases, phase)
	t.mu.Unlock()

	return err
}

// RecordLLMCall records the model invocation for this turn.
func (t *TurnTrace) RecordLLMCall(model, provider string, duration, firstToken time.Duration, stream bool, err error) {
	if t == nil {
		return
	}

	call := &LLMCall{
		Model:            model,
		Provider:         provider,
		Duration:         duration,
		TimeToFirstToken: firstToken,
		Stream:           stream,
		Status:           StatusOK,
	}
	if err != nil {
		call.Status = StatusError
		call.Error = err.Error()
	}

	t.mu.Lock()
	t.LLM = call
	t.mu.Unlock()
}

// SetTurnID attaches the orchestrator-assigned turn identifier.
func (t *TurnTrace) SetTurnID(turnID string) {
	t.mu.Lock()
	t.TurnID = turnID
	t.mu.Unlock()
}

// Finish completes the trace.
func (t *TurnTrace) Finish() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.EndTime = time.Now()
	t.mu.Unlock()
}

// FinishWithError completes the trace with an error status.
func (t *TurnTrace) FinishWithError() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.EndTime = time.Now()
	t.Status = StatusError
	t.mu.Unlock()
}

// Duration returns the total duration of the trace.
func (t *TurnTrace) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.EndTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}

// PhaseCount returns the number of phases recorded so far.
func (t *TurnTrace) PhaseCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.Phases)
}

// PhaseLatencies returns a name → duration map of all recorded phases,
// suitable for the turn audit record.
func (t *TurnTrace) PhaseLatencies() map[string]time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]time.Duration, len(t.Phases))
	for _, p := range t.Phases {
		out[p.Name] = p.Duration
	}
	return out
}

// Context key type for storing the trace in context.
type contextKey struct{}

// WithContext stores the trace in the context.
func WithContext(ctx context.Context, trace *TurnTrace) context.Context {
	return context.WithValue(ctx, contextKey{}, trace)
}

// FromContext retrieves the trace from the context.
func FromContext(ctx context.Context) *TurnTrace {
	if ctx == nil {
		return nil
	}
	trace, ok := ctx.Value(contextKey{}).(*TurnTrace)
	if !ok {
		return nil
	}
	return trace
}
