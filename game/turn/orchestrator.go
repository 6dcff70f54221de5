// Package turn orchestrates a single narrative turn: admission,
// context fetch, policy evaluation, prompt assembly, the model call,
// outcome parsing, and the fixed-order journey-log writes.
//
// Pipeline:
//
//	admit -> fetch_context -> policy -> memory_sparks -> build_prompt
//	      -> llm_call -> parse_normalize -> derive_actions
//	      -> execute_writes -> respond_audit
//
// Failures before the model call abort the turn. Everything after it
// degrades instead: a malformed outcome still narrates, a failed
// subsystem write never blocks the writes behind it.
package turn

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/kestrelgames/taleweaver/game/audit"
	"github.com/kestrelgames/taleweaver/internal/strutil"
	"github.com/kestrelgames/taleweaver/game/llm"
	"github.com/kestrelgames/taleweaver/game/metrics"
	"github.com/kestrelgames/taleweaver/game/observability/logging"
	"github.com/kestrelgames/taleweaver/game/outcome"
	"github.com/kestrelgames/taleweaver/game/policy"
	"github.com/kestrelgames/taleweaver/game/prompt"
	"github.com/kestrelgames/taleweaver/game/ratelimit"
	"github.com/kestrelgames/taleweaver/game/retry"
	"github.com/kestrelgames/taleweaver/game/rng"
	"github.com/kestrelgames/taleweaver/game/tracing"
	"github.com/kestrelgames/taleweaver/journeylog"
)

// ContextStore is the journey-log surface a turn needs. It is
// satisfied by *journeylog.Client; tests substitute a scripted fake.
type ContextStore interface {
	GetContext(ctx context.Context, characterID string, recentN int, includePOIs bool) (*journeylog.Context, error)
	GetRandomPOIs(ctx context.Context, characterID string, n int) ([]journeylog.POI, error)
	PutQuest(ctx context.Context, characterID string, quest *journeylog.Quest) error
	DeleteQuest(ctx context.Context, characterID string) error
	PutCombat(ctx context.Context, characterID string, combat *journeylog.CombatState) error
	PostPOI(ctx context.Context, characterID string, poi *journeylog.POI) error
	PostNarrative(ctx context.Context, characterID, playerAction, response string) error
}

// Config tunes the orchestrator.
type Config struct {
	// HistoryTurns is how many recent turns the context fetch requests.
	HistoryTurns int
	// LLMRetry wraps the model call. Journey-log reads retry inside
	// the client; journey-log writes never retry.
	LLMRetry retry.Config
	// DeadCharacterWriteEnforcement hard-skips quest, combat, and POI
	// writes for dead characters instead of trusting the prompt rules
	// alone. Off by default: the narrative instructions already forbid
	// state changes for the dead, and a stray write is recoverable.
	DeadCharacterWriteEnforcement bool
}

// DefaultConfig returns the orchestrator settings used when the caller
// supplies none.
func DefaultConfig() Config {
	return Config{
		HistoryTurns: 10,
		LLMRetry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    8 * time.Second,
		},
	}
}

// Orchestrator runs turns. All dependencies are injected; the
// orchestrator itself holds no per-turn state and is safe for
// concurrent use.
type Orchestrator struct {
	store    ContextStore
	llm      llm.Service
	policies *policy.Manager
	parser   *outcome.Parser
	random   *rng.Provider
	limiter  *ratelimit.CharacterLimiter
	gate     *ratelimit.LLMGate
	auditor  *audit.Store
	archive  *audit.Archive
	exporter *metrics.PrometheusExporter
	cfg      Config
}

// Option configures optional orchestrator dependencies.
type Option func(*Orchestrator)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		if cfg.HistoryTurns <= 0 {
			cfg.HistoryTurns = DefaultConfig().HistoryTurns
		}
		o.cfg = cfg
	}
}

// WithArchive additionally persists every finished audit record to a
// sqlite archive. Archive failures degrade to a warning.
func WithArchive(a *audit.Archive) Option {
	return func(o *Orchestrator) {
		o.archive = a
	}
}

// WithMetrics publishes turn, phase, model, and write metrics.
func WithMetrics(e *metrics.PrometheusExporter) Option {
	return func(o *Orchestrator) {
		o.exporter = e
	}
}

// New creates an orchestrator. The limiter, gate, and auditor may be
// nil, which disables admission control, call gating, and auditing
// respectively; store, svc, policies, and random must not be.
func New(store ContextStore, svc llm.Service, policies *policy.Manager, random *rng.Provider,
	limiter *ratelimit.CharacterLimiter, gate *ratelimit.LLMGate, auditor *audit.Store, opts ...Option) (*Orchestrator, error) {
	parser, err := outcome.NewParser()
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		store:    store,
		llm:      svc,
		policies: policies,
		parser:   parser,
		random:   random,
		limiter:  limiter,
		gate:     gate,
		auditor:  auditor,
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// turnState is the working set of one turn as it moves through the
// pipeline.
type turnState struct {
	req     Request
	turnID  string
	traceID string
	trace   *tracing.TurnTrace
	log     *logging.Logger

	charCtx   *journeylog.Context
	decisions *policy.Decisions
	raw       string
	usage     *llm.CallStats
	parsed    *outcome.ParsedOutcome
	plan      writePlan
	summary   SubsystemSummary

	// errs collects non-fatal degradations for the audit record.
	errs []string
}

// ProcessTurn runs one turn through the full pipeline.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req Request) (*TurnResult, error) {
	return o.process(ctx, req, nil)
}

// ProcessTurnStream runs one turn, pushing narration tokens to sink as
// the model emits them. A sink failure stops delivery, never the turn:
// the buffered text still parses and the writes still execute.
func (o *Orchestrator) ProcessTurnStream(ctx context.Context, req Request, sink llm.TokenSink) (*TurnResult, error) {
	return o.process(ctx, req, sink)
}

// process is the shared pipeline behind ProcessTurn and
// ProcessTurnStream.
func (o *Orchestrator) process(ctx context.Context, req Request, sink llm.TokenSink) (*TurnResult, error) {
	req.PlayerAction = strings.TrimSpace(req.PlayerAction)
	if req.CharacterID == "" {
		return nil, &Error{Kind: KindInvalidInput, TraceID: req.TraceID, Err: errors.New("character id is required")}
	}
	if req.PlayerAction == "" {
		return nil, &Error{Kind: KindInvalidInput, TraceID: req.TraceID, Err: errors.New("player action is required")}
	}

	st := &turnState{
		req:     req,
		turnID:  shortuuid.New(),
		traceID: req.TraceID,
	}
	if st.traceID == "" {
		st.traceID = uuid.New().String()
	}
	st.trace = tracing.NewTurnTrace(st.traceID, req.CharacterID)
	st.trace.SetTurnID(st.turnID)
	ctx = tracing.WithContext(ctx, st.trace)

	st.log = logging.FromContext(ctx).
		WithTraceID(st.traceID).
		WithTurnID(st.turnID).
		WithCharacterID(req.CharacterID)
	st.log.Info("turn: processing",
		"player_action", strutil.Truncate(req.PlayerAction, 80),
		"dry_run", req.DryRun,
		"streaming", sink != nil)

	if o.exporter != nil {
		o.exporter.TurnStarted()
		defer o.exporter.TurnFinished()
	}

	// 1. Admission. A rejected turn does no work at all.
	if rejected := o.admit(st); rejected != nil {
		return nil, rejected
	}

	// The turn is admitted; leave an in-flight marker so the audit
	// trail shows turns that never finished. respond_audit replaces it.
	o.putAudit(context.WithoutCancel(ctx), &audit.Record{
		TurnID:       st.turnID,
		TraceID:      st.traceID,
		CharacterID:  req.CharacterID,
		PlayerAction: req.PlayerAction,
		DryRun:       req.DryRun,
		CreatedAt:    time.Now(),
	}, st.log)

	// 2. Context fetch. The client retries reads internally; a failure
	// here aborts the turn.
	if err := st.trace.RecordPhase(PhaseFetchContext, func() error {
		var err error
		st.charCtx, err = o.store.GetContext(ctx, req.CharacterID, o.cfg.HistoryTurns, false)
		return err
	}); err != nil {
		return nil, o.fail(ctx, st, contextErrorKind(err), err)
	}

	// 3. Policy rolls, seeded per character when a seed is configured.
	pcfg := o.policies.Current()
	src := o.random.ForCharacter(req.CharacterID)
	_ = st.trace.RecordPhase(PhasePolicy, func() error {
		st.decisions = policy.Evaluate(pcfg, st.charCtx, src)
		return nil
	})

	// 4. Memory sparks. A fetch failure degrades to an empty set.
	if st.decisions.Spark.Fetch {
		_ = st.trace.RecordPhase(PhaseMemorySparks, func() error {
			o.fetchSparks(ctx, st)
			return nil
		})
	}
	// The reference roll runs after the spark fetch so a degraded
	// fetch cannot leave a dangling spark index.
	policy.DecideReference(pcfg, st.decisions, len(st.charCtx.MemorySparks), src)

	// 5. Prompt assembly.
	var userPrompt string
	_ = st.trace.RecordPhase(PhaseBuildPrompt, func() error {
		userPrompt = prompt.Build(st.charCtx, st.decisions, req.PlayerAction)
		return nil
	})

	// 6. Model call, gated by the concurrency semaphore for its whole
	// duration and released before any write happens.
	if err := st.trace.RecordPhase(PhaseLLMCall, func() error {
		if o.gate != nil {
			if err := o.gate.Acquire(ctx); err != nil {
				return err
			}
			defer o.gate.Release()
		}
		return o.generate(ctx, st, userPrompt, sink)
	}); err != nil {
		return nil, o.fail(ctx, st, llmErrorKind(err), err)
	}

	// 7. Parse and normalize. Never fatal: the worst output still
	// yields a usable narrative with no intents.
	_ = st.trace.RecordPhase(PhaseParse, func() error {
		st.parsed = o.parser.Parse(st.raw)
		outcome.Normalize(st.parsed, st.decisions.Quest.Passed, st.decisions.POI.Passed, st.charCtx.Location.DisplayName)
		return nil
	})
	if o.exporter != nil {
		o.exporter.RecordParse(parseLabel(st.parsed))
	}
	if st.parsed.ErrorType != outcome.ErrorNone {
		st.errs = append(st.errs, "outcome parse: "+string(st.parsed.ErrorType))
	}

	// 8. Gate intents into a write plan.
	_ = st.trace.RecordPhase(PhaseDeriveActions, func() error {
		st.plan = deriveActions(st.charCtx, st.decisions, st.parsed, o.cfg.DeadCharacterWriteEnforcement)
		return nil
	})

	// 9. Execute writes. Once they begin, a vanished client must not
	// interrupt them.
	writeCtx := context.WithoutCancel(ctx)
	_ = st.trace.RecordPhase(PhaseExecuteWrites, func() error {
		st.summary = o.executeWrites(writeCtx, st)
		return nil
	})

	// 10. Respond and audit.
	var classification audit.Classification
	_ = st.trace.RecordPhase(PhaseRespond, func() error {
		classification = classify(st.parsed, st.summary)
		return nil
	})
	st.trace.Finish()

	o.putAudit(writeCtx, o.buildRecord(st, classification), st.log)
	if o.exporter != nil {
		o.exporter.RecordTurn(string(classification), st.trace.Duration())
		for name, d := range st.trace.PhaseLatencies() {
			o.exporter.RecordPhase(name, d)
		}
	}

	st.log.Info("turn: completed",
		"classification", string(classification),
		"schema_valid", st.parsed.SchemaValid,
		"dry_run", req.DryRun,
		"duration_ms", st.trace.Duration().Milliseconds())

	return &TurnResult{
		TurnID:         st.turnID,
		TraceID:        st.traceID,
		CharacterID:    req.CharacterID,
		Narrative:      st.parsed.Narrative,
		Intents:        st.parsed.Intents,
		SchemaValid:    st.parsed.SchemaValid,
		Classification: classification,
		Summary:        st.summary,
		Usage:          st.usage,
		DryRun:         req.DryRun,
		DurationMs:     st.trace.Duration().Milliseconds(),
	}, nil
}

// admit applies the per-character token bucket.
func (o *Orchestrator) admit(st *turnState) *RateLimitedError {
	if o.limiter == nil {
		return nil
	}
	var rejected *RateLimitedError
	_ = st.trace.RecordPhase(PhaseAdmit, func() error {
		ok, retryAfter := o.limiter.Allow(st.req.CharacterID)
		if ok {
			return nil
		}
		rejected = &RateLimitedError{CharacterID: st.req.CharacterID, RetryAfterSeconds: retryAfter}
		return rejected
	})
	if rejected == nil {
		return nil
	}
	if o.exporter != nil {
		o.exporter.RecordRateLimitRejection("character")
	}
	st.log.Warn("turn: rejected by rate limit", "retry_after_seconds", rejected.RetryAfterSeconds)
	return rejected
}

// fetchSparks pulls random known POIs into the context, newest first.
func (o *Orchestrator) fetchSparks(ctx context.Context, st *turnState) {
	sparks, err := o.store.GetRandomPOIs(ctx, st.req.CharacterID, st.decisions.Spark.Count)
	if o.exporter != nil {
		o.exporter.RecordSparkFetch(err == nil)
	}
	if err != nil {
		st.errs = append(st.errs, "memory spark fetch: "+err.Error())
		st.log.Warn("turn: memory spark fetch failed, continuing without sparks", "error", err)
		return
	}
	prompt.SortSparksNewestFirst(sparks)
	st.charCtx.MemorySparks = sparks
}

// generate invokes the model with retries. Streaming calls stop
// retrying once any token has reached the sink; replaying a partial
// stream would duplicate text the client already rendered.
func (o *Orchestrator) generate(ctx context.Context, st *turnState, userPrompt string, sink llm.TokenSink) error {
	if o.exporter != nil {
		o.exporter.LLMCallStarted()
		defer o.exporter.LLMCallFinished()
	}

	delivered := 0
	var wrapped llm.TokenSink
	if sink != nil {
		wrapped = func(token string) error {
			delivered++
			return sink(token)
		}
	}

	sys := prompt.SystemInstructions()
	start := time.Now()
	err := retry.Do(ctx, o.cfg.LLMRetry, func(ctx context.Context) error {
		before := delivered
		var (
			text    string
			stats   *llm.CallStats
			callErr error
		)
		if wrapped == nil {
			text, stats, callErr = o.llm.Generate(ctx, sys, userPrompt)
		} else {
			text, stats, callErr = o.llm.GenerateStream(ctx, sys, userPrompt, wrapped)
		}
		if callErr != nil {
			if delivered > before {
				return &streamAbortError{cause: callErr}
			}
			return callErr
		}
		st.raw = text
		st.usage = stats
		return nil
	})

	duration := time.Since(start)
	var firstToken time.Duration
	if st.usage != nil {
		firstToken = time.Duration(st.usage.TimeToFirstTokenMs) * time.Millisecond
	}
	st.trace.RecordLLMCall(o.llm.Model(), o.llm.Provider(), duration, firstToken, sink != nil, err)
	if o.exporter != nil {
		o.exporter.RecordLLMRequest(o.llm.Model(), o.llm.Provider(), duration, err == nil)
	}
	return err
}

// fail finalizes a fatally aborted turn: error-classified audit
// record, trace, metrics, log.
func (o *Orchestrator) fail(ctx context.Context, st *turnState, kind ErrorKind, err error) error {
	st.trace.FinishWithError()
	terr := &Error{Kind: kind, TraceID: st.traceID, Err: err}
	st.errs = append(st.errs, terr.Error())

	o.putAudit(context.WithoutCancel(ctx), &audit.Record{
		TurnID:         st.turnID,
		TraceID:        st.traceID,
		CharacterID:    st.req.CharacterID,
		Classification: audit.ClassificationError,
		PlayerAction:   st.req.PlayerAction,
		DryRun:         st.req.DryRun,
		Decisions:      st.decisions,
		PhaseLatencies: st.trace.PhaseLatencies(),
		Errors:         st.errs,
		CreatedAt:      time.Now(),
	}, st.log)

	if o.exporter != nil {
		o.exporter.RecordTurn(string(audit.ClassificationError), st.trace.Duration())
	}
	st.log.Error("turn: aborted", "kind", string(kind), "error", err)
	return terr
}

// buildRecord assembles the final audit record for a completed turn.
func (o *Orchestrator) buildRecord(st *turnState, classification audit.Classification) *audit.Record {
	narrative := audit.Skipped(actionNone)
	if st.plan.Narrative != "" {
		if st.req.DryRun {
			narrative = audit.Skipped(actionWritten)
		} else {
			narrative = audit.Attempted(actionWritten, st.summary.NarrativePersisted, st.summary.NarrativeError)
		}
	}
	return &audit.Record{
		TurnID:         st.turnID,
		TraceID:        st.traceID,
		CharacterID:    st.req.CharacterID,
		Classification: classification,
		PlayerAction:   st.req.PlayerAction,
		Narrative:      st.parsed.Narrative,
		SchemaValid:    st.parsed.SchemaValid,
		DryRun:         st.req.DryRun,
		Decisions:      st.decisions,
		Subsystems: map[string]audit.SubsystemOutcome{
			"quest":     st.summary.QuestChange,
			"combat":    st.summary.CombatUpdate,
			"poi":       st.summary.POICreated,
			"narrative": narrative,
		},
		PhaseLatencies: st.trace.PhaseLatencies(),
		Errors:         st.errs,
		CreatedAt:      time.Now(),
	}
}

// putAudit stores the record and, when an archive is configured,
// persists it. Archive failures degrade to a warning.
func (o *Orchestrator) putAudit(ctx context.Context, rec *audit.Record, log *logging.Logger) {
	if o.auditor != nil {
		o.auditor.Put(rec)
	}
	if o.archive == nil {
		return
	}
	if err := o.archive.Insert(ctx, rec); err != nil {
		log.Warn("turn: audit archive insert failed", "error", err)
	}
}

// classify reduces a completed turn to its audit classification.
// Fatal aborts never reach this; they are classified at the abort.
func classify(parsed *outcome.ParsedOutcome, s SubsystemSummary) audit.Classification {
	degraded := parsed.ErrorType != outcome.ErrorNone
	for _, out := range []audit.SubsystemOutcome{s.QuestChange, s.CombatUpdate, s.POICreated} {
		if out.Success != nil && !*out.Success {
			degraded = true
		}
	}
	if s.NarrativeError != "" {
		degraded = true
	}
	if degraded {
		return audit.ClassificationPartial
	}
	return audit.ClassificationSuccess
}

func parseLabel(parsed *outcome.ParsedOutcome) string {
	if parsed.ErrorType == outcome.ErrorNone {
		return "valid"
	}
	return string(parsed.ErrorType)
}

// streamAbortError marks a model failure after tokens already reached
// the client. It deliberately does not unwrap: the cause may look
// retryable, but replaying a partial stream is not an option.
type streamAbortError struct {
	cause error
}

func (e *streamAbortError) Error() string {
	return "llm stream failed after partial delivery: " + e.cause.Error()
}

func contextErrorKind(err error) ErrorKind {
	switch {
	case journeylog.IsCharacterNotFound(err):
		return KindCharacterNotFound
	case journeylog.IsTimeout(err):
		return KindContextTimeout
	default:
		return KindContextFetch
	}
}

func llmErrorKind(err error) ErrorKind {
	var aborted *streamAbortError
	if errors.As(err, &aborted) {
		err = aborted.cause
	}
	if llm.IsAuthError(err) {
		return KindLLMAuth
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindLLMTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindLLMTimeout
	}
	if isBadRequest(err) {
		return KindLLMBadRequest
	}
	return KindLLMFailure
}

// isBadRequest reports a non-retryable client-side provider rejection,
// auth failures excluded.
func isBadRequest(err error) bool {
	var coder retry.StatusCoder
	if !errors.As(err, &coder) {
		return false
	}
	code := coder.HTTPStatus()
	switch code {
	case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
		return false
	}
	return code >= 400 && code < 500
}
