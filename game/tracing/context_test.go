package tracing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func TestTurnTrace(t *testing.T) {
	t.Run("NewTurnTrace", func(t *testing.T) {
		trace := NewTurnTrace("", "char-1")

		if trace == nil {
			t.Fatal("expected non-nil trace")
		}
		if trace.TraceID == "" {
			t.Error("expected generated trace ID")
		}
		if trace.CharacterID != "char-1" {
			t.Errorf("expected character 'char-1', got '%s'", trace.CharacterID)
		}
	})

	t.Run("CallerTraceIDPreserved", func(t *testing.T) {
		trace := NewTurnTrace("caller-trace", "char-1")
		if trace.TraceID != "caller-trace" {
			t.Errorf("expected 'caller-trace', got '%s'", trace.TraceID)
		}
	})

	t.Run("RecordPhase", func(t *testing.T) {
		trace := NewTurnTrace("", "char-1")

		err := trace.RecordPhase("fetch_context", func() error {
			time.Sleep(5 * time.Millisecond)
			return nil
		})

		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if trace.PhaseCount() != 1 {
			t.Errorf("expected 1 phase, got %d", trace.PhaseCount())
		}
		if trace.Phases[0].Name != "fetch_context" {
			t.Errorf("expected phase name 'fetch_context', got '%s'", trace.Phases[0].Name)
		}
		if trace.Phases[0].Duration <= 0 {
			t.Error("expected positive phase duration")
		}
		if trace.Phases[0].Status != StatusOK {
			t.Error("expected StatusOK")
		}
	})

	t.Run("RecordPhaseWithError", func(t *testing.T) {
		trace := NewTurnTrace("", "char-1")

		err := trace.RecordPhase("llm_call", func() error {
			return errTest
		})

		if !errors.Is(err, errTest) {
			t.Errorf("expected errTest passthrough, got %v", err)
		}
		if trace.Phases[0].Status != StatusError {
			t.Error("expected StatusError")
		}
		if trace.Phases[0].Error != "test error" {
			t.Errorf("expected error message recorded, got '%s'", trace.Phases[0].Error)
		}
	})

	t.Run("PhaseLatencies", func(t *testing.T) {
		trace := NewTurnTrace("", "char-1")
		_ = trace.RecordPhase("policy", func() error { return nil })
		_ = trace.RecordPhase("build_prompt", func() error { return nil })

		latencies := trace.PhaseLatencies()
		if len(latencies) != 2 {
			t.Fatalf("expected 2 latencies, got %d", len(latencies))
		}
		if _, ok := latencies["policy"]; !ok {
			t.Error("missing policy latency")
		}
		if _, ok := latencies["build_prompt"]; !ok {
			t.Error("missing build_prompt latency")
		}
	})

	t.Run("RecordLLMCall", func(t *testing.T) {
		trace := NewTurnTrace("", "char-1")
		trace.RecordLLMCall("gpt-5.2", "openai", 120*time.Millisecond, 30*time.Millisecond, true, nil)

		if trace.LLM == nil {
			t.Fatal("expected LLM call recorded")
		}
		if trace.LLM.Model != "gpt-5.2" {
			t.Errorf("expected model recorded, got '%s'", trace.LLM.Model)
		}
		if !trace.LLM.Stream {
			t.Error("expected stream flag")
		}
	})

	t.Run("FinishSetsDuration", func(t *testing.T) {
		trace := NewTurnTrace("", "char-1")
		time.Sleep(2 * time.Millisecond)
		trace.Finish()

		if trace.Duration() <= 0 {
			t.Error("expected positive duration")
		}
		if trace.Status != StatusOK {
			t.Error("expected StatusOK after Finish")
		}
	})

	t.Run("FinishWithError", func(t *testing.T) {
		trace := NewTurnTrace("", "char-1")
		trace.FinishWithError()

		if trace.Status != StatusError {
			t.Error("expected StatusError")
		}
	})
}

func TestTraceContext(t *testing.T) {
	trace := NewTurnTrace("", "char-1")
	ctx := WithContext(context.Background(), trace)

	if FromContext(ctx) != trace {
		t.Error("context should carry the same trace")
	}
	if FromContext(context.Background()) != nil {
		t.Error("empty context should return nil trace")
	}
}

func TestTurnTrace_ConcurrentPhases(t *testing.T) {
	trace := NewTurnTrace("", "char-1")
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = trace.RecordPhase("parallel", func() error { return nil })
		}()
	}
	wg.Wait()

	if trace.PhaseCount() != 8 {
		t.Errorf("expected 8 phases, got %d", trace.PhaseCount())
	}
}

func TestNilTraceIsSafe(t *testing.T) {
	var trace *TurnTrace

	err := trace.RecordPhase("noop", func() error { return errTest })
	if !errors.Is(err, errTest) {
		t.Error("nil trace should still run fn")
	}
	trace.RecordLLMCall("m", "p", 0, 0, false, nil)
	trace.Finish()
	trace.FinishWithError()
}
