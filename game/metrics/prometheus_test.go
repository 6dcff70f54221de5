package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPrometheusExporter(t *testing.T) {
	exporter := NewPrometheusExporter(DefaultConfig())

	t.Run("RecordTurn", func(t *testing.T) {
		exporter.RecordTurn("success", 800*time.Millisecond)
		exporter.RecordTurn("partial", 650*time.Millisecond)
		exporter.RecordTurn("error", 120*time.Millisecond)

		exporter.TurnStarted()
		exporter.TurnFinished()
	})

	t.Run("RecordPhase", func(t *testing.T) {
		exporter.RecordPhase("fetch_context", 40*time.Millisecond)
		exporter.RecordPhase("llm_call", 500*time.Millisecond)
		exporter.RecordPhase("execute_writes", 90*time.Millisecond)
	})

	t.Run("RecordLLM", func(t *testing.T) {
		exporter.RecordLLMRequest("gpt-5.2", "openai", 500*time.Millisecond, true)
		exporter.RecordLLMRequest("gpt-5.2", "openai", 300*time.Millisecond, false)
		exporter.LLMCallStarted()
		exporter.LLMCallFinished()
	})

	t.Run("RecordParse", func(t *testing.T) {
		exporter.RecordParse("valid")
		exporter.RecordParse("decode_error")
		exporter.RecordParse("schema_error")
	})

	t.Run("RecordRateLimitRejection", func(t *testing.T) {
		exporter.RecordRateLimitRejection("character")
		exporter.RecordRateLimitRejection("llm")
	})

	t.Run("RecordStoreWrite", func(t *testing.T) {
		exporter.RecordStoreWrite("quest", true)
		exporter.RecordStoreWrite("poi", false)
		exporter.RecordStoreWrite("narrative", true)
	})

	t.Run("RecordSparkFetch", func(t *testing.T) {
		exporter.RecordSparkFetch(true)
		exporter.RecordSparkFetch(false)
	})

	t.Run("AuditMetrics", func(t *testing.T) {
		exporter.SetAuditEntries(42)
		exporter.RecordAuditEviction("expired")
		exporter.RecordAuditEviction("capacity")
	})
}

func TestPrometheusExporterHandler(t *testing.T) {
	exporter := NewPrometheusExporter(DefaultConfig())

	exporter.RecordTurn("success", 100*time.Millisecond)
	exporter.RecordStoreWrite("quest", true)
	exporter.RecordParse("valid")
	exporter.RecordRateLimitRejection("character")

	req := httptest.NewRequest("GET", "/metrics", http.NoBody)
	w := httptest.NewRecorder()

	exporter.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "taleweaver_game_turns_total") {
		t.Error("expected turns_total metric in output")
	}
	if !strings.Contains(body, "taleweaver_game_journeylog_writes_total") {
		t.Error("expected journeylog_writes_total metric in output")
	}
	if !strings.Contains(body, "taleweaver_game_outcome_parses_total") {
		t.Error("expected outcome_parses_total metric in output")
	}
	if !strings.Contains(body, "taleweaver_game_rate_limit_rejections_total") {
		t.Error("expected rate_limit_rejections_total metric in output")
	}
}

func TestPrometheusExporterSnapshot(t *testing.T) {
	exporter := NewPrometheusExporter(DefaultConfig())
	exporter.RecordTurn("success", 100*time.Millisecond)

	snapshot := exporter.Snapshot()
	if snapshot["timestamp"] == nil {
		t.Error("expected timestamp in snapshot")
	}
	if snapshot["registry"] == nil {
		t.Error("expected registry gather result in snapshot")
	}
}

func TestPrometheusExporterCustomRegistry(t *testing.T) {
	cfg := DefaultConfig()
	exporter := NewPrometheusExporter(cfg)

	if exporter.GetRegistry() == nil {
		t.Fatal("expected a registry")
	}
}
