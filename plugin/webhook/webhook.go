// Package webhook pushes completed-turn summaries to configured URLs.
// Delivery is fire-and-forget: a failed endpoint is logged and skipped,
// never retried, and never affects the turn that produced the event.
package webhook

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrelgames/taleweaver/internal/strutil"
	"github.com/kestrelgames/taleweaver/game/turn"
)

var (
	// timeout is the timeout for webhook request. Default to 30 seconds.
	timeout = 30 * time.Second
)

// narrativePreviewLimit bounds the narrative text carried in the
// payload. Consumers wanting the full text fetch the turn record.
const narrativePreviewLimit = 500

// TurnEventPayload is the JSON body posted to each endpoint.
type TurnEventPayload struct {
	URL            string                `json:"url"`
	TurnID         string                `json:"turn_id"`
	TraceID        string                `json:"trace_id,omitempty"`
	CharacterID    string                `json:"character_id"`
	Classification string                `json:"classification"`
	Narrative      string                `json:"narrative"`
	SchemaValid    bool                  `json:"schema_valid"`
	DryRun         bool                  `json:"dry_run,omitempty"`
	Summary        turn.SubsystemSummary `json:"summary"`
	DurationMs     int64                 `json:"duration_ms"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Post posts the turn event to one webhook endpoint.
func Post(payload *TurnEventPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal webhook request to %s", payload.URL)
	}

	req, err := http.NewRequest("POST", payload.URL, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrapf(err, "failed to construct webhook request to %s", payload.URL)
	}

	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{
		Timeout: timeout,
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post webhook to %s", payload.URL)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read webhook response from %s", payload.URL)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("failed to post webhook %s, status code: %d, response body: %s", payload.URL, resp.StatusCode, b)
	}

	return nil
}

// Notifier fans a turn event out to every configured endpoint.
// A nil Notifier is valid and does nothing.
type Notifier struct {
	urls []string
}

// NewNotifier creates a notifier for the given endpoints. Returns nil
// when no endpoints are configured so callers can wire it
// unconditionally.
func NewNotifier(urls []string) *Notifier {
	if len(urls) == 0 {
		return nil
	}
	return &Notifier{urls: urls}
}

// NotifyAsync dispatches the turn result to every endpoint without
// waiting for responses.
func (n *Notifier) NotifyAsync(res *turn.TurnResult) {
	if n == nil || res == nil {
		return
	}
	createdAt := time.Now().UTC()
	for _, u := range n.urls {
		payload := &TurnEventPayload{
			URL:            u,
			TurnID:         res.TurnID,
			TraceID:        res.TraceID,
			CharacterID:    res.CharacterID,
			Classification: string(res.Classification),
			Narrative:      strutil.Truncate(res.Narrative, narrativePreviewLimit),
			SchemaValid:    res.SchemaValid,
			DryRun:         res.DryRun,
			Summary:        res.Summary,
			DurationMs:     res.DurationMs,
			CreatedAt:      createdAt,
		}
		go func(p *TurnEventPayload) {
			if err := Post(p); err != nil {
				// Since we're in a goroutine, we can only log the error
				slog.Warn("webhook: failed to dispatch turn event",
					slog.String("url", p.URL),
					slog.String("turn_id", p.TurnID),
					slog.Any("err", err))
			}
		}(payload)
	}
}
