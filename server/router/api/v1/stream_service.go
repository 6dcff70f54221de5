package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kestrelgames/taleweaver/game/observability/logging"
	"github.com/kestrelgames/taleweaver/game/turn"
)

// streamEvent is a single SSE frame. Type is token, done, or error.
type streamEvent struct {
	Type    string           `json:"type"`
	Token   string           `json:"token,omitempty"`
	Result  *turn.TurnResult `json:"result,omitempty"`
	Kind    string           `json:"kind,omitempty"`
	Message string           `json:"message,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

// ProcessTurnStream runs one turn while streaming narrative tokens as
// server-sent events. The SSE response starts with the first token;
// failures before that point return a plain JSON error with the proper
// status. A client that disconnects mid-stream stops token delivery
// but never the turn: the model call finishes, writes execute, and the
// audit record lands.
func (s *APIV1Service) ProcessTurnStream(c echo.Context) error {
	if !s.Config.Integrations.StreamingEnabled {
		return writeError(c, http.StatusNotFound, "streaming_disabled", "the streaming endpoint is disabled", requestTraceID(c))
	}

	var body TurnRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, http.StatusBadRequest, string(turn.KindInvalidInput),
			"request body must be JSON with character_id and player_action", requestTraceID(c))
	}

	clientCtx := c.Request().Context()
	// The turn must outlive the request: a vanished client stops token
	// delivery, not the pipeline.
	turnCtx := context.WithoutCancel(clientCtx)

	type turnDone struct {
		res *turn.TurnResult
		err error
	}
	tokens := make(chan string, 64)
	done := make(chan turnDone, 1)

	go func() {
		res, err := s.Turns.ProcessTurnStream(turnCtx, turn.Request{
			CharacterID:  body.CharacterID,
			PlayerAction: body.PlayerAction,
			TraceID:      requestTraceID(c),
			DryRun:       body.DryRun,
		}, func(token string) error {
			select {
			case tokens <- token:
				return nil
			case <-clientCtx.Done():
				return clientCtx.Err()
			}
		})
		close(tokens)
		done <- turnDone{res: res, err: err}
	}()

	w := c.Response()
	started := false
	clientGone := false
	for token := range tokens {
		if clientGone {
			// Keep draining so the producer never blocks.
			continue
		}
		if !started {
			startEventStream(w)
			started = true
		}
		if err := writeEvent(w, &streamEvent{Type: "token", Token: token}); err != nil {
			clientGone = true
		}
	}

	out := <-done
	log := logging.FromContext(c.Request().Context())

	if out.err != nil {
		if !started {
			return writeTurnError(c, out.err)
		}
		if !clientGone {
			_ = writeEvent(w, turnErrorEvent(out.err))
		}
		log.Warn("server: streamed turn failed", "error", out.err)
		return nil
	}

	if s.Notifier != nil && !out.res.DryRun {
		s.Notifier.NotifyAsync(out.res)
	}
	if clientGone {
		log.Info("server: client left before the stream finished, turn completed anyway", "turn_id", out.res.TurnID)
		return nil
	}
	if !started {
		startEventStream(w)
	}
	return writeEvent(w, &streamEvent{Type: "done", Result: out.res})
}

func startEventStream(w *echo.Response) {
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeEvent(w *echo.Response, ev *streamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func turnErrorEvent(err error) *streamEvent {
	var limited *turn.RateLimitedError
	if errors.As(err, &limited) {
		return &streamEvent{Type: "error", Kind: "rate_limited", Message: limited.Error()}
	}
	var turnErr *turn.Error
	if errors.As(err, &turnErr) {
		return &streamEvent{Type: "error", Kind: string(turnErr.Kind), Message: turnErr.Error(), TraceID: turnErr.TraceID}
	}
	return &streamEvent{Type: "error", Kind: "internal", Message: err.Error()}
}
