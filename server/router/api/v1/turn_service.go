package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/kestrelgames/taleweaver/game/audit"
	"github.com/kestrelgames/taleweaver/game/turn"
)

// TurnRequest is the POST /turns body.
type TurnRequest struct {
	CharacterID  string `json:"character_id"`
	PlayerAction string `json:"player_action"`
	DryRun       bool   `json:"dry_run,omitempty"`
}

// TurnListResponse wraps a page of audit records.
type TurnListResponse struct {
	Turns     []*audit.Record `json:"turns"`
	TotalSize int             `json:"total_size"`
}

// ProcessTurn runs one synchronous turn and returns the full result.
func (s *APIV1Service) ProcessTurn(c echo.Context) error {
	var body TurnRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, http.StatusBadRequest, string(turn.KindInvalidInput),
			"request body must be JSON with character_id and player_action", requestTraceID(c))
	}

	res, err := s.Turns.ProcessTurn(c.Request().Context(), turn.Request{
		CharacterID:  body.CharacterID,
		PlayerAction: body.PlayerAction,
		TraceID:      requestTraceID(c),
		DryRun:       body.DryRun,
	})
	if err != nil {
		return writeTurnError(c, err)
	}

	if s.Notifier != nil && !res.DryRun {
		s.Notifier.NotifyAsync(res)
	}
	return c.JSON(http.StatusOK, res)
}

// GetTurn returns one audited turn by id.
func (s *APIV1Service) GetTurn(c echo.Context) error {
	rec, ok := s.Audits.GetTurn(c.Param("id"))
	if !ok {
		return writeError(c, http.StatusNotFound, "not_found", "no audit record for that turn", requestTraceID(c))
	}
	return c.JSON(http.StatusOK, rec)
}

// GetCharacterTurns returns a character's recent turns, newest first.
func (s *APIV1Service) GetCharacterTurns(c echo.Context) error {
	limit := parseLimit(c.QueryParam("limit"), 20, 100)
	recs := s.Audits.GetRecentTurns(c.Param("id"), limit)
	return c.JSON(http.StatusOK, &TurnListResponse{Turns: recs, TotalSize: len(recs)})
}

// ListTurns lists audit records across characters, optionally filtered
// by a CEL expression on character_id and classification.
func (s *APIV1Service) ListTurns(c echo.Context) error {
	f, err := audit.ParseFilter(c.QueryParam("filter"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_filter", err.Error(), requestTraceID(c))
	}
	limit := parseLimit(c.QueryParam("limit"), 50, 500)
	recs := s.Audits.List(f, limit)
	return c.JSON(http.StatusOK, &TurnListResponse{Turns: recs, TotalSize: len(recs)})
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
