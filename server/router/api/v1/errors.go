package v1

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/kestrelgames/taleweaver/game/turn"
)

// errorBody is the envelope every failed request returns.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

func writeError(c echo.Context, status int, kind, message, traceID string) error {
	return c.JSON(status, &errorBody{Kind: kind, Message: message, TraceID: traceID})
}

// writeTurnError maps pipeline failures onto HTTP statuses. Rate
// rejections carry a Retry-After header rounded up to whole seconds.
func writeTurnError(c echo.Context, err error) error {
	var limited *turn.RateLimitedError
	if errors.As(err, &limited) {
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfterSeconds))))
		return writeError(c, http.StatusTooManyRequests, "rate_limited", limited.Error(), "")
	}

	var turnErr *turn.Error
	if errors.As(err, &turnErr) {
		return writeError(c, statusForKind(turnErr.Kind), string(turnErr.Kind), turnErr.Error(), turnErr.TraceID)
	}

	return writeError(c, http.StatusInternalServerError, "internal", err.Error(), "")
}

func statusForKind(kind turn.ErrorKind) int {
	switch kind {
	case turn.KindInvalidInput:
		return http.StatusBadRequest
	case turn.KindCharacterNotFound:
		return http.StatusNotFound
	case turn.KindContextTimeout, turn.KindLLMTimeout:
		return http.StatusGatewayTimeout
	case turn.KindContextFetch, turn.KindLLMAuth, turn.KindLLMBadRequest, turn.KindLLMFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
