package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kestrelgames/taleweaver/game"
	"github.com/kestrelgames/taleweaver/game/turn"
)

func performTurnError(t *testing.T, err error) (*httptest.ResponseRecorder, errorBody) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/turns", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, writeTurnError(c, err))

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestWriteTurnError(t *testing.T) {
	t.Run("rate limited sets retry-after", func(t *testing.T) {
		rec, body := performTurnError(t, &turn.RateLimitedError{CharacterID: "char-1", RetryAfterSeconds: 0.25})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		assert.Equal(t, "rate_limited", body.Kind)
	})

	t.Run("wrapped rate limit still maps", func(t *testing.T) {
		wrapped := fmt.Errorf("admit: %w", &turn.RateLimitedError{CharacterID: "char-2", RetryAfterSeconds: 2})
		rec, body := performTurnError(t, wrapped)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
		assert.Equal(t, "rate_limited", body.Kind)
	})

	t.Run("kind maps to status", func(t *testing.T) {
		cases := []struct {
			kind turn.ErrorKind
			want int
		}{
			{turn.KindInvalidInput, http.StatusBadRequest},
			{turn.KindCharacterNotFound, http.StatusNotFound},
			{turn.KindContextTimeout, http.StatusGatewayTimeout},
			{turn.KindLLMTimeout, http.StatusGatewayTimeout},
			{turn.KindContextFetch, http.StatusBadGateway},
			{turn.KindLLMAuth, http.StatusBadGateway},
			{turn.KindLLMBadRequest, http.StatusBadGateway},
			{turn.KindLLMFailure, http.StatusBadGateway},
		}
		for _, tc := range cases {
			rec, body := performTurnError(t, &turn.Error{Kind: tc.kind, TraceID: "trace-9", Err: errors.New("boom")})
			assert.Equal(t, tc.want, rec.Code, string(tc.kind))
			assert.Equal(t, string(tc.kind), body.Kind)
			assert.Equal(t, "trace-9", body.TraceID)
		}
	})

	t.Run("unclassified error is internal", func(t *testing.T) {
		rec, body := performTurnError(t, errors.New("wires crossed"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal", body.Kind)
	})
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 20, parseLimit("", 20, 100))
	assert.Equal(t, 20, parseLimit("abc", 20, 100))
	assert.Equal(t, 20, parseLimit("0", 20, 100))
	assert.Equal(t, 20, parseLimit("-3", 20, 100))
	assert.Equal(t, 42, parseLimit("42", 20, 100))
	assert.Equal(t, 100, parseLimit("7000", 20, 100))
}

func callAdminGuard(t *testing.T, hash, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	s := &APIV1Service{Config: &game.Config{Integrations: game.IntegrationsConfig{AdminTokenHash: hash}}}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/policy", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	require.NoError(t, s.requireAdminToken(next)(c))
	return rec
}

func TestRequireAdminToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open-sesame"), bcrypt.MinCost)
	require.NoError(t, err)

	t.Run("no hash keeps the admin surface off", func(t *testing.T) {
		rec := callAdminGuard(t, "", "Bearer open-sesame")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := callAdminGuard(t, string(hash), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		rec := callAdminGuard(t, string(hash), "Bearer guessing")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token passes through", func(t *testing.T) {
		rec := callAdminGuard(t, string(hash), "Bearer open-sesame")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
