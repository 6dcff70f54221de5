package v1

import (
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/kestrelgames/taleweaver/game/observability/logging"
	"github.com/kestrelgames/taleweaver/journeylog"
)

// traceIDKey is the echo context key carrying the request's trace id.
const traceIDKey = "trace_id"

// requestLogger threads a trace-scoped logger through the request
// context and logs one line per completed request. Turn-endpoint
// completion logs honor the configured sampling rate; everything else
// always logs.
func (s *APIV1Service) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		traceID := c.Request().Header.Get(journeylog.TraceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		c.Set(traceIDKey, traceID)
		c.Response().Header().Set(journeylog.TraceHeader, traceID)

		log := logging.FromContext(c.Request().Context()).WithTraceID(traceID)
		c.SetRequest(c.Request().WithContext(logging.ToContext(c.Request().Context(), log)))

		err := next(c)

		if s.shouldLogRequest(c.Path()) {
			log.Info("server: request completed",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
		return err
	}
}

func (s *APIV1Service) shouldLogRequest(path string) bool {
	if !strings.HasPrefix(path, "/api/v1/turns") {
		return true
	}
	rate := s.Config.Log.SamplingRate
	if rate >= 1 {
		return true
	}
	return rate > 0 && rand.Float64() < rate
}

// requireAdminToken guards the admin group with a bearer token checked
// against the configured bcrypt hash. No hash configured means the
// admin surface stays off.
func (s *APIV1Service) requireAdminToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		hash := s.Config.Integrations.AdminTokenHash
		if hash == "" {
			return writeError(c, http.StatusNotFound, "admin_disabled", "admin endpoints are not configured", "")
		}

		token := strings.TrimSpace(strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer"))
		if token == "" {
			return writeError(c, http.StatusUnauthorized, "unauthorized", "missing bearer token", "")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			return writeError(c, http.StatusUnauthorized, "unauthorized", "invalid admin token", "")
		}
		return next(c)
	}
}

func requestTraceID(c echo.Context) string {
	if v, ok := c.Get(traceIDKey).(string); ok {
		return v
	}
	return ""
}
