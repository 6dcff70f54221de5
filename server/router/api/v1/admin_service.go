package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kestrelgames/taleweaver/game/observability/logging"
	"github.com/kestrelgames/taleweaver/game/policy"
)

// GetPolicyConfig returns the active trigger configuration.
func (s *APIV1Service) GetPolicyConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Policies.Current())
}

// ApplyPolicyConfig validates and atomically swaps the trigger
// configuration. Turns already in flight keep the snapshot they
// started with; the replaced snapshot stays available for rollback.
func (s *APIV1Service) ApplyPolicyConfig(c echo.Context) error {
	var cfg policy.Config
	if err := c.Bind(&cfg); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_input",
			"request body must be a policy configuration object", requestTraceID(c))
	}
	if err := s.Policies.Apply(&cfg); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_config", err.Error(), requestTraceID(c))
	}
	logging.FromContext(c.Request().Context()).Info("server: policy config applied")
	return c.JSON(http.StatusOK, s.Policies.Current())
}

// RollbackPolicyConfig restores the previously active snapshot.
func (s *APIV1Service) RollbackPolicyConfig(c echo.Context) error {
	if err := s.Policies.Rollback(); err != nil {
		return writeError(c, http.StatusConflict, "rollback_unavailable", err.Error(), requestTraceID(c))
	}
	logging.FromContext(c.Request().Context()).Info("server: policy config rolled back")
	return c.JSON(http.StatusOK, s.Policies.Current())
}
