package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kestrelgames/taleweaver/game"
	"github.com/kestrelgames/taleweaver/game/audit"
	"github.com/kestrelgames/taleweaver/game/policy"
	"github.com/kestrelgames/taleweaver/game/turn"
	"github.com/kestrelgames/taleweaver/internal/profile"
	"github.com/kestrelgames/taleweaver/journeylog"
	"github.com/kestrelgames/taleweaver/plugin/webhook"
)

// APIV1Service owns the /api/v1 route group: turn processing, audit
// lookups, the adventure-log feed, and the admin policy endpoints.
type APIV1Service struct {
	Profile *profile.Profile
	Config  *game.Config

	Turns    *turn.Orchestrator
	Audits   *audit.Store
	Policies *policy.Manager
	Store    *journeylog.Client

	// Notifier is nil when no webhook endpoints are configured.
	Notifier *webhook.Notifier
}

// NewAPIV1Service assembles the route group over an already-built turn
// pipeline.
func NewAPIV1Service(instanceProfile *profile.Profile, cfg *game.Config, turns *turn.Orchestrator,
	audits *audit.Store, policies *policy.Manager, store *journeylog.Client, notifier *webhook.Notifier) *APIV1Service {
	return &APIV1Service{
		Profile:  instanceProfile,
		Config:   cfg,
		Turns:    turns,
		Audits:   audits,
		Policies: policies,
		Store:    store,
		Notifier: notifier,
	}
}

// RegisterRoutes wires the turn API onto the echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.Use(middleware.CORS())
	g.Use(s.requestLogger)

	g.POST("/turns", s.ProcessTurn)
	g.POST("/turns/stream", s.ProcessTurnStream)
	g.GET("/turns/:id", s.GetTurn)
	g.GET("/characters/:id/turns", s.GetCharacterTurns)
	g.GET("/characters/:id/feed", s.GetCharacterFeed)

	admin := g.Group("/admin", s.requireAdminToken)
	admin.GET("/policy", s.GetPolicyConfig)
	admin.POST("/policy", s.ApplyPolicyConfig)
	admin.POST("/policy/rollback", s.RollbackPolicyConfig)
	admin.GET("/turns", s.ListTurns)
}

// healthz reports liveness. Registered on the root echo instance so it
// skips the API middleware chain.
func Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
