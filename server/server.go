// Package server assembles the HTTP surface of the turn service: the
// /api/v1 routes, health and metrics endpoints, and the optional
// Telegram webhook. The turn pipeline itself lives under game/.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/kestrelgames/taleweaver/game"
	"github.com/kestrelgames/taleweaver/game/audit"
	"github.com/kestrelgames/taleweaver/game/metrics"
	"github.com/kestrelgames/taleweaver/game/policy"
	"github.com/kestrelgames/taleweaver/game/ratelimit"
	"github.com/kestrelgames/taleweaver/game/turn"
	"github.com/kestrelgames/taleweaver/internal/profile"
	"github.com/kestrelgames/taleweaver/journeylog"
	"github.com/kestrelgames/taleweaver/plugin/telegram"
	"github.com/kestrelgames/taleweaver/plugin/webhook"
	apiv1 "github.com/kestrelgames/taleweaver/server/router/api/v1"
)

// auditSweepInterval is how often expired audit records are reclaimed
// and, when the archive is enabled, rows past retention are pruned.
const auditSweepInterval = time.Minute

// telegramWebhookPath is where Telegram delivers updates when the bot
// token is configured.
const telegramWebhookPath = "/webhooks/telegram"

// Server owns the echo instance and the assembled turn pipeline.
type Server struct {
	Profile *profile.Profile

	echoServer *echo.Echo

	config   *game.Config
	turns    *turn.Orchestrator
	audits   *audit.Store
	archive  *audit.Archive
	exporter *metrics.PrometheusExporter

	telegramChannel *telegram.Channel
	telegramHandler *telegram.Handler
}

// NewServer builds the full pipeline from the config and registers
// every route. The journey-log client is passed in so the caller can
// share it with other consumers.
func NewServer(ctx context.Context, instanceProfile *profile.Profile, cfg *game.Config, store *journeylog.Client) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		Profile:    instanceProfile,
		echoServer: e,
		config:     cfg,
	}

	svc, err := cfg.NewLLMService()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create LLM service")
	}

	policies, err := policy.NewManager(cfg.Policy)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create policy manager")
	}

	s.exporter = metrics.NewPrometheusExporter(metrics.DefaultConfig())
	s.audits = audit.NewStore(cfg.AuditStoreConfig(), s.exporter)

	opts := []turn.Option{
		turn.WithConfig(cfg.Turn),
		turn.WithMetrics(s.exporter),
	}
	if cfg.Audit.ArchiveEnabled {
		archive, err := audit.OpenArchive(cfg.Audit.ArchiveDSN)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open audit archive")
		}
		s.archive = archive
		opts = append(opts, turn.WithArchive(archive))
	}

	s.turns, err = turn.New(
		store,
		svc,
		policies,
		cfg.RandomProvider(),
		ratelimit.NewCharacterLimiter(cfg.Limits.TurnsPerCharacterPerSecond),
		ratelimit.NewLLMGate(cfg.Limits.ConcurrentLLMCalls),
		s.audits,
		opts...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create turn orchestrator")
	}

	var notifier *webhook.Notifier
	if urls := cfg.Integrations.WebhookURLs; len(urls) > 0 {
		notifier = webhook.NewNotifier(urls)
	}

	e.GET("/healthz", apiv1.Healthz)
	e.GET("/metrics", echo.WrapHandler(s.exporter.Handler()))

	apiV1Service := apiv1.NewAPIV1Service(instanceProfile, cfg, s.turns, s.audits, policies, store, notifier)
	apiV1Service.RegisterRoutes(e)

	if token := cfg.Integrations.TelegramBotToken; token != "" {
		channel, err := telegram.NewChannel(token)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create telegram channel")
		}
		s.telegramChannel = channel
		s.telegramHandler = telegram.NewHandler(channel, s.turns)
		e.POST(telegramWebhookPath, s.handleTelegramWebhook)
	}

	return s, nil
}

// Start binds the listener and begins serving in the background. Bind
// failures surface synchronously; everything after that is reported
// through the logger. The audit sweeper runs until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	go s.auditSweepLoop(ctx)

	if s.telegramChannel != nil && s.Profile.InstanceURL != "" {
		webhookURL := strings.TrimRight(s.Profile.InstanceURL, "/") + telegramWebhookPath
		if err := s.telegramChannel.SetWebhook(ctx, webhookURL, true); err != nil {
			// The game API works without the chat channel.
			slog.Warn("failed to register telegram webhook", "url", webhookURL, "error", err)
		}
	}

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()

	return nil
}

// Shutdown drains in-flight requests and releases the archive handle.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			slog.Error("failed to close audit archive", "error", err)
		}
	}

	slog.Info("taleweaver stopped properly")
}

// auditSweepLoop reclaims expired audit records on a fixed cadence and
// enforces archive retention when the archive is enabled.
func (s *Server) auditSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(auditSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if dropped := s.audits.Sweep(); dropped > 0 {
			slog.Debug("audit sweep reclaimed records", "count", dropped)
		}
		if s.archive != nil && s.config.Audit.ArchiveRetention > 0 {
			cutoff := time.Now().Add(-s.config.Audit.ArchiveRetention)
			n, err := s.archive.Prune(ctx, cutoff)
			if err != nil {
				slog.Warn("audit archive prune failed", "error", err)
			} else if n > 0 {
				slog.Debug("audit archive pruned rows", "count", n)
			}
		}
	}
}

// handleTelegramWebhook feeds Telegram updates into the turn pipeline.
// Telegram retries undelivered webhooks, so processing failures past
// payload validation are acknowledged and logged instead of returned.
func (s *Server) handleTelegramWebhook(c echo.Context) error {
	if !s.telegramHandler.VerifyRequest(c.Request()) {
		return c.NoContent(http.StatusForbidden)
	}
	if err := s.telegramHandler.HandleWebhook(c.Request().Context(), c.Request()); err != nil {
		if errors.Is(err, telegram.ErrInvalidPayload) {
			return c.NoContent(http.StatusBadRequest)
		}
		slog.Warn("telegram webhook processing failed", "error", err)
	}
	return c.NoContent(http.StatusOK)
}
