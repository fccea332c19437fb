package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/acquisition"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/analytics"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/auth"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/browser"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/core/config"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/core/telemetry"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/events"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/handler"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/scheduler"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/store"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/upstream"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	// ── OpenTelemetry metrics ────────────────────────────────────────────────
	if cfg.OTELEndpoint != "" {
		mp, err := telemetry.InitMeterProvider(context.Background(), "pharmaceutical-price-discovery", cfg.OTELEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
			logger.Info("OTel meter provider initialized", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	// ── Database ───────────────────────────────────────────────────────────
	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer st.Close()

	if err := st.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to apply migrations", zap.Error(err))
	}
	logger.Info("database ready")

	// ── Credential broker (C1) + upstream client (C2) ───────────────────────
	broker := auth.NewBroker(cfg.TokenCachePath, loginFunc(cfg, logger), logger)
	upstreamClient := upstream.NewClient(
		cfg.UpstreamBaseURL, broker, logger,
		upstream.WithRate(cfg.DefaultRateLimitRPS, int(cfg.DefaultRateLimitRPS)+1),
	)

	// ── Browser harvester (C3) + orchestrator (C4) ──────────────────────────
	harvester := browser.NewHarvester(cfg.SchedulerBrowserConcurrency, logger)
	harvestFn := func(ctx context.Context, keyword string) ([]upstream.Offer, error) {
		return harvester.HarvestOffers(ctx, keyword, browser.Options{
			SearchURLTemplate: cfg.UpstreamBaseURL + "/search?q=%s",
		})
	}
	orchestrator := acquisition.NewOrchestrator(upstreamClient, harvestFn)

	// ── Events (progress/alert fan-out) ─────────────────────────────────────
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("NATS connect failed, continuing without event fan-out", zap.Error(err))
			publisher = nil
		} else if err := publisher.ProvisionStreams(); err != nil {
			logger.Warn("NATS stream provisioning failed", zap.Error(err))
		}
	}
	defer publisher.Close()

	// ── Scheduler (C9) ───────────────────────────────────────────────────────
	progress := make(chan scheduler.ProgressEvent, 256)
	sched := scheduler.NewScheduler(orchestrator, st, logger, progress)
	sched.WithPublisher(publisherAdapter{publisher})

	go func() {
		for ev := range progress {
			publisher.PublishProgress(events.ProgressEvent{
				TaskID: ev.TaskID, Keyword: ev.Keyword, Phase: ev.Phase, OK: ev.OK, Items: ev.Items,
			})
		}
	}()

	// ── Analytics (C10) ──────────────────────────────────────────────────────
	analyticsSvc := analytics.NewService(st)

	// ── HTTP Server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("pharmaceutical-price-discovery"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request", zap.String("URI", v.URI), zap.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler.RegisterRoutes(e, handler.Deps{
		Orchestrator: orchestrator,
		Scheduler:    sched,
		Analytics:    analyticsSvc,
		Store:        st,
		Logger:       logger,
	})

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	close(progress)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}
	logger.Info("shut down cleanly")
}

// publisherAdapter satisfies internal/scheduler's publisher interface by
// converting scheduler.AlertEvent to internal/events.AlertEvent, keeping the
// two packages decoupled from each other while still sharing one NATS
// connection at the composition root.
type publisherAdapter struct {
	pub *events.Publisher
}

func (a publisherAdapter) PublishAlert(ev scheduler.AlertEvent) {
	a.pub.PublishAlert(events.AlertEvent{
		ID: ev.ID, RuleID: ev.RuleID, DrugID: ev.DrugID, Kind: ev.Kind,
		Message: ev.Message, CreatedAt: ev.CreatedAt,
	})
}

// loginFunc performs the upstream session-token exchange documented in
// spec §4.1: POST username/password, receive a token plus its lifetime.
func loginFunc(cfg config.Config, logger *zap.Logger) auth.LoginFunc {
	return func(ctx context.Context) (auth.Token, error) {
		body, err := json.Marshal(map[string]string{
			"username": cfg.UpstreamUsername,
			"password": cfg.UpstreamPassword,
		})
		if err != nil {
			return auth.Token{}, fmt.Errorf("marshal login payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			cfg.UpstreamBaseURL+"/auth/login", bytes.NewReader(body))
		if err != nil {
			return auth.Token{}, fmt.Errorf("build login request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return auth.Token{}, fmt.Errorf("login request failed: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return auth.Token{}, fmt.Errorf("read login response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return auth.Token{}, apperr.Auth("login rejected with status %d: %s", resp.StatusCode, string(raw))
		}

		var parsed struct {
			Token     string `json:"token"`
			ExpiresIn int    `json:"expires_in"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return auth.Token{}, fmt.Errorf("parse login response: %w", err)
		}
		if parsed.ExpiresIn <= 0 {
			parsed.ExpiresIn = 3600
		}

		return auth.Token{
			Value:     parsed.Token,
			ExpiresAt: time.Now().UTC().Add(time.Duration(parsed.ExpiresIn) * time.Second),
		}, nil
	}
}
