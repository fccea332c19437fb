// Package handler mounts the operator-facing HTTP surface (C11) described
// in spec §6: crawl triggers, task inspection, search, price listing,
// comparison, and alert polling. Route registration, request binding, and
// error-to-status mapping follow the teacher's
// apps/discovery-service/internal/handler shape (group-per-resource,
// c.Bind + explicit required-field checks, typed JSON error bodies).
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/acquisition"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/analytics"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
	coremw "github.com/Cgwgpt/pharmaceutical-price-discovery/internal/core/mw"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/scheduler"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/store"
)

// Deps bundles everything RegisterRoutes needs to build the handlers; kept
// as one struct so the composition root has a single call site instead of
// a long positional-argument list.
type Deps struct {
	Orchestrator *acquisition.Orchestrator
	Scheduler    *scheduler.Scheduler
	Analytics    *analytics.Service
	Store        *store.Store
	Logger       *zap.Logger
}

// RegisterRoutes mounts every operator HTTP endpoint onto e.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.Use(coremw.NullToEmptyArray())
	e.Use(coremw.CorrelationID())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	cg := e.Group("/crawl")
	cg.POST("/quick", quickCrawlHandler(d))
	cg.POST("/full", fullCrawlHandler(d))
	cg.POST("/smart", smartCrawlHandler(d))
	cg.POST("/batch", batchCrawlHandler(d))

	tg := e.Group("/tasks")
	tg.GET("/:id", getTaskHandler(d))
	tg.DELETE("/:id", cancelTaskHandler(d))

	e.GET("/search", searchHandler(d))
	e.GET("/drugs/:id/prices", pricesHandler(d))
	e.GET("/compare", compareHandler(d))
	e.GET("/monitor/alerts", alertsHandler(d))
}

// writeError answers with the JSON {error, message} shape spec §7 mandates,
// deriving the HTTP status from err's apperr.Kind when possible and falling
// back to 500 for unrecognized errors.
func writeError(c echo.Context, logger *zap.Logger, err error) error {
	if ae, ok := err.(*apperr.Error); ok {
		return c.JSON(ae.HTTPStatus(), map[string]string{
			"error":   string(ae.Kind),
			"message": ae.Message,
		})
	}
	logger.Error("unhandled error", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
