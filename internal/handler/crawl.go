package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/acquisition"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/scheduler"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/store"
)

type crawlResponse struct {
	Method        string `json:"method"`
	EndpointCount int    `json:"endpoint_count"`
	BrowserCount  int    `json:"browser_count"`
	ItemsWritten  int    `json:"items_written"`
	Sample        []any  `json:"sample"`
}

func sampleOffers(result acquisition.Result, n int) []any {
	if len(result.Offers) < n {
		n = len(result.Offers)
	}
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = result.Offers[i]
	}
	return out
}

// quickCrawlRequest drives POST /crawl/quick: an acquisition with the
// orchestrator's default options, so the browser fallback still runs when
// the endpoint pass returns fewer than 5 offers. max_pages is accepted for forward compatibility with
// multi-page endpoint sweeps but the current upstream client only exposes
// a single page per call (see internal/upstream.Client.SearchAggregate).
type quickCrawlRequest struct {
	Keyword  string `json:"keyword"`
	MaxPages int    `json:"max_pages"`
}

func quickCrawlHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req quickCrawlRequest
		if err := c.Bind(&req); err != nil {
			return writeError(c, d.Logger, apperr.InvalidInput("invalid request body"))
		}
		if req.Keyword == "" {
			return writeError(c, d.Logger, apperr.InvalidInput("keyword is required"))
		}

		// MinProviders: 0 is replaced by the orchestrator's default of 5, so
		// this does not skip the browser fallback: it runs whenever the
		// endpoint pass yields fewer than 5 offers.
		opts := acquisition.Options{MinProviders: 0}

		result, n, err := d.Scheduler.AcquireAndPersist(c.Request().Context(), req.Keyword, opts)
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, crawlResponse{
			Method: string(result.Method), EndpointCount: result.EndpointCount,
			BrowserCount: result.BrowserCount, ItemsWritten: n, Sample: sampleOffers(result, 5),
		})
	}
}

// fullCrawlRequest drives POST /crawl/full: force the browser pass.
type fullCrawlRequest struct {
	Keyword string `json:"keyword"`
}

func fullCrawlHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req fullCrawlRequest
		if err := c.Bind(&req); err != nil {
			return writeError(c, d.Logger, apperr.InvalidInput("invalid request body"))
		}
		if req.Keyword == "" {
			return writeError(c, d.Logger, apperr.InvalidInput("keyword is required"))
		}

		opts := acquisition.Options{ForceBrowser: true}

		result, n, err := d.Scheduler.AcquireAndPersist(c.Request().Context(), req.Keyword, opts)
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, crawlResponse{
			Method: string(result.Method), EndpointCount: result.EndpointCount,
			BrowserCount: result.BrowserCount, ItemsWritten: n, Sample: sampleOffers(result, 5),
		})
	}
}

// smartCrawlRequest drives POST /crawl/smart: the full hybrid strategy (C4)
// with caller-tunable sufficiency parameters.
type smartCrawlRequest struct {
	Keyword      string `json:"keyword"`
	MinProviders int    `json:"min_providers"`
	ForceBrowser bool   `json:"force_browser"`
}

func smartCrawlHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req smartCrawlRequest
		if err := c.Bind(&req); err != nil {
			return writeError(c, d.Logger, apperr.InvalidInput("invalid request body"))
		}
		if req.Keyword == "" {
			return writeError(c, d.Logger, apperr.InvalidInput("keyword is required"))
		}

		opts := acquisition.Options{MinProviders: req.MinProviders, ForceBrowser: req.ForceBrowser}

		result, n, err := d.Scheduler.AcquireAndPersist(c.Request().Context(), req.Keyword, opts)
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, crawlResponse{
			Method: string(result.Method), EndpointCount: result.EndpointCount,
			BrowserCount: result.BrowserCount, ItemsWritten: n, Sample: sampleOffers(result, 5),
		})
	}
}

// batchCrawlRequest drives POST /crawl/batch: enqueue a keyword set as one
// CrawlTask, run asynchronously against the scheduler's worker pool.
type batchCrawlRequest struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

type batchCrawlResponse struct {
	TaskID string `json:"task_id"`
}

func batchCrawlHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req batchCrawlRequest
		if err := c.Bind(&req); err != nil {
			return writeError(c, d.Logger, apperr.InvalidInput("invalid request body"))
		}
		if len(req.Keywords) == 0 {
			return writeError(c, d.Logger, apperr.InvalidInput("keywords must not be empty"))
		}
		if req.Name == "" {
			req.Name = "batch-" + uuid.NewString()
		}

		taskID := uuid.NewString()
		items := make([]store.WatchListItem, len(req.Keywords))
		for i, kw := range req.Keywords {
			items[i] = store.WatchListItem{ID: uuid.NewString(), Keyword: kw, Enabled: true}
		}

		// Runs in the background: the scheduler owns task-state transitions
		// and per-keyword accounting via CrawlTask counters, so the handler
		// only needs to hand back the task ID for the caller to poll via
		// GET /tasks/{id}. Detached from the request context so the batch
		// survives the HTTP round trip that kicked it off; RunWatchList
		// derives its own cancellable context internally and registers it
		// under taskID, so DELETE /tasks/{id} can still stop this run.
		go func() {
			if err := d.Scheduler.RunWatchList(context.Background(), taskID, req.Name, items, scheduler.Options{}); err != nil {
				d.Logger.Warn("batch crawl failed", zap.String("task_id", taskID), zap.Error(err))
			}
		}()

		return c.JSON(http.StatusAccepted, batchCrawlResponse{TaskID: taskID})
	}
}
