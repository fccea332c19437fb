package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/store"
)

type taskResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Status            string `json:"status"`
	TotalKeywords     int    `json:"total_keywords"`
	CompletedKeywords int    `json:"completed_keywords"`
	FailedKeywords    int    `json:"failed_keywords"`
	TotalPriceRows    int    `json:"total_price_rows"`
	LastError         string `json:"last_error,omitempty"`
}

func getTaskHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return writeError(c, d.Logger, apperr.InvalidInput("task id is required"))
		}

		task, err := d.Store.GetCrawlTask(c.Request().Context(), id)
		if err != nil {
			return writeError(c, d.Logger, err)
		}

		return c.JSON(http.StatusOK, taskResponse{
			ID: task.ID, Name: task.Name, Status: string(task.Status),
			TotalKeywords: task.TotalKeywords, CompletedKeywords: task.CompletedKeywords,
			FailedKeywords: task.FailedKeywords, TotalPriceRows: task.TotalPriceRows,
			LastError: task.LastError,
		})
	}
}

// cancelTaskHandler drives DELETE /tasks/{id}: it requests cancellation of
// any in-flight keywords and transitions the task to the cancelled status.
// It never deletes the task record, so GET /tasks/{id} continues to report
// the final counters for whatever keywords completed before cancellation.
func cancelTaskHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return writeError(c, d.Logger, apperr.InvalidInput("task id is required"))
		}
		ctx := c.Request().Context()

		if _, err := d.Store.GetCrawlTask(ctx, id); err != nil {
			return writeError(c, d.Logger, err)
		}

		// A false return just means no in-flight run is registered for this
		// task (already finished, or cancelled already); the status update
		// below still runs so a late/duplicate cancel request is idempotent.
		d.Scheduler.CancelTask(id)

		if err := d.Store.FinishCrawlTask(ctx, id, store.TaskCancelled); err != nil {
			return writeError(c, d.Logger, err)
		}

		return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
	}
}
