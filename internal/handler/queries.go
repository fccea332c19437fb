package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/store"
)

func searchHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		query := c.QueryParam("q")
		if query == "" {
			return writeError(c, d.Logger, apperr.InvalidInput("q is required"))
		}
		category := c.QueryParam("category")

		drugs, err := d.Analytics.SearchDrugs(c.Request().Context(), query, category)
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, drugs)
	}
}

func pricesHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		drugID := c.Param("id")
		if drugID == "" {
			return writeError(c, d.Logger, apperr.InvalidInput("drug id is required"))
		}
		includeOutliers := c.QueryParam("include_outliers") == "true"

		rows, err := d.Store.GetPrices(c.Request().Context(), drugID, store.PriceFilter{IncludeOutliers: includeOutliers})
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, rows)
	}
}

func compareHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		drugID := c.QueryParam("drug_id")
		if drugID == "" {
			return writeError(c, d.Logger, apperr.InvalidInput("drug_id is required"))
		}
		includeOutliers := c.QueryParam("include_outliers") == "true"

		view, err := d.Analytics.CompareDrug(c.Request().Context(), drugID, includeOutliers)
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, view)
	}
}

func alertsHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		days := 30
		if raw := c.QueryParam("days"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				days = n
			}
		}
		limit := 50
		if raw := c.QueryParam("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		alerts, err := d.Store.ListAlerts(c.Request().Context(), days, limit)
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, alerts)
	}
}
