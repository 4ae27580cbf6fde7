package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/stats"
)

const maxStatsDays = 366

// StatsResponse is the board snapshot after a refresh.
type StatsResponse struct {
	stats.Result
	UpdatedAt time.Time `json:"updated_at"`
	Updated   bool      `json:"updated"`
	Error     string    `json:"error,omitempty"`
}

// GetStats handles GET /api/v1/stats?days=N. A failed refresh still returns the
// previous figures.
func (c *Controller) GetStats(ctx echo.Context) error {
	days := c.Settings.Stats.Days
	if v := ctx.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxStatsDays {
			return c.HandleError(ctx, err, "days must be between 1 and 366", http.StatusBadRequest)
		}
		days = n
	}

	res, err := c.stats.FetchStats(ctx.Request().Context(), days)
	updated := c.board.Apply(res, err)
	snap, at := c.board.Snapshot()

	resp := StatsResponse{Result: snap, UpdatedAt: at, Updated: updated}
	if err != nil {
		resp.Error = errors.ScrubMessage(err.Error())
	}
	return ctx.JSON(http.StatusOK, resp)
}

// Export handles GET /api/v1/export?start=&end= by redirecting to the CSV download.
func (c *Controller) Export(ctx echo.Context) error {
	end := time.Now()
	start := end.AddDate(0, 0, -(c.Settings.Stats.Days - 1))

	var err error
	if v := ctx.QueryParam("start"); v != "" {
		if start, err = time.ParseInLocation(stats.DateLayout, v, time.Local); err != nil {
			return c.HandleError(ctx, err, "start must be YYYY-MM-DD", http.StatusBadRequest)
		}
	}
	if v := ctx.QueryParam("end"); v != "" {
		if end, err = time.ParseInLocation(stats.DateLayout, v, time.Local); err != nil {
			return c.HandleError(ctx, err, "end must be YYYY-MM-DD", http.StatusBadRequest)
		}
	}
	if end.Before(start) {
		return c.HandleError(ctx, nil, "end must not be before start", http.StatusBadRequest)
	}

	target, err := c.stats.ExportURL(start, end)
	if err != nil {
		return c.HandleError(ctx, err, "Export is not configured", http.StatusServiceUnavailable)
	}
	return ctx.Redirect(http.StatusFound, target)
}
