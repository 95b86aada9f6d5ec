package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"jobmail/internal/mailbox"
	"jobmail/internal/models"
	"jobmail/internal/processor"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Processor is what the job endpoints drive.
type Processor interface {
	RunBatch(ctx context.Context, ro processor.RunOptions) (*processor.RunStats, error)
	Stats(ctx context.Context, recent int) (*processor.Report, error)
	Reset(ctx context.Context) (int64, error)
}

// RunHandler triggers one batch run. Only one run may be in flight; a
// second request gets 409 instead of queueing behind the first.
func RunHandler(p Processor, running *sync.Mutex, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req models.RunRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		}
		if req.Limit < 0 {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "limit must not be negative"})
		}

		ro := processor.RunOptions{Query: req.Query, Limit: req.Limit, DryRun: req.DryRun}
		var err error
		if req.After != "" {
			if ro.After, err = mailbox.ParseDate(req.After); err != nil {
				return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			}
		}
		if req.Before != "" {
			if ro.Before, err = mailbox.ParseDate(req.Before); err != nil {
				return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			}
		}

		if !running.TryLock() {
			return c.JSON(http.StatusConflict, models.ErrorResponse{Error: "A run is already in progress"})
		}
		defer running.Unlock()

		stats, err := p.RunBatch(c.Request().Context(), ro)
		if err != nil {
			logger.Error().Err(err).Msg("Run failed")
			return c.JSON(http.StatusInternalServerError, models.RunResponse{Stats: stats, Error: err.Error()})
		}
		return c.JSON(http.StatusOK, models.RunResponse{Stats: stats})
	}
}

// StatsHandler returns the store-wide counts and the most recent records.
func StatsHandler(p Processor) echo.HandlerFunc {
	return func(c echo.Context) error {
		recent := 0
		if v := c.QueryParam("recent"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "recent must be a non-negative integer"})
			}
			recent = n
		}

		report, err := p.Stats(c.Request().Context(), recent)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, models.StatsResponse{Stats: report.Stats, Recent: report.Recent})
	}
}

// ResetHandler clears the state store. It requires ?confirm=true and is
// refused while a run is in flight.
func ResetHandler(p Processor, running *sync.Mutex, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.QueryParam("confirm") != "true" {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Reset requires confirm=true"})
		}
		if !running.TryLock() {
			return c.JSON(http.StatusConflict, models.ErrorResponse{Error: "A run is in progress"})
		}
		defer running.Unlock()

		n, err := p.Reset(c.Request().Context())
		if err != nil {
			logger.Error().Err(err).Msg("Reset failed")
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, models.ResetResponse{Deleted: n})
	}
}
