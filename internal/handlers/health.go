package handlers

import (
	"context"
	"net/http"
	"time"

	"jobmail/internal/database"
	"jobmail/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
)

// HealthHandler handles basic health check requests
func HealthHandler(version, provider string) echo.HandlerFunc {
	return func(c echo.Context) error {
		response := models.HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Version:   version,
			Provider:  provider,
		}

		return c.JSON(http.StatusOK, response)
	}
}

// DBHealthHandler checks that the state store answers queries
func DBHealthHandler(db *sqlx.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		response := models.DBHealthResponse{
			Status:    "unknown",
			Timestamp: time.Now().UTC(),
		}

		if db == nil {
			response.Status = "unhealthy"
			response.Error = "Database connection not initialized"
			return c.JSON(http.StatusServiceUnavailable, response)
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		start := time.Now()
		err := database.Ping(ctx, db)
		response.Latency = time.Since(start)

		if err != nil {
			response.Status = "unhealthy"
			response.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, response)
		}

		response.Status = "healthy"
		response.Connected = true
		return c.JSON(http.StatusOK, response)
	}
}

// RootHandler handles requests to the root endpoint
func RootHandler(version string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"service": "jobmail",
			"version": version,
			"status":  "running",
		})
	}
}
