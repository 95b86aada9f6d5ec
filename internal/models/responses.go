package models

import (
	"time"

	"jobmail/internal/processor"
	"jobmail/internal/storage"
)

// HealthResponse represents a basic health check response
type HealthResponse struct {
	Status    string    `json:"status"`    // Health status
	Timestamp time.Time `json:"timestamp"` // Timestamp of the check
	Version   string    `json:"version"`   // Application version
	Provider  string    `json:"provider"`  // Classification backend in use
}

// DBHealthResponse represents a state store health check response
type DBHealthResponse struct {
	Status    string        `json:"status"`          // Health status
	Timestamp time.Time     `json:"timestamp"`       // Timestamp of the check
	Connected bool          `json:"connected"`       // Database connection status
	Latency   time.Duration `json:"latency"`         // Ping latency
	Error     string        `json:"error,omitempty"` // Error message if any
}

// RunRequest is the optional body of POST /api/run. Dates are YYYY-MM-DD.
type RunRequest struct {
	Query  string `json:"query"`
	After  string `json:"after"`
	Before string `json:"before"`
	Limit  int    `json:"limit"`
	DryRun bool   `json:"dry_run"`
}

// RunResponse wraps the statistics of a finished run.
type RunResponse struct {
	Stats *processor.RunStats `json:"stats"`
	Error string              `json:"error,omitempty"`
}

// StatsResponse is the store-wide view of processed messages.
type StatsResponse struct {
	Stats  storage.Stats    `json:"stats"`
	Recent []storage.Record `json:"recent"`
}

// ResetResponse reports how many records a reset deleted.
type ResetResponse struct {
	Deleted int64 `json:"deleted"`
}

// ErrorResponse is returned for every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}
