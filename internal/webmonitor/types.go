package webmonitor

import (
	"github.com/dj-oyu/road-hazard-dashboard/internal/archive"
	"github.com/dj-oyu/road-hazard-dashboard/internal/recorder"
)

// ErrorResponse is the body of every failed dashboard request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the payload for /healthz.
type HealthResponse struct {
	Status       string  `json:"status"`
	CameraActive bool    `json:"camera_active"`
	Polling      bool    `json:"polling"`
	Backend      string  `json:"backend"`
	Version      uint64  `json:"version"`
	Timestamp    float64 `json:"timestamp"`
}

// HistoryResponse is the payload for /api/hazards/history.
type HistoryResponse struct {
	Events []archive.Entry `json:"events"`
	Total  int             `json:"total"`
}

// RecordingResponse is returned by the recording start and stop endpoints.
type RecordingResponse struct {
	Status string                    `json:"status"`
	File   string                    `json:"file"`
	Stats  *recorder.RecordingStatus `json:"stats,omitempty"`
	At     float64                   `json:"at"`
}
