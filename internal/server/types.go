// Package server provides the HTTP surface of the frame-extraction service.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateExtractionRequest is the upload accepted by POST /extractions,
// assembled from the multipart form.
type CreateExtractionRequest struct {
	// FileName is the client-side file name of the "video" part.
	FileName string `validate:"required,max=255"`
	// ContentType is the declared MIME type of the "video" part.
	ContentType string `validate:"required,startswith=video/"`
	// Size is the upload size in bytes.
	Size int64 `validate:"gt=0"`
	// PushToS3 indicates whether to export both frames to S3.
	PushToS3 bool
}

// CreateExtractionResponse is the HTTP response after accepting an upload.
type CreateExtractionResponse struct {
	// ID is the unique identifier for the created extraction.
	ID string `json:"id"`
	// Status is the initial status.
	Status string `json:"status"`
}

// MetadataResponse describes the source video.
type MetadataResponse struct {
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	// Summary is the human-readable line, e.g. "0:04 • 1.5 MB • 1920x1080".
	Summary string `json:"summary"`
}

// FramesResponse holds both frames as data URLs, or as S3 URLs when the
// extraction was exported.
type FramesResponse struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

// TraceLine is one diagnostic log line.
type TraceLine struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// ExtractionResponse is the HTTP response for getting extraction details.
type ExtractionResponse struct {
	// ID is the unique identifier for the extraction.
	ID string `json:"id"`
	// Status is the current status.
	Status string `json:"status"`
	// Metadata is set once the extraction completed.
	Metadata *MetadataResponse `json:"metadata,omitempty"`
	// Frames is set once the extraction completed.
	Frames *FramesResponse `json:"frames,omitempty"`
	// Error contains the error message if the extraction failed.
	Error string `json:"error,omitempty"`
	// ErrorKind is the machine-readable failure kind.
	ErrorKind string `json:"error_kind,omitempty"`
	// Trace is the diagnostic log so far.
	Trace []TraceLine `json:"trace"`
}

// TraceEvent is a message on the trace websocket: either a trace line or
// the final status.
type TraceEvent struct {
	// Type is "trace" or "status".
	Type      string     `json:"type"`
	At        *time.Time `json:"at,omitempty"`
	Message   string     `json:"message,omitempty"`
	Status    string     `json:"status,omitempty"`
	ErrorKind string     `json:"error_kind,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
