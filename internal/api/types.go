package api

import (
	"github.com/mattwade/papermill/internal/convert"
	"github.com/mattwade/papermill/internal/history"
)

// ConvertRequest is the JSON body for POST /api/v1/convert
type ConvertRequest struct {
	InputPath    string `json:"input_path"`
	OutputPath   string `json:"output_path"`
	InputFormat  string `json:"input_format,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

// ConvertResponse is returned for a completed conversion
type ConvertResponse struct {
	OperationID  string              `json:"operation_id"`
	Success      bool                `json:"success"`
	OutputPath   string              `json:"output_path,omitempty"`
	Method       string              `json:"method,omitempty"`
	FailureKind  convert.FailureKind `json:"failure_kind,omitempty"`
	Error        string              `json:"error,omitempty"`
	ElapsedMs    int64               `json:"elapsed_ms"`
	Retryable    bool                `json:"retryable"`
	InputFormat  string              `json:"input_format"`
	OutputFormat string              `json:"output_format"`
}

// FormatsResponse is returned by GET /api/v1/formats
type FormatsResponse struct {
	Pairs []string `json:"pairs"`
}

// ConversionsResponse is returned by GET /api/v1/conversions
type ConversionsResponse struct {
	Conversions []history.Entry `json:"conversions"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	SlotsInUse    int    `json:"slots_in_use"`
	SlotsTotal    int    `json:"slots_total"`
}
