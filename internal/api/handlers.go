package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mattwade/papermill/internal/history"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		SlotsInUse:    s.slots.InUse(),
		SlotsTotal:    s.slots.Capacity(),
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleConvert handles POST /api/v1/convert. The conversion runs within the
// request; the response carries the full outcome either way.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.InputPath == "" || req.OutputPath == "" {
		s.writeError(w, http.StatusBadRequest, "input_path and output_path are required")
		return
	}
	if !filepath.IsAbs(req.InputPath) || !filepath.IsAbs(req.OutputPath) {
		s.writeError(w, http.StatusBadRequest, "input_path and output_path must be absolute")
		return
	}

	inputFormat := req.InputFormat
	if inputFormat == "" {
		inputFormat = formatFromPath(req.InputPath)
	}
	outputFormat := req.OutputFormat
	if outputFormat == "" {
		outputFormat = formatFromPath(req.OutputPath)
	}
	if inputFormat == "" || outputFormat == "" {
		s.writeError(w, http.StatusBadRequest, "formats could not be inferred from paths; set input_format and output_format")
		return
	}

	if !s.converter.Supported(inputFormat, outputFormat) {
		s.writeError(w, http.StatusUnprocessableEntity, "unsupported conversion: "+inputFormat+" -> "+outputFormat)
		return
	}

	operationID := uuid.NewString()
	res := s.converter.ConvertOperation(r.Context(), operationID, inputFormat, outputFormat, req.InputPath, req.OutputPath)

	resp := ConvertResponse{
		OperationID:  operationID,
		Success:      res.Success,
		OutputPath:   res.OutputPath,
		Method:       res.Method,
		FailureKind:  res.Kind,
		Error:        res.Error,
		ElapsedMs:    res.ElapsedMs,
		Retryable:    res.Kind.Retryable(),
		InputFormat:  inputFormat,
		OutputFormat: outputFormat,
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleFormats handles GET /api/v1/formats.
func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, FormatsResponse{Pairs: s.converter.Pairs()})
}

// handleListConversions handles GET /api/v1/conversions.
func (s *Server) handleListConversions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.hist.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list conversions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list conversions")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondJSON(w, http.StatusOK, ConversionsResponse{Conversions: entries})
}

// handleGetConversion handles GET /api/v1/conversions/{operationID}.
func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	operationID := chi.URLParam(r, "operationID")

	entry, err := s.hist.Get(r.Context(), operationID)
	if err != nil {
		s.logger.Error("failed to retrieve conversion", "operation_id", operationID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve conversion")
		return
	}
	if entry == nil {
		s.writeError(w, http.StatusNotFound, "conversion not found")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// formatFromPath returns the lowercased extension without the dot.
func formatFromPath(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
