package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mattwade/papermill/internal/convert"
	"github.com/mattwade/papermill/internal/history"
)

// mockConverter implements Converter for testing
type mockConverter struct {
	convertFunc   func(ctx context.Context, operationID, inputFormat, outputFormat, inputPath, outputPath string) convert.Result
	supportedFunc func(inputFormat, outputFormat string) bool
	pairs         []string
}

func (m *mockConverter) ConvertOperation(ctx context.Context, operationID, inputFormat, outputFormat, inputPath, outputPath string) convert.Result {
	if m.convertFunc != nil {
		return m.convertFunc(ctx, operationID, inputFormat, outputFormat, inputPath, outputPath)
	}
	return convert.Succeeded(outputPath, "soffice", time.Millisecond)
}

func (m *mockConverter) Supported(inputFormat, outputFormat string) bool {
	if m.supportedFunc != nil {
		return m.supportedFunc(inputFormat, outputFormat)
	}
	return true
}

func (m *mockConverter) Pairs() []string {
	return m.pairs
}

// mockHistory implements HistoryReader for testing
type mockHistory struct {
	getFunc    func(ctx context.Context, operationID string) (*history.Entry, error)
	recentFunc func(ctx context.Context, limit int) ([]history.Entry, error)
}

func (m *mockHistory) Get(ctx context.Context, operationID string) (*history.Entry, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, operationID)
	}
	return nil, nil
}

func (m *mockHistory) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if m.recentFunc != nil {
		return m.recentFunc(ctx, limit)
	}
	return nil, nil
}

// mockSlots implements SlotReporter for testing
type mockSlots struct {
	inUse, capacity int
}

func (m *mockSlots) InUse() int    { return m.inUse }
func (m *mockSlots) Capacity() int { return m.capacity }

func newTestServer(c *mockConverter, h *mockHistory) *Server {
	config := Config{
		Listen: "localhost:8080",
		APIKey: "test-key-123",
	}
	return New(config, c, h, &mockSlots{inUse: 1, capacity: 2}, slog.Default())
}

func authedRequest(method, target string, body []byte) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("Authorization", "Bearer test-key-123")
	return r
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	s := newTestServer(&mockConverter{}, &mockHistory{})
	router := s.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" || resp.SlotsInUse != 1 || resp.SlotsTotal != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleConvert_Success(t *testing.T) {
	var gotOp, gotIn, gotOut string
	c := &mockConverter{
		convertFunc: func(_ context.Context, operationID, inputFormat, outputFormat, inputPath, outputPath string) convert.Result {
			gotOp, gotIn, gotOut = operationID, inputFormat, outputFormat
			return convert.Succeeded(outputPath, "soffice", 250*time.Millisecond)
		},
	}
	s := newTestServer(c, &mockHistory{})
	router := s.setupRoutes()

	body, _ := json.Marshal(ConvertRequest{
		InputPath:  "/data/in/report.docx",
		OutputPath: "/data/out/report.pdf",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/convert", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp ConvertResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.OutputPath != "/data/out/report.pdf" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.OperationID == "" || resp.OperationID != gotOp {
		t.Errorf("operation id mismatch: resp=%q handler=%q", resp.OperationID, gotOp)
	}
	// Formats inferred from the file extensions.
	if gotIn != "docx" || gotOut != "pdf" {
		t.Errorf("inferred formats = %s -> %s, want docx -> pdf", gotIn, gotOut)
	}
	if resp.ElapsedMs != 250 {
		t.Errorf("ElapsedMs = %d, want 250", resp.ElapsedMs)
	}
}

func TestHandleConvert_FailureStillOK(t *testing.T) {
	c := &mockConverter{
		convertFunc: func(_ context.Context, _, _, _, _, _ string) convert.Result {
			return convert.Failed(convert.FailureTimeout, "conversion timed out after 30s", "soffice", 30*time.Second)
		},
	}
	s := newTestServer(c, &mockHistory{})
	router := s.setupRoutes()

	body, _ := json.Marshal(ConvertRequest{
		InputPath:  "/data/in/report.docx",
		OutputPath: "/data/out/report.pdf",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/convert", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ConvertResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Fatal("failed conversion reported success")
	}
	if resp.FailureKind != convert.FailureTimeout || !resp.Retryable {
		t.Fatalf("unexpected failure: %+v", resp)
	}
}

func TestHandleConvert_Unsupported(t *testing.T) {
	c := &mockConverter{
		supportedFunc: func(_, _ string) bool { return false },
	}
	s := newTestServer(c, &mockHistory{})
	router := s.setupRoutes()

	body, _ := json.Marshal(ConvertRequest{
		InputPath:  "/data/in/doc.unknown",
		OutputPath: "/data/out/doc.pdf",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/convert", body))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestHandleConvert_BadRequests(t *testing.T) {
	s := newTestServer(&mockConverter{}, &mockHistory{})
	router := s.setupRoutes()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing paths", `{}`},
		{"relative paths", `{"input_path":"in.docx","output_path":"out.pdf"}`},
		{"no extensions", `{"input_path":"/data/in/report","output_path":"/data/out/report"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/convert", []byte(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleConvert_ExplicitFormatsOverrideExtensions(t *testing.T) {
	var gotIn, gotOut string
	c := &mockConverter{
		convertFunc: func(_ context.Context, _, inputFormat, outputFormat, _, outputPath string) convert.Result {
			gotIn, gotOut = inputFormat, outputFormat
			return convert.Succeeded(outputPath, "soffice", time.Millisecond)
		},
	}
	s := newTestServer(c, &mockHistory{})
	router := s.setupRoutes()

	body, _ := json.Marshal(ConvertRequest{
		InputPath:    "/data/in/report.bin",
		OutputPath:   "/data/out/report.bin",
		InputFormat:  "docx",
		OutputFormat: "pdf",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/convert", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gotIn != "docx" || gotOut != "pdf" {
		t.Errorf("formats = %s -> %s, want docx -> pdf", gotIn, gotOut)
	}
}

func TestHandleFormats(t *testing.T) {
	c := &mockConverter{pairs: []string{"docx-pdf", "txt-txt"}}
	s := newTestServer(c, &mockHistory{})
	router := s.setupRoutes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/formats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp FormatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Pairs) != 2 || resp.Pairs[0] != "docx-pdf" {
		t.Fatalf("unexpected pairs: %v", resp.Pairs)
	}
}

func TestHandleListConversions(t *testing.T) {
	h := &mockHistory{
		recentFunc: func(_ context.Context, limit int) ([]history.Entry, error) {
			if limit != 10 {
				t.Errorf("limit = %d, want 10", limit)
			}
			return []history.Entry{{ID: "op-1", Success: true}}, nil
		},
	}
	s := newTestServer(&mockConverter{}, h)
	router := s.setupRoutes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/conversions?limit=10", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ConversionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Conversions) != 1 || resp.Conversions[0].ID != "op-1" {
		t.Fatalf("unexpected conversions: %+v", resp.Conversions)
	}
}

func TestHandleListConversions_EmptyIsArray(t *testing.T) {
	s := newTestServer(&mockConverter{}, &mockHistory{})
	router := s.setupRoutes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/conversions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !bytes.Contains([]byte(body), []byte(`"conversions":[]`)) {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestHandleGetConversion(t *testing.T) {
	h := &mockHistory{
		getFunc: func(_ context.Context, operationID string) (*history.Entry, error) {
			if operationID != "op-7" {
				return nil, nil
			}
			return &history.Entry{ID: "op-7", Success: true, Method: "soffice"}, nil
		},
	}
	s := newTestServer(&mockConverter{}, h)
	router := s.setupRoutes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/conversions/op-7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/conversions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := newTestServer(&mockConverter{}, &mockHistory{})
	router := s.setupRoutes()

	for _, target := range []string{"/api/v1/formats", "/api/v1/conversions"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without auth: status = %d, want 401", target, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/formats", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}
}
