package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/sitewatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Error Response Tests - Security Focus
// =============================================================================

func TestErrorResponse_DoesNotExposeOperationName(t *testing.T) {
	err := domain.Invalid("HazardService.Create", "violation type is required")

	req := httptest.NewRequest("POST", "/api/cameras/cam-01/frames", nil)
	rec := httptest.NewRecorder()
	ErrorResponse(rec, req, testLogger(), err)

	body := rec.Body.String()
	if strings.Contains(body, "HazardService") {
		t.Errorf("response exposes internal operation name: %s", body)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var got JSONError
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if got.Status != "error" || got.Kind != domain.EINVALID || got.Message != "violation type is required" {
		t.Errorf("unexpected body: %+v", got)
	}
}

func TestErrorResponse_HidesWrappedErrors(t *testing.T) {
	err := domain.Internal(errors.New("pq: connection refused to 10.0.0.7"), "hazard.list", "could not list hazards")

	req := httptest.NewRequest("GET", "/api/cameras/cam-01/hazards", nil)
	rec := httptest.NewRecorder()
	ErrorResponse(rec, req, testLogger(), err)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.7") {
		t.Errorf("response exposes wrapped error: %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"", http.StatusOK},
		{domain.EINVALID, http.StatusBadRequest},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.ETOOLARGE, http.StatusRequestEntityTooLarge},
		{domain.ERATELIMIT, http.StatusTooManyRequests},
		{domain.EPROVIDER, http.StatusBadGateway},
		{domain.EPARSE, http.StatusBadGateway},
		{domain.EPERSIST, http.StatusServiceUnavailable},
		{domain.ERECONCILE, http.StatusUnprocessableEntity},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{"something_new", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ErrorCodeToHTTPStatus(tt.code); got != tt.want {
				t.Errorf("ErrorCodeToHTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestNotFoundResponse(t *testing.T) {
	req := httptest.NewRequest("GET", "/nowhere", nil)
	rec := httptest.NewRecorder()
	NotFoundResponse(rec, req, testLogger())

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"kind":"not_found"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}
