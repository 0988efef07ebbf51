package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSSetsHeadersAndCallsNext(t *testing.T) {
	reached := false
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/quiz/today", nil)
	handler.ServeHTTP(rec, req)

	if !reached {
		t.Error("expected the wrapped handler to run for a non-OPTIONS request")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected Access-Control-Allow-Origin to be set")
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Access-Control-Allow-Methods to be set")
	}
}

func TestCORSShortCircuitsPreflight(t *testing.T) {
	reached := false
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/quiz/today", nil)
	handler.ServeHTTP(rec, req)

	if reached {
		t.Error("expected an OPTIONS preflight to never reach the wrapped handler")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected preflight to return 200, got %d", rec.Code)
	}
}
