package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDMiddleware_AssignsNewID(t *testing.T) {
	mw := NewRequestIDMiddleware()

	var idInContext string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idInContext = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if idInContext == "" {
		t.Fatal("expected request ID in context")
	}
	if _, err := uuid.Parse(idInContext); err != nil {
		t.Errorf("request ID should be a valid UUID, got %q", idInContext)
	}

	headerID := w.Result().Header.Get("X-Request-ID")
	if headerID != idInContext {
		t.Errorf("header ID = %q, context ID = %q, want same", headerID, idInContext)
	}
}

func TestRequestIDMiddleware_ReusesValidIncomingID(t *testing.T) {
	mw := NewRequestIDMiddleware()

	incoming := uuid.NewString()

	var idInContext string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idInContext = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Request-ID", incoming)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if idInContext != incoming {
		t.Errorf("context ID = %q, want %q", idInContext, incoming)
	}
}

func TestRequestIDMiddleware_ReplacesInvalidIncomingID(t *testing.T) {
	mw := NewRequestIDMiddleware()

	var idInContext string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idInContext = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if idInContext == "not-a-uuid" {
		t.Error("invalid incoming ID should be replaced")
	}
	if _, err := uuid.Parse(idInContext); err != nil {
		t.Errorf("request ID should be a valid UUID, got %q", idInContext)
	}
}

func TestRequestIDFromContext_MissingReturnsEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)

	if id := RequestIDFromContext(req.Context()); id != "" {
		t.Errorf("request ID = %q, want empty", id)
	}
}
