// Package testutil provides shared helpers for HTTP handler tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// Get serves a GET for target through h and returns the recorded response.
func Get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// DecodeJSON decodes the recorded body into a T, failing the test on
// malformed JSON or a non-JSON content type.
func DecodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return v
}

// AssertJSONError checks for an error response with the given status and a
// non-empty "error" message, and returns that message.
func AssertJSONError(t *testing.T, rec *httptest.ResponseRecorder, status int) string {
	t.Helper()
	AssertStatusCode(t, rec.Code, status)
	body := DecodeJSON[map[string]string](t, rec)
	if body["error"] == "" {
		t.Errorf("response %v has no error message", body)
	}
	return body["error"]
}
