// Package testutil holds helpers shared by handler tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lagerkoll/internal/platform/middleware"
	dErrors "lagerkoll/pkg/domain-errors"
)

// Tokens is a middleware.TokenValidator backed by a fixed token table.
type Tokens map[string]middleware.Claims

func (t Tokens) ValidateToken(token string) (*middleware.Claims, error) {
	c, ok := t[token]
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return &c, nil
}

// Test tokens understood by StandardTokens.
const (
	AdminToken  = "admin-token"
	WorkerToken = "worker-token"
)

// StandardTokens returns a validator knowing one admin and one worker.
func StandardTokens(adminID, workerID uuid.UUID) Tokens {
	return Tokens{
		AdminToken:  {UserID: adminID, Role: middleware.RoleAdmin},
		WorkerToken: {UserID: workerID, Role: "worker"},
	}
}

// NewJSONRequest creates a request whose body is body marshaled to JSON.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithBearer sets the Authorization header.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// DoRequest serves req and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// DecodeResponse unmarshals the response body into a T.
func DecodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "failed to unmarshal response: %s", rr.Body.String())
	return out
}

// AssertStatusAndError checks the status and the "error" field of the envelope.
func AssertStatusAndError(t *testing.T, rr *httptest.ResponseRecorder, status int, code dErrors.Code) {
	t.Helper()
	assert.Equal(t, status, rr.Code, "unexpected status code: %s", rr.Body.String())
	var env map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), "failed to unmarshal error response")
	assert.Equal(t, string(code), env["error"], "unexpected error code")
}
