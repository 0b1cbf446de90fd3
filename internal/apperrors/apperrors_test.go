package apperrors

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusPerKind(t *testing.T) {
	cases := []struct {
		err      *Error
		wantCode int
	}{
		{Validation("bad input", "phone"), http.StatusBadRequest},
		{Authentication(""), http.StatusUnauthorized},
		{Authorization(""), http.StatusForbidden},
		{NotFound("account", "123"), http.StatusNotFound},
		{ExternalService("crm", "timeout", nil), http.StatusBadGateway},
		{Token("reauthorize", "acct-1"), http.StatusUnauthorized},
		{RateLimit(30), http.StatusTooManyRequests},
		{Conversation("bad transition", "conv-1"), http.StatusBadRequest},
		{BusinessLogic("tier in use", nil), http.StatusBadRequest},
		{Configuration("missing secret", nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.wantCode, tc.err.HTTPStatus(), tc.err.Code)
	}
}

func TestMarshalJSONEnvelope(t *testing.T) {
	err := Validation("phone is required", "phone")
	data, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	inner := decoded["error"]
	assert.Equal(t, "VALIDATION_ERROR", inner["code"])
	assert.Equal(t, "phone is required", inner["message"])
	assert.Equal(t, "phone", inner["details"].(map[string]any)["field"])
}

func TestAsUnwrapsChain(t *testing.T) {
	cause := ExternalService("crm", "503", nil)
	wrapped := &wrapErr{inner: cause}

	found, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindExternalService, found.Kind)
}

type wrapErr struct{ inner error }

func (w *wrapErr) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrapErr) Unwrap() error { return w.inner }

func TestRateLimitRetryAfterHeader(t *testing.T) {
	rec := &headerRecorder{header: http.Header{}}
	WriteJSON(rec, RateLimit(42))
	assert.Equal(t, "42", rec.header.Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, rec.status)
}

type headerRecorder struct {
	header http.Header
	status int
	body   []byte
}

func (r *headerRecorder) Header() http.Header { return r.header }
func (r *headerRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return len(b), nil
}
func (r *headerRecorder) WriteHeader(statusCode int) { r.status = statusCode }
