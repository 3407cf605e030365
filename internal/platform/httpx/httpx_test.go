package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finitefield/pos-api/internal/platform/requestctx"
)

func TestWriteErrorIncludesRequestAndTrace(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("order_not_found", "order\nnot found", http.StatusNotFound).
		WithDetails(map[string]any{"order_id": "ord_1", "status": "overridden"}))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "order_not_found", body["error"])
	assert.Equal(t, "order not found", body["message"])
	assert.EqualValues(t, http.StatusNotFound, body["status"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "trace-1", body["trace_id"])
	assert.Equal(t, "ord_1", body["order_id"])
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	var dst payload
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"pho"}`))
	require.NoError(t, DecodeJSON(req, 64, &dst))
	assert.Equal(t, "pho", dst.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	require.NoError(t, DecodeJSON(req, 64, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"pho","extra":1}`))
	assert.Error(t, DecodeJSON(req, 64, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("x", 100)+`"}`))
	err := DecodeJSON(req, 16, &dst)
	assert.True(t, errors.Is(err, ErrBodyTooLarge))

	rr := httptest.NewRecorder()
	WriteDecodeError(rr, req, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
