package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/edvin/sitebackup/internal/catalog"
	"github.com/edvin/sitebackup/internal/lock"
	"github.com/edvin/sitebackup/internal/storage"
)

// newRequest builds a request whose body is body encoded as JSON.
func newRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withChiURLParam sets a route parameter as chi would after matching.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	body := map[string]string{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: b9", catalog.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("download: %w", storage.ErrNotFound), http.StatusNotFound},
		{lock.ErrLocked, http.StatusConflict},
		{storage.ErrNotSupported, http.StatusNotImplemented},
		{storage.ErrUnauthenticated, http.StatusBadGateway},
		{&storage.TransientError{Op: "list", Err: errors.New("timeout")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
