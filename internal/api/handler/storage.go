package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/edvin/sitebackup/internal/api/request"
	"github.com/edvin/sitebackup/internal/api/response"
	"github.com/edvin/sitebackup/internal/storage"
)

type Storage struct {
	adapter storage.Adapter
}

func NewStorage(adapter storage.Adapter) *Storage {
	return &Storage{adapter: adapter}
}

// ConnectionResult reports a connection test. A failed test is still a
// successful request.
type ConnectionResult struct {
	OK              bool   `json:"ok"`
	Backend         string `json:"backend"`
	Name            string `json:"name"`
	Error           string `json:"error,omitempty"`
	Unauthenticated bool   `json:"unauthenticated,omitempty"`
	Transient       bool   `json:"transient,omitempty"`
}

func (h *Storage) Test(w http.ResponseWriter, r *http.Request) {
	res := ConnectionResult{Backend: h.adapter.Backend(), Name: h.adapter.Name()}
	if err := h.adapter.TestConnection(r.Context()); err != nil {
		res.Error = err.Error()
		res.Unauthenticated = errors.Is(err, storage.ErrUnauthenticated)
		res.Transient = storage.IsTransient(err)
	} else {
		res.OK = true
	}
	response.WriteJSON(w, http.StatusOK, res)
}

type signedURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Storage) SignedURL(w http.ResponseWriter, r *http.Request) {
	var req request.SignedURL
	if err := request.Decode(w, r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ttl := req.TTL()
	url, err := h.adapter.SignedURL(r.Context(), req.Key, ttl)
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, signedURLResponse{URL: url, ExpiresAt: time.Now().UTC().Add(ttl)})
}
