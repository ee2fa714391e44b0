package handler

import (
	"errors"
	"net/http"

	"github.com/edvin/sitebackup/internal/catalog"
	"github.com/edvin/sitebackup/internal/lock"
	"github.com/edvin/sitebackup/internal/storage"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lock.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, storage.ErrUnauthenticated):
		return http.StatusBadGateway
	case storage.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
