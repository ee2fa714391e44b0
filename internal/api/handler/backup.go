package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/sitebackup/internal/api/request"
	"github.com/edvin/sitebackup/internal/api/response"
	"github.com/edvin/sitebackup/internal/model"
)

// Catalog is the catalog service surface the handlers use.
type Catalog interface {
	List(ctx context.Context) ([]model.CatalogEntry, error)
	Get(ctx context.Context, backupID string) (*model.CatalogEntry, error)
	Delete(ctx context.Context, backupID string) error
}

type Backup struct {
	svc Catalog
}

func NewBackup(svc Catalog) *Backup {
	return &Backup{svc: svc}
}

func (h *Backup) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	if entries == nil {
		entries = []model.CatalogEntry{}
	}
	response.WriteList(w, http.StatusOK, entries, len(entries))
}

func (h *Backup) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.BackupID(chi.URLParam(r, "backupID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, entry)
}

func (h *Backup) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.BackupID(chi.URLParam(r, "backupID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
