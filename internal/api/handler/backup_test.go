package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/sitebackup/internal/catalog"
	"github.com/edvin/sitebackup/internal/lock"
	"github.com/edvin/sitebackup/internal/model"
	"github.com/edvin/sitebackup/internal/storage"
)

func TestBackup_List(t *testing.T) {
	svc := &mockCatalog{}
	h := NewBackup(svc)
	entries := []model.CatalogEntry{
		{BackupID: "b2", Provenance: model.ProvenanceRemote, Status: model.StatusCompleted},
		{BackupID: "b1", Provenance: model.ProvenanceLocal, Status: model.StatusUnknown},
	}
	svc.On("List", mock.Anything).Return(entries, nil)

	rec := httptest.NewRecorder()
	h.List(rec, newRequest("GET", "/v1/backups", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []model.CatalogEntry `json:"items"`
		Count int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "b2", body.Items[0].BackupID)
}

func TestBackup_List_Empty(t *testing.T) {
	svc := &mockCatalog{}
	svc.On("List", mock.Anything).Return(nil, nil)

	rec := httptest.NewRecorder()
	NewBackup(svc).List(rec, newRequest("GET", "/v1/backups", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"count":0}`, rec.Body.String())
}

func TestBackup_Get(t *testing.T) {
	svc := &mockCatalog{}
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.On("Get", mock.Anything, "b1").Return(&model.CatalogEntry{BackupID: "b1", CreatedAt: created}, nil)
	svc.On("Get", mock.Anything, "nope").Return(nil, fmt.Errorf("%w: nope", catalog.ErrNotFound))

	h := NewBackup(svc)

	rec := httptest.NewRecorder()
	h.Get(rec, withChiURLParam(newRequest("GET", "/v1/backups/b1", nil), "backupID", "b1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var entry model.CatalogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, created, entry.CreatedAt)

	rec = httptest.NewRecorder()
	h.Get(rec, withChiURLParam(newRequest("GET", "/v1/backups/nope", nil), "backupID", "nope"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "backup not found")
}

func TestBackup_Get_MissingID(t *testing.T) {
	rec := httptest.NewRecorder()
	NewBackup(&mockCatalog{}).Get(rec, withChiURLParam(newRequest("GET", "/v1/backups/", nil), "backupID", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackup_Delete(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"ok", nil, http.StatusNoContent},
		{"locked", fmt.Errorf("delete b1: %w", lock.ErrLocked), http.StatusConflict},
		{"unauthenticated", fmt.Errorf("list: %w", storage.ErrUnauthenticated), http.StatusBadGateway},
		{"transient", &storage.TransientError{Op: "delete", StatusCode: 503, Err: errors.New("unavailable")}, http.StatusServiceUnavailable},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCatalog{}
			svc.On("Delete", mock.Anything, "b1").Return(tt.err)

			rec := httptest.NewRecorder()
			NewBackup(svc).Delete(rec, withChiURLParam(newRequest("DELETE", "/v1/backups/b1", nil), "backupID", "b1"))

			assert.Equal(t, tt.wantStatus, rec.Code)
			svc.AssertExpectations(t)
		})
	}
}
