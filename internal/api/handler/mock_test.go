package handler

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/sitebackup/internal/model"
	"github.com/edvin/sitebackup/internal/storage"
)

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) List(ctx context.Context) ([]model.CatalogEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CatalogEntry), args.Error(1)
}

func (m *mockCatalog) Get(ctx context.Context, backupID string) (*model.CatalogEntry, error) {
	args := m.Called(ctx, backupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CatalogEntry), args.Error(1)
}

func (m *mockCatalog) Delete(ctx context.Context, backupID string) error {
	return m.Called(ctx, backupID).Error(0)
}

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Backend() string { return storage.BackendS3 }
func (m *mockAdapter) Name() string    { return "MinIO" }

func (m *mockAdapter) Upload(ctx context.Context, localPath, remoteKey string) (*storage.UploadResult, error) {
	args := m.Called(ctx, localPath, remoteKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.UploadResult), args.Error(1)
}

func (m *mockAdapter) Download(ctx context.Context, remoteKey, localPath string) (int64, error) {
	args := m.Called(ctx, remoteKey, localPath)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAdapter) Delete(ctx context.Context, remoteKey string) error {
	return m.Called(ctx, remoteKey).Error(0)
}

func (m *mockAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockAdapter) TestConnection(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockAdapter) SignedURL(ctx context.Context, remoteKey string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, remoteKey, ttl)
	return args.String(0), args.Error(1)
}
