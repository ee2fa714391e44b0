// Package options reads site backup settings and job state from the
// options database. The store never writes.
package options

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/sitebackup/internal/model"
	"github.com/edvin/sitebackup/internal/storage"
)

// Option names.
const (
	RelayEndpoint  = "relay_endpoint"
	RelaySiteToken = "relay_site_token"
	SiteID         = "site_id"
	TenantID       = "tenant_id"
)

// DB is the read subset of pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads the backup_options and backup_jobs tables.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Get returns one option. A missing option reports ok=false.
func (s *Store) Get(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM backup_options WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get option %s: %w", name, err)
	}
	return value, true, nil
}

// All returns every option.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT name, value FROM backup_options ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options: %w", err)
	}
	return out, nil
}

// ApplyRelay overrides the relay settings with the non-empty stored
// options.
func (s *Store) ApplyRelay(ctx context.Context, cfg *storage.RelayConfig) error {
	opts, err := s.All(ctx)
	if err != nil {
		return err
	}
	set := func(dst *string, name string) {
		if v := opts[name]; v != "" {
			*dst = v
		}
	}
	set(&cfg.Endpoint, RelayEndpoint)
	set(&cfg.SiteToken, RelaySiteToken)
	set(&cfg.SiteID, SiteID)
	set(&cfg.TenantID, TenantID)
	return nil
}

// Job returns the job record of a backup, or nil when the runner never
// recorded one.
func (s *Store) Job(ctx context.Context, backupID string) (*model.BackupJob, error) {
	var j model.BackupJob
	err := s.db.QueryRow(ctx,
		`SELECT backup_id, status, updated_at FROM backup_jobs WHERE backup_id = $1`, backupID,
	).Scan(&j.BackupID, &j.Status, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", backupID, err)
	}
	return &j, nil
}

// JobStatus returns the recorded job status of a backup, or "" when none
// exists.
func (s *Store) JobStatus(ctx context.Context, backupID string) (string, error) {
	j, err := s.Job(ctx, backupID)
	if err != nil || j == nil {
		return "", err
	}
	return j.Status, nil
}
