package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/sitebackup/internal/model"
)

const defaultDownloadTTL = 15 * time.Minute

// RelayAdapter talks to a broker that hands out short-lived single-use
// URLs for each chunk transfer.
type RelayAdapter struct {
	cfg      RelayConfig
	logger   zerolog.Logger
	control  *http.Client
	transfer *http.Client
}

// NewRelayAdapter creates a relay adapter. The config is validated lazily so
// missing credentials surface as ErrUnauthenticated on first use.
func NewRelayAdapter(cfg RelayConfig, logger zerolog.Logger) *RelayAdapter {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	cfg.ControlTimeout = orDefault(cfg.ControlTimeout, DefaultControlTimeout)
	cfg.TransferTimeout = orDefault(cfg.TransferTimeout, DefaultTransferTimeout)
	return &RelayAdapter{
		cfg:    cfg,
		logger: logger.With().Str("component", "relay-adapter").Logger(),
		control: &http.Client{
			Timeout: cfg.ControlTimeout,
		},
		transfer: &http.Client{
			Timeout: cfg.TransferTimeout,
		},
	}
}

func (a *RelayAdapter) Backend() string { return BackendRelay }

func (a *RelayAdapter) Name() string { return "Cloud Relay" }

type uploadGrantRequest struct {
	SiteToken     string `json:"site_token"`
	ChunkSequence int    `json:"chunk_sequence"`
	SizeBytes     int64  `json:"size_bytes,omitempty"`
	Checksum      string `json:"checksum,omitempty"`
}

type uploadGrant struct {
	UploadURL string `json:"upload_url"`
	ChunkID   string `json:"chunk_id"`
	Path      string `json:"path"`
}

type downloadGrantRequest struct {
	SiteToken     string `json:"site_token"`
	ChunkSequence int    `json:"chunk_sequence"`
	TTLSeconds    int    `json:"ttl_seconds,omitempty"`
}

type downloadGrant struct {
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type brokerError struct {
	Error string `json:"error"`
}

func (a *RelayAdapter) checkCredentials(op string) error {
	if a.cfg.SiteToken == "" || a.cfg.SiteID == "" {
		return unauthenticated(op, "site credentials are not configured")
	}
	if a.cfg.Endpoint == "" {
		return fmt.Errorf("%s: relay endpoint is not configured", op)
	}
	return nil
}

// Upload requests a fresh grant and PUTs the chunk to it. A failed PUT is
// reported as transient; retrying calls Upload again, which requests a new
// grant.
func (a *RelayAdapter) Upload(ctx context.Context, localPath, remoteKey string) (*UploadResult, error) {
	const op = "relay upload"
	if err := a.checkCredentials(op); err != nil {
		return nil, err
	}
	pk, err := ParseKey(remoteKey)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("%s: open %s: %w", op, localPath, err)
	}
	defer f.Close()

	checksum, size, err := HashReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: hash %s: %w", op, localPath, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%s: rewind %s: %w", op, localPath, err)
	}

	var grant uploadGrant
	err = a.doJSON(ctx, "request upload grant", http.MethodPost,
		fmt.Sprintf("/api/v1/backups/%s/upload-url", url.PathEscape(pk.BackupID)),
		uploadGrantRequest{
			SiteToken:     a.cfg.SiteToken,
			ChunkSequence: pk.Sequence,
			SizeBytes:     size,
			Checksum:      checksum,
		}, &grant)
	if err != nil {
		return nil, err
	}
	if grant.UploadURL == "" {
		return nil, &TransientError{Op: op, Err: errors.New("broker returned an empty upload url")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, grant.UploadURL, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.transfer.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("upload url rejected chunk %d", pk.Sequence)}
	}

	a.logger.Debug().
		Str("key", remoteKey).
		Str("chunk_id", grant.ChunkID).
		Int64("size", size).
		Msg("chunk stored via relay")

	return &UploadResult{RemoteKey: remoteKey, SizeBytes: size}, nil
}

func (a *RelayAdapter) downloadURL(ctx context.Context, op, remoteKey string, ttl time.Duration) (string, error) {
	if err := a.checkCredentials(op); err != nil {
		return "", err
	}
	pk, err := ParseKey(remoteKey)
	if err != nil {
		return "", err
	}

	var grant downloadGrant
	err = a.doJSON(ctx, "request download grant", http.MethodPost,
		fmt.Sprintf("/api/v1/backups/%s/download-url", url.PathEscape(pk.BackupID)),
		downloadGrantRequest{
			SiteToken:     a.cfg.SiteToken,
			ChunkSequence: pk.Sequence,
			TTLSeconds:    int(ttl / time.Second),
		}, &grant)
	if err != nil {
		return "", err
	}
	if grant.DownloadURL == "" {
		return "", &TransientError{Op: op, Err: errors.New("broker returned an empty download url")}
	}
	return grant.DownloadURL, nil
}

// Download requests a download grant and streams the object to localPath.
func (a *RelayAdapter) Download(ctx context.Context, remoteKey, localPath string) (int64, error) {
	const op = "relay download"
	u, err := a.downloadURL(ctx, op, remoteKey, defaultDownloadTTL)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := a.transfer.Do(req)
	if err != nil {
		return 0, classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("%s %s: %w", op, remoteKey, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("download url rejected %s", remoteKey)}
	}
	return writeAtomically(localPath, resp.Body)
}

// Delete removes the chunk record and object at the broker.
func (a *RelayAdapter) Delete(ctx context.Context, remoteKey string) error {
	const op = "relay delete"
	if err := a.checkCredentials(op); err != nil {
		return err
	}
	pk, err := ParseKey(remoteKey)
	if err != nil {
		return err
	}

	err = a.doJSON(ctx, op, http.MethodDelete,
		fmt.Sprintf("/api/v1/backups/%s/chunks/%d", url.PathEscape(pk.BackupID), pk.Sequence), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// List returns the keys under prefix known to the broker.
func (a *RelayAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	const op = "relay list"
	if err := a.checkCredentials(op); err != nil {
		return nil, err
	}
	var out struct {
		Keys []string `json:"keys"`
	}
	path := fmt.Sprintf("/api/v1/sites/%s/objects?prefix=%s", url.PathEscape(a.cfg.SiteID), url.QueryEscape(prefix))
	if err := a.doJSON(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// TestConnection fetches the site record, which needs a valid site token
// but writes nothing.
func (a *RelayAdapter) TestConnection(ctx context.Context) error {
	const op = "relay test connection"
	if err := a.checkCredentials(op); err != nil {
		return err
	}
	return a.doJSON(ctx, op, http.MethodGet, fmt.Sprintf("/api/v1/sites/%s", url.PathEscape(a.cfg.SiteID)), nil, nil)
}

// SignedURL returns a broker-issued download URL valid for ttl.
func (a *RelayAdapter) SignedURL(ctx context.Context, remoteKey string, ttl time.Duration) (string, error) {
	return a.downloadURL(ctx, "relay signed url", remoteKey, ttl)
}

// RemoteRecords returns the backup records the broker keeps for the site.
// Records that fail to decode are skipped.
func (a *RelayAdapter) RemoteRecords(ctx context.Context) ([]model.RemoteRecord, error) {
	const op = "relay list backups"
	if err := a.checkCredentials(op); err != nil {
		return nil, err
	}
	var out struct {
		Backups []json.RawMessage `json:"backups"`
	}
	if err := a.doJSON(ctx, op, http.MethodGet, fmt.Sprintf("/api/v1/sites/%s/backups", url.PathEscape(a.cfg.SiteID)), nil, &out); err != nil {
		return nil, err
	}

	records := make([]model.RemoteRecord, 0, len(out.Backups))
	for _, raw := range out.Backups {
		var rec model.RemoteRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			a.logger.Warn().Err(err).Msg("skipping undecodable backup record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// doJSON performs a control-plane call bounded by the control timeout.
func (a *RelayAdapter) doJSON(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.Endpoint+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.SiteToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.control.Do(req)
	if err != nil {
		return classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var be brokerError
		msg := string(respBody)
		if json.Unmarshal(respBody, &be) == nil && be.Error != "" {
			msg = be.Error
		}
		return classifyStatus(op, resp.StatusCode, msg)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// writeAtomically streams r to path via a .part file so a partial download
// is never visible under the final name.
func writeAtomically(path string, r io.Reader) (int64, error) {
	tmp := path + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return n, &TransientError{Op: "download", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return n, nil
}
