package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/sitebackup/internal/metrics"
	"github.com/edvin/sitebackup/internal/model"
)

const (
	DefaultConcurrency     = 3
	MaxConcurrency         = 4
	DefaultTransferTimeout = 300 * time.Second
	DefaultControlTimeout  = 30 * time.Second
)

// ClampConcurrency bounds the number of concurrent chunk uploads to 1..4.
func ClampConcurrency(n int) int {
	switch {
	case n <= 0:
		return DefaultConcurrency
	case n > MaxConcurrency:
		return MaxConcurrency
	default:
		return n
	}
}

// UploadOptions controls UploadAll.
type UploadOptions struct {
	Concurrency int
	// Timeout bounds each upload attempt.
	Timeout time.Duration
	Retry   RetryPolicy
}

// UploadAll uploads chunks to their destination keys with bounded
// concurrency. Transient failures are retried with backoff, each retry
// calling Upload again so a relay grant is never reused. Chunks that already
// carry their destination key are skipped. The returned slice has the same
// order as chunks with RemoteKey set.
func UploadAll(ctx context.Context, logger zerolog.Logger, adapter Adapter, keys KeySpace, backupID string, chunks []model.Chunk, opts UploadOptions) ([]model.Chunk, error) {
	out := make([]model.Chunk, len(chunks))
	copy(out, chunks)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}
	backend := adapter.Backend()
	log := logger.With().Str("component", "upload-pool").Str("backup_id", backupID).Str("backend", backend).Logger()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ClampConcurrency(opts.Concurrency))

	for i := range out {
		chunk := &out[i]
		key := keys.ChunkKey(backupID, chunk.SequenceNumber, ChunkExt(chunk.RelativePath))
		if chunk.RemoteKey == key {
			log.Debug().Str("key", key).Msg("chunk already uploaded, skipping")
			continue
		}

		g.Go(func() error {
			onRetry := func(attempt int, err error) {
				metrics.UploadRetries.WithLabelValues(backend).Inc()
				log.Warn().Err(err).Int("attempt", attempt).Int("sequence", chunk.SequenceNumber).Msg("retrying chunk upload")
			}

			var res *UploadResult
			err := opts.Retry.Do(gctx, onRetry, func(ctx context.Context) error {
				tctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				r, err := adapter.Upload(tctx, chunk.Path, key)
				if err != nil {
					return err
				}
				res = r
				return nil
			})
			if err != nil {
				metrics.ChunksUploaded.WithLabelValues(backend, "error").Inc()
				return fmt.Errorf("upload chunk %d of %s: %w", chunk.SequenceNumber, backupID, err)
			}

			metrics.ChunksUploaded.WithLabelValues(backend, "ok").Inc()
			metrics.UploadBytes.WithLabelValues(backend).Add(float64(res.SizeBytes))
			chunk.RemoteKey = res.RemoteKey
			log.Info().Str("key", res.RemoteKey).Int64("size", res.SizeBytes).Msg("chunk uploaded")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
