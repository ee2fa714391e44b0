package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChunksUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebackup_chunks_uploaded_total",
		Help: "Chunk upload attempts by backend and result",
	}, []string{"backend", "result"})

	UploadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebackup_upload_bytes_total",
		Help: "Bytes successfully uploaded by backend",
	}, []string{"backend"})

	UploadRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebackup_upload_retries_total",
		Help: "Chunk upload retries after transient failures",
	}, []string{"backend"})

	ArchivesBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebackup_archives_built_total",
		Help: "Archives written by format",
	}, []string{"format"})

	FilesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitebackup_files_skipped_total",
		Help: "Source files skipped because they could not be read",
	})

	CatalogEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sitebackup_catalog_entries",
		Help: "Entries in the last reconciled catalog by provenance",
	}, []string{"provenance"})
)
