package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinshare_uploads_total",
		Help: "Files accepted for sharing.",
	})

	uploadRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinshare_upload_rejections_total",
		Help: "Uploads refused by the quota policy, by quota kind.",
	}, []string{"kind"})

	downloadAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinshare_download_attempts_total",
		Help: "PIN-gated download attempts, by outcome.",
	}, []string{"result"})

	autoDeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinshare_auto_deletes_total",
		Help: "Files purged because their download limit was reached.",
	})

	blobRemoveFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinshare_blob_remove_failures_total",
		Help: "Best-effort blob removals that failed.",
	})
)
