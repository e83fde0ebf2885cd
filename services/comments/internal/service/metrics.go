package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcc_comments_created_total",
		Help: "Comments stored",
	})

	commentsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcc_comments_deleted_total",
		Help: "Comments hard-deleted, counting every removed descendant once",
	})

	commentRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcc_comment_rejections_total",
		Help: "Comment submissions rejected, by reason",
	}, []string{"reason"})

	threadedQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tcc_threaded_query_seconds",
		Help:    "Duration of threaded listing queries",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
)
