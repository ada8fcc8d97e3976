package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mend_resolutions_total",
		Help: "Total number of resolutions by outcome (resolved, invalid, ambiguity, cached).",
	}, []string{"outcome"})

	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mend_resolve_seconds",
		Help:    "Time spent resolving one input.",
		Buckets: prometheus.DefBuckets,
	})

	SearchMoves = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mend_search_moves",
		Help:    "Row placements spent by one resolution.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	RowsResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mend_rows_resolved_total",
		Help: "Total number of rows emitted by resolutions.",
	})

	StrictRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mend_strict_rows_total",
		Help: "Rows read by the strict tokenizer by result (ok, invalid).",
	}, []string{"result"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mend_watch_events_total",
		Help: "Total number of file system events received by the watcher.",
	})
)
