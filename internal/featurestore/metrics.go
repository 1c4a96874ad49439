package featurestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aihub",
		Subsystem: "feature_store",
		Name:      "cache_hits_total",
		Help:      "Feature cache hits by feature type.",
	}, []string{"feature_type"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aihub",
		Subsystem: "feature_store",
		Name:      "cache_misses_total",
		Help:      "Feature cache misses by feature type.",
	}, []string{"feature_type"})

	exportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aihub",
		Subsystem: "feature_store",
		Name:      "exports_total",
		Help:      "Feature exports by terminal status.",
	}, []string{"status"})
)
