package modcomp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jamjit",
		Subsystem: "modcomp",
		Name:      "cache_total",
		Help:      "Object cache lookups and stores by result.",
	}, []string{"result"})

	compileSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jamjit",
		Subsystem: "modcomp",
		Name:      "compile_seconds",
		Help:      "Time spent compiling one module.",
		Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
	})

	finSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jamjit",
		Subsystem: "modcomp",
		Name:      "fin_seconds",
		Help:      "Time spent placing and linking a session.",
		Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
	})
)
