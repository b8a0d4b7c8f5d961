package jit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	regionBytesUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jamjit",
		Name:      "region_bytes_used",
		Help:      "Bytes handed out by an executable region.",
	}, []string{"region", "kind"})

	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jamjit",
		Name:      "builds_total",
		Help:      "Function builds by outcome.",
	}, []string{"mode", "result"})

	buildBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jamjit",
		Name:      "build_bytes_total",
		Help:      "Machine code bytes committed by successful builds.",
	}, []string{"mode"})
)
