package announce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var announceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "jamjit",
	Name:      "announce_total",
	Help:      "Announcements handled per sink and outcome.",
}, []string{"sink", "result"})

func observe(sink string, err error) {
	if err != nil {
		announceTotal.WithLabelValues(sink, "error").Inc()
		return
	}
	announceTotal.WithLabelValues(sink, "ok").Inc()
}
