package journal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "caf_journal_events_total",
		Help: "Total journal events appended, by event name",
	},
	[]string{"event"},
)
