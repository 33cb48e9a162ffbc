package session

import "github.com/prometheus/client_golang/prometheus"

var (
	submitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powerbridge",
			Subsystem: "session",
			Name:      "submits_total",
			Help:      "Total submit calls by result",
		},
		[]string{"result"},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powerbridge",
			Subsystem: "session",
			Name:      "polls_total",
			Help:      "Total poll calls by result (chunk, empty, invalid, error)",
		},
		[]string{"result"},
	)

	releasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powerbridge",
			Subsystem: "session",
			Name:      "releases_total",
			Help:      "Total release calls by result",
		},
		[]string{"result"},
	)

	liveResponses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "powerbridge",
			Subsystem: "session",
			Name:      "live_responses",
			Help:      "Responses currently registered in the response table",
		},
	)

	engineFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powerbridge",
			Subsystem: "session",
			Name:      "engine_failures_total",
			Help:      "Responses that ended with an engine failure",
		},
	)
)

func init() {
	prometheus.MustRegister(submitsTotal, pollsTotal, releasesTotal, liveResponses, engineFailuresTotal)
}
