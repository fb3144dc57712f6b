package geocoding

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var geocodeRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "homehelp",
		Name:      "geocode_requests_total",
		Help:      "Geocoding calls by operation and outcome.",
	},
	[]string{"op", "outcome"},
)

const (
	opForward = "forward"
	opReverse = "reverse"

	outcomeOK       = "ok"
	outcomeEmpty    = "empty"
	outcomeError    = "error"
	outcomeCacheHit = "cache_hit"
	outcomeTooShort = "too_short"
)
