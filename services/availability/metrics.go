package availability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var availabilitySearchesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "homehelp",
		Name:      "availability_searches_total",
		Help:      "Provider availability searches by outcome.",
	},
	[]string{"outcome"},
)

var availabilityResponseShapes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "homehelp",
		Name:      "availability_response_shapes_total",
		Help:      "Availability responses by detected shape.",
	},
	[]string{"shape"},
)
