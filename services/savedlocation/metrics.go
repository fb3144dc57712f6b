package savedlocation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var savedLocationWritesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "homehelp",
		Name:      "saved_location_writes_total",
		Help:      "Saved location mutations by operation and outcome.",
	},
	[]string{"op", "outcome"},
)

const (
	opUpsert = "upsert"
	opRemove = "remove"
)
