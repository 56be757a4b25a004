package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var versionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "worktrack_assignment_version_conflicts_total",
	Help: "Number of assignment status writes rejected by the version check.",
})

func recordVersionConflict() {
	versionConflictsTotal.Inc()
}
