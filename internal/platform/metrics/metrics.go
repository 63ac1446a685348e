// Package metrics carries process-level metrics that belong to no single
// module. Module-specific metrics live next to their modules.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "conubium_build_info",
	Help: "Build metadata of the running process. The value is always 1.",
}, []string{"version"})

// SetBuildInfo publishes the running version as a constant gauge so
// dashboards can pin panels to a deployment.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}
