package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type fanOutMetrics struct {
	fanOutDuration       *prometheus.HistogramVec
	tenantFailureCounter *prometheus.CounterVec
}

var metrics = newFanOutMetrics()

func newFanOutMetrics() *fanOutMetrics {
	return &fanOutMetrics{
		fanOutDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "subtenant_mgmt_fan_out_duration_seconds",
			Help: "Time spent running an operation across all targeted tenants",
		}, []string{"operation"}),

		tenantFailureCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "subtenant_mgmt_fan_out_tenant_failure_count",
			Help: "The number of per-tenant failures during fan-out operations",
		}, []string{"operation"}),
	}
}
