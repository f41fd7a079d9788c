package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type brokerMetrics struct {
	acquisitionCounter prometheus.Counter
	cacheHitCounter    prometheus.Counter
}

var metrics = newBrokerMetrics()

func newBrokerMetrics() *brokerMetrics {
	return &brokerMetrics{
		acquisitionCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subtenant_mgmt_credential_acquisition_count",
			Help: "The number of credential acquisition epochs started",
		}),

		cacheHitCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subtenant_mgmt_credential_cache_hit_count",
			Help: "The number of AcquireAll calls served from the epoch cache",
		}),
	}
}
