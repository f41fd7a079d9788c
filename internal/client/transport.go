package client

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "subtenant_mgmt_platform_request_duration_seconds",
		Help: "Duration of platform API requests issued through tenant clients",
	}, []string{"tenant", "method"})

	requestStatusCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subtenant_mgmt_platform_request_status_count",
		Help: "The number of platform API responses per status class",
	}, []string{"tenant", "status_class"})
)

type identificationTransport struct {
	applicationKey string
	next           http.RoundTripper
}

func newIdentificationTransport(applicationKey string, next http.RoundTripper) http.RoundTripper {
	return &identificationTransport{applicationKey: applicationKey, next: next}
}

func (t *identificationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Per RoundTripper contract the request must not be mutated in place.
	cloned := req.Clone(req.Context())
	cloned.Header.Set(IdentificationHeader, t.applicationKey)
	return t.next.RoundTrip(cloned)
}

// instrumentedTransport records timing and status metrics without altering
// request semantics.
type instrumentedTransport struct {
	tenant string
	next   http.RoundTripper
}

func newInstrumentedTransport(tenant string, next http.RoundTripper) http.RoundTripper {
	return &instrumentedTransport{tenant: tenant, next: next}
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {

	timer := prometheus.NewTimer(requestDuration.WithLabelValues(t.tenant, req.Method))
	defer timer.ObserveDuration()

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		requestStatusCounter.WithLabelValues(t.tenant, "transport_error").Inc()
		return resp, err
	}

	requestStatusCounter.WithLabelValues(t.tenant, statusClass(resp.StatusCode)).Inc()

	return resp, nil
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
