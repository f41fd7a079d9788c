package fanout

import (
	"context"
	"sync"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Target is anything a per-tenant operation can be dispatched against.
type Target interface {
	TenantID() domain.TenantID
}

// Outcome is the captured result of one tenant's operation.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Result holds one outcome per targeted tenant.  Every tenant that was
// targeted appears exactly once, as success or failure; results are keyed by
// tenant identity, not submission order.
type Result[T any] struct {
	byTenant map[domain.TenantID]Outcome[T]
}

func (r Result[T]) Outcomes() map[domain.TenantID]Outcome[T] {
	return r.byTenant
}

func (r Result[T]) Successes() map[domain.TenantID]T {
	successes := make(map[domain.TenantID]T)
	for tenant, outcome := range r.byTenant {
		if outcome.Err == nil {
			successes[tenant] = outcome.Value
		}
	}
	return successes
}

func (r Result[T]) Failures() map[domain.TenantID]error {
	failures := make(map[domain.TenantID]error)
	for tenant, outcome := range r.byTenant {
		if outcome.Err != nil {
			failures[tenant] = outcome.Err
		}
	}
	return failures
}

func (r Result[T]) Counts() (succeeded int, failed int) {
	for _, outcome := range r.byTenant {
		if outcome.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	return succeeded, failed
}

// Run launches op concurrently against every target and waits for all of
// them.  One tenant's failure never cancels or blocks its siblings; there is
// no first-error-wins abort.  Cancellation of ctx is cooperative: operations
// already dispatched run to completion and the caller decides whether to
// discard the result.
func Run[C Target, T any](ctx context.Context, operation string, targets []C, op func(context.Context, C) (T, error)) Result[T] {

	callDurationTimer := prometheus.NewTimer(metrics.fanOutDuration.WithLabelValues(operation))
	defer callDurationTimer.ObserveDuration()

	type keyedOutcome struct {
		tenant  domain.TenantID
		outcome Outcome[T]
	}

	outcomes := make(chan keyedOutcome, len(targets))

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target C) {
			defer wg.Done()

			value, err := op(ctx, target)
			if err != nil {
				metrics.tenantFailureCounter.WithLabelValues(operation).Inc()
				logger.Log.WithFields(logrus.Fields{
					"operation": operation,
					"tenant":    target.TenantID(),
					"error":     err}).Debug("Per-tenant operation failed")
			}

			outcomes <- keyedOutcome{tenant: target.TenantID(), outcome: Outcome[T]{Value: value, Err: err}}
		}(target)
	}

	wg.Wait()
	close(outcomes)

	result := Result[T]{byTenant: make(map[domain.TenantID]Outcome[T], len(targets))}
	for keyed := range outcomes {
		result.byTenant[keyed.tenant] = keyed.outcome
	}

	return result
}
