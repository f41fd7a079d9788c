package reconcile

import (
	"context"
	"errors"
	"net/url"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/audit"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/client"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/fanout"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/paging"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
)

// ErrAmbiguousMatch is reported when a natural key lookup finds more than one
// candidate.  The engine never guesses or overwrites ambiguous matches.
var ErrAmbiguousMatch = errors.New("natural key lookup is ambiguous")

type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	OutcomeUnchanged
	OutcomeDeleted
	OutcomeAbsent
)

// Spec describes how one entity kind is recognized and copied across
// tenants.  Lookups go through the kind's natural key fields, never through
// platform-assigned ids, because ids are not portable across tenants.
type Spec[T any] struct {
	Kind domain.EntityKind

	// Query narrows the destination lookup to candidates that could match
	// the source's natural key.
	Query func(src T) url.Values

	// Matches decides natural key equality between the source and a
	// destination candidate.
	Matches func(src T, candidate T) bool

	// Sanitize strips non-portable fields (ids, linkage, timestamps,
	// ownership) from a copy of the source and stamps the source marker.
	Sanitize func(src T) T

	// ID extracts the destination-local id of a found entity.
	ID func(entity T) string

	// Prepare runs after Sanitize and before Create, against the
	// destination tenant.  Used to copy attached binary payloads.
	Prepare func(ctx context.Context, entity T, dst *c8y.Client) (T, error)

	// PreDelete runs against a found entity before it is deleted.  Used to
	// remove attached binary payloads first.
	PreDelete func(ctx context.Context, entity T, dst *c8y.Client) error
}

// Engine layers idempotent check-then-act verbs over the fan-out executor.
type Engine struct {
	pageSize int
	flusher  *paging.MutationFlusher
	audit    audit.Emitter
}

func NewEngine(pageSize int, flusher *paging.MutationFlusher, emitter audit.Emitter) *Engine {
	return &Engine{
		pageSize: pageSize,
		flusher:  flusher,
		audit:    emitter,
	}
}

// ExistsByKey queries the destination tenant for an entity matching the
// source's natural key.  Returns nil when absent.
func ExistsByKey[T any](ctx context.Context, api *c8y.EntityAPI[T], spec Spec[T], src T, pageSize int) (*T, error) {

	query := c8y.PageFilter{}
	if spec.Query != nil {
		query.Query = spec.Query(src)
	}

	candidates, err := paging.Collect(ctx, pageSize, query,
		func(ctx context.Context, filter c8y.PageFilter) ([]T, *c8y.PageStatistics, error) {
			items, statistics, err := api.List(ctx, filter)
			return items, statistics, err
		})
	if err != nil {
		return nil, err
	}

	var found *T
	for i := range candidates {
		if !spec.Matches(src, candidates[i]) {
			continue
		}
		if found != nil {
			return nil, ErrAmbiguousMatch
		}
		found = &candidates[i]
	}

	return found, nil
}

// CreateOrSkip provisions the source entity into the destination tenant if no
// entity with the same natural key exists yet.  A match is reported as
// unchanged, not as an error, so repeated runs are visibly idempotent.
func CreateOrSkip[T any](ctx context.Context, api *c8y.EntityAPI[T], spec Spec[T], src T, pageSize int) (Outcome, error) {

	existing, err := ExistsByKey(ctx, api, spec, src, pageSize)
	if err != nil {
		return OutcomeUnchanged, err
	}
	if existing != nil {
		return OutcomeUnchanged, nil
	}

	prepared := spec.Sanitize(src)

	if spec.Prepare != nil {
		prepared, err = spec.Prepare(ctx, prepared, api.Client())
		if err != nil {
			return OutcomeUnchanged, err
		}
	}

	if _, err := api.Create(ctx, prepared); err != nil {
		return OutcomeUnchanged, err
	}

	return OutcomeCreated, nil
}

// DeleteIfPresent looks the entity up by natural key and deletes it, running
// the PreDelete hook (binary payload removal) first.  Absence is a no-op.
func DeleteIfPresent[T any](ctx context.Context, api *c8y.EntityAPI[T], spec Spec[T], src T, pageSize int) (Outcome, error) {

	existing, err := ExistsByKey(ctx, api, spec, src, pageSize)
	if err != nil {
		return OutcomeAbsent, err
	}
	if existing == nil {
		return OutcomeAbsent, nil
	}

	if spec.PreDelete != nil {
		if err := spec.PreDelete(ctx, *existing, api.Client()); err != nil {
			return OutcomeAbsent, err
		}
	}

	if err := api.Delete(ctx, spec.ID(*existing)); err != nil {
		if c8y.IsNotFound(err) {
			return OutcomeAbsent, nil
		}
		return OutcomeAbsent, err
	}

	return OutcomeDeleted, nil
}

// provisionAcrossTenants fans CreateOrSkip out over the client set and folds
// the per-tenant outcomes into the three-count summary.
func provisionAcrossTenants[T any](
	ctx context.Context,
	e *Engine,
	operation string,
	clients []*client.TenantClient,
	spec Spec[T],
	api func(*client.TenantClient) *c8y.EntityAPI[T],
	src T,
	sourceID string,
) domain.BatchSummary {

	result := fanout.Run(ctx, operation, clients, func(ctx context.Context, tc *client.TenantClient) (Outcome, error) {
		return CreateOrSkip(ctx, api(tc), spec, src, e.pageSize)
	})

	summary := foldOutcomes(result)

	e.finishMutation(ctx, spec.Kind, "provision", sourceID, len(clients), summary)

	return summary
}

func deprovisionAcrossTenants[T any](
	ctx context.Context,
	e *Engine,
	operation string,
	clients []*client.TenantClient,
	spec Spec[T],
	api func(*client.TenantClient) *c8y.EntityAPI[T],
	src T,
	sourceID string,
) domain.BatchSummary {

	result := fanout.Run(ctx, operation, clients, func(ctx context.Context, tc *client.TenantClient) (Outcome, error) {
		return DeleteIfPresent(ctx, api(tc), spec, src, e.pageSize)
	})

	summary := foldOutcomes(result)

	e.finishMutation(ctx, spec.Kind, "deprovision", sourceID, len(clients), summary)

	return summary
}

// finishMutation invalidates memoized reads of the mutated kind before the
// summary is returned to the caller, then emits the audit event.
func (e *Engine) finishMutation(ctx context.Context, kind domain.EntityKind, action string, sourceID string, tenants int, summary domain.BatchSummary) {

	if e.flusher != nil {
		e.flusher.OnMutation(kind)
	}

	if e.audit != nil {
		event := audit.NewEvent(kind, action, sourceID, tenants, summary)
		if err := e.audit.Emit(ctx, event); err != nil {
			logger.LogError("Audit event emission failed", err)
		}
	}

	logger.Log.Infof("%s %s: succeeded=%d unchanged=%d failed=%d",
		action, kind, summary.Succeeded, summary.Unchanged, summary.Failed)
}

func foldOutcomes(result fanout.Result[Outcome]) domain.BatchSummary {

	var summary domain.BatchSummary

	for tenant, outcome := range result.Outcomes() {
		if outcome.Err != nil {
			summary.RecordFailure(tenant, outcome.Err)
			continue
		}

		switch outcome.Value {
		case OutcomeCreated, OutcomeUpdated, OutcomeDeleted:
			summary.Succeeded++
		default:
			summary.Unchanged++
		}
	}

	return summary
}
