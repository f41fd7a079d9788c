package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/fanout"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/tenant"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrConsentDeclined   = errors.New("operator declined consent")
	ErrSelectionCanceled = errors.New("tenant selection canceled")
)

// ConsentProvider asks the operator for a one-time confirmation before the
// broker touches any subtenant.
type ConsentProvider interface {
	RequestConsent(ctx context.Context) (bool, error)
}

// TenantSelector asks for the subset of tenants an epoch should cover.
// Implementations signal cancellation with ErrSelectionCanceled.
type TenantSelector interface {
	RequestTenantSubset(ctx context.Context, candidates []domain.Tenant) ([]domain.TenantID, error)
}

// SubscriptionReport counts the per-tenant outcomes of the subscribe step.
type SubscriptionReport struct {
	Subscribed        int
	AlreadySubscribed int
	Failed            int
}

// Broker owns the lifecycle of the service identity and the per-epoch
// credential cache.  Acquisition is single-flight: concurrent callers before
// resolution share one in-flight epoch and receive the same credential set.
type Broker struct {
	cfg       *config.Config
	platform  *c8y.Client
	directory *tenant.Directory
	consent   ConsentProvider
	selector  TenantSelector
	clock     clock.Clock

	mu    sync.Mutex
	epoch *epochState
}

type epochState struct {
	done chan struct{}

	credentials []domain.Credential
	identity    domain.ServiceIdentity
	report      SubscriptionReport
	selected    []domain.TenantID
	err         error
	startedAt   time.Time
}

func NewBroker(cfg *config.Config, platform *c8y.Client, directory *tenant.Directory, consent ConsentProvider, selector TenantSelector, clk clock.Clock) *Broker {
	if clk == nil {
		clk = clock.New()
	}

	return &Broker{
		cfg:       cfg,
		platform:  platform,
		directory: directory,
		consent:   consent,
		selector:  selector,
		clock:     clk,
	}
}

// AcquireAll returns one credential per selected, subscribed tenant.  The
// result is cached for the epoch; Invalidate or Cleanup start a fresh epoch
// including re-asking consent.  Any structural failure clears the epoch so
// the next attempt starts clean.
func (b *Broker) AcquireAll(ctx context.Context) ([]domain.Credential, error) {

	b.mu.Lock()
	if epoch := b.epoch; epoch != nil {
		b.mu.Unlock()
		metrics.cacheHitCounter.Inc()

		select {
		case <-epoch.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		return epoch.credentials, epoch.err
	}

	epoch := &epochState{done: make(chan struct{}), startedAt: b.clock.Now()}
	b.epoch = epoch
	b.mu.Unlock()

	metrics.acquisitionCounter.Inc()

	epoch.credentials, epoch.identity, epoch.report, epoch.selected, epoch.err = b.acquire(ctx)

	if epoch.err != nil {
		// Never leave a half-built epoch cached.
		b.mu.Lock()
		if b.epoch == epoch {
			b.epoch = nil
		}
		b.mu.Unlock()
	}

	close(epoch.done)

	return epoch.credentials, epoch.err
}

// Invalidate drops the cached epoch.  A subsequent AcquireAll starts fresh,
// including re-asking consent.
func (b *Broker) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.epoch = nil
	b.directory.Invalidate()
}

// ServiceIdentity returns the identity of the current resolved epoch.
func (b *Broker) ServiceIdentity() (domain.ServiceIdentity, bool) {
	b.mu.Lock()
	epoch := b.epoch
	b.mu.Unlock()

	if epoch == nil {
		return domain.ServiceIdentity{}, false
	}

	select {
	case <-epoch.done:
	default:
		return domain.ServiceIdentity{}, false
	}

	if epoch.err != nil {
		return domain.ServiceIdentity{}, false
	}

	return epoch.identity, true
}

// SubscriptionReport returns the subscribe-step counts of the current epoch.
func (b *Broker) SubscriptionReport() (SubscriptionReport, bool) {
	b.mu.Lock()
	epoch := b.epoch
	b.mu.Unlock()

	if epoch == nil {
		return SubscriptionReport{}, false
	}

	select {
	case <-epoch.done:
	default:
		return SubscriptionReport{}, false
	}

	return epoch.report, epoch.err == nil
}

// SelectedTenants returns the tenant subset the current epoch covers, as the
// selector answered it.  Tenants that were selected but never received a
// credential are still part of this list.
func (b *Broker) SelectedTenants() ([]domain.TenantID, bool) {
	b.mu.Lock()
	epoch := b.epoch
	b.mu.Unlock()

	if epoch == nil {
		return nil, false
	}

	select {
	case <-epoch.done:
	default:
		return nil, false
	}

	if epoch.err != nil {
		return nil, false
	}

	return epoch.selected, true
}

func (b *Broker) acquire(ctx context.Context) ([]domain.Credential, domain.ServiceIdentity, SubscriptionReport, []domain.TenantID, error) {

	var report SubscriptionReport

	granted, err := b.consent.RequestConsent(ctx)
	if err != nil {
		return nil, domain.ServiceIdentity{}, report, nil, fmt.Errorf("consent request failed: %w", err)
	}
	if !granted {
		logger.Log.Info("Operator declined cross-tenant access consent")
		return nil, domain.ServiceIdentity{}, report, nil, ErrConsentDeclined
	}

	identity, err := b.ensureServiceIdentity(ctx)
	if err != nil {
		logger.LogError("Unable to reconcile the service identity", err)
		return nil, domain.ServiceIdentity{}, report, nil, err
	}

	tenants, err := b.directory.Snapshot(ctx)
	if err != nil {
		return nil, identity, report, nil, err
	}

	candidates := make([]domain.Tenant, 0, len(tenants))
	for _, t := range tenants {
		candidate := t.ToDomain()
		if candidate.Status == domain.TenantStatusSuspended {
			continue
		}
		candidates = append(candidates, candidate)
	}

	selected, err := b.selector.RequestTenantSubset(ctx, candidates)
	if err != nil {
		// Cancellation aborts the acquisition before any subscribe or
		// credential-mint side effect.  Identity creation and role sync
		// stay in place; they are independently idempotent.
		return nil, identity, report, nil, err
	}

	selectedSet := restrictToCandidates(selected, candidates)
	if len(selectedSet) == 0 {
		return nil, identity, report, nil, ErrSelectionCanceled
	}

	report = b.subscribeTenants(ctx, tenants, selectedSet, identity)

	bootstrap, err := b.platform.GetBootstrapUser(ctx, identity.ID)
	if err != nil {
		return nil, identity, report, nil, fmt.Errorf("bootstrap handshake failed: %w", err)
	}

	minted, err := b.platform.GetSubscribedUsers(ctx, bootstrap)
	if err != nil {
		return nil, identity, report, nil, fmt.Errorf("unable to exchange bootstrap credential: %w", err)
	}

	// The platform may report subscriptions outside the requested subset;
	// filter the returned credentials down to the selection.
	credentials := make([]domain.Credential, 0, len(selectedSet))
	for _, credential := range minted {
		if selectedSet[credential.Tenant] {
			credentials = append(credentials, credential)
		}
	}

	sort.Slice(credentials, func(i, j int) bool {
		return credentials[i].Tenant < credentials[j].Tenant
	})

	selectedList := make([]domain.TenantID, 0, len(selectedSet))
	for id := range selectedSet {
		selectedList = append(selectedList, id)
	}
	sort.Slice(selectedList, func(i, j int) bool { return selectedList[i] < selectedList[j] })

	logger.Log.WithFields(logrus.Fields{
		"selected":           len(selectedSet),
		"subscribed":         report.Subscribed,
		"already_subscribed": report.AlreadySubscribed,
		"failed":             report.Failed,
		"credentials":        len(credentials)}).Info("Credential acquisition complete")

	return credentials, identity, report, selectedList, nil
}

// ensureServiceIdentity creates the service identity if it is absent and
// reconciles its required roles if they drifted.  At most one application
// with the broker's well-known name exists at any time.
func (b *Broker) ensureServiceIdentity(ctx context.Context) (domain.ServiceIdentity, error) {

	existing, err := b.platform.FindApplicationByName(ctx, b.cfg.ServiceIdentityName)
	if err != nil {
		return domain.ServiceIdentity{}, err
	}

	if existing == nil {
		app := c8y.Application{
			Name:          b.cfg.ServiceIdentityName,
			Key:           b.cfg.ServiceIdentityName + "-" + uuid.New().String(),
			Type:          "MICROSERVICE",
			RequiredRoles: b.cfg.ServiceIdentityRoles,
		}

		created, err := b.platform.CreateApplication(ctx, app)
		if err != nil {
			return domain.ServiceIdentity{}, err
		}

		logger.Log.Infof("Created service identity %s (%s)", created.Name, created.ID)

		return toServiceIdentity(created), nil
	}

	if !sameRoleSet(existing.RequiredRoles, b.cfg.ServiceIdentityRoles) {
		logger.Log.Infof("Service identity %s role set drifted, updating", existing.Name)

		updated, err := b.platform.UpdateApplication(ctx, existing.ID, c8y.Application{
			Name:          existing.Name,
			Key:           existing.Key,
			Type:          existing.Type,
			RequiredRoles: b.cfg.ServiceIdentityRoles,
		})
		if err != nil {
			return domain.ServiceIdentity{}, err
		}

		return toServiceIdentity(updated), nil
	}

	return toServiceIdentity(*existing), nil
}

type tenantTarget struct {
	tenant c8y.Tenant
}

func (t tenantTarget) TenantID() domain.TenantID {
	return domain.TenantID(t.tenant.ID)
}

// subscribeTenants subscribes the service identity to every selected tenant
// that is not already subscribed.  Per-tenant failures are isolated and
// counted; they never abort the batch.
func (b *Broker) subscribeTenants(ctx context.Context, tenants []c8y.Tenant, selected map[domain.TenantID]bool, identity domain.ServiceIdentity) SubscriptionReport {

	var report SubscriptionReport
	targets := make([]tenantTarget, 0, len(selected))

	for _, t := range tenants {
		if !selected[domain.TenantID(t.ID)] {
			continue
		}
		if t.SubscribedTo(identity.ID) {
			report.AlreadySubscribed++
			continue
		}
		targets = append(targets, tenantTarget{tenant: t})
	}

	result := fanout.Run(ctx, "subscribe_tenant", targets, func(ctx context.Context, target tenantTarget) (struct{}, error) {
		err := b.platform.SubscribeTenant(ctx, target.tenant.ID, identity.ID)
		if err != nil && c8y.IsConflict(err) {
			// Subscribed behind our back since the directory snapshot.
			err = nil
		}
		return struct{}{}, err
	})

	succeeded, failed := result.Counts()
	report.Subscribed += succeeded
	report.Failed += failed

	return report
}

func restrictToCandidates(selected []domain.TenantID, candidates []domain.Tenant) map[domain.TenantID]bool {
	known := make(map[domain.TenantID]bool, len(candidates))
	for _, candidate := range candidates {
		known[candidate.ID] = true
	}

	subset := make(map[domain.TenantID]bool, len(selected))
	for _, id := range selected {
		if known[id] {
			subset[id] = true
		} else {
			logger.Log.Warnf("Ignoring selected tenant %s: not in the directory", id)
		}
	}

	return subset
}

func toServiceIdentity(app c8y.Application) domain.ServiceIdentity {
	return domain.ServiceIdentity{
		ID:            app.ID,
		Name:          app.Name,
		Key:           app.Key,
		RequiredRoles: app.RequiredRoles,
	}
}

func sameRoleSet(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	set := make(map[string]bool, len(a))
	for _, role := range a {
		set[role] = true
	}
	for _, role := range b {
		if !set[role] {
			return false
		}
	}

	return true
}
