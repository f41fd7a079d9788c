package controller

import (
	"context"
	"errors"
	"sync"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/broker"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/client"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/tenant"
)

// ErrNoSession is returned when an operation needs per-tenant clients but no
// credential epoch has been opened yet.
var ErrNoSession = errors.New("no open session: acquire credentials first")

// ErrNoCredential marks a selected tenant for which the broker could not
// mint a credential.  Operations targeting such a tenant report a failure
// for it rather than silently skipping it.
var ErrNoCredential = errors.New("no credential was minted for this tenant")

// SessionCounts summarizes what an opened session covers.
type SessionCounts struct {
	Selected          int               `json:"selected"`
	Clients           int               `json:"clients"`
	Subscribed        int               `json:"subscribed"`
	AlreadySubscribed int               `json:"already_subscribed"`
	SubscribeFailed   int               `json:"subscribe_failed"`
	MissingTenants    []domain.TenantID `json:"missing_tenants,omitempty"`
}

// Coordinator ties the broker, the client factory and the tenant directory
// together behind the management surface.  One session corresponds to one
// credential epoch.
type Coordinator struct {
	cfg       *config.Config
	platform  *c8y.Client
	source    *c8y.Registry
	directory *tenant.Directory

	mu       sync.Mutex
	broker   *broker.Broker
	clients  []*client.TenantClient
	selected []domain.TenantID
}

func NewCoordinator(cfg *config.Config, platform *c8y.Client, directory *tenant.Directory) (*Coordinator, error) {

	source, err := c8y.NewRegistry(platform)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:       cfg,
		platform:  platform,
		source:    source,
		directory: directory,
	}, nil
}

// Operator returns the operator tenant's platform client.
func (c *Coordinator) Operator() *c8y.Client {
	return c.platform
}

// Source returns the operator tenant's entity APIs, used to read source
// entities before distributing them.
func (c *Coordinator) Source() *c8y.Registry {
	return c.source
}

func (c *Coordinator) Directory() *tenant.Directory {
	return c.directory
}

// OpenSession runs one credential acquisition epoch with the supplied
// consent decision and tenant selection, and builds the per-tenant clients.
func (c *Coordinator) OpenSession(ctx context.Context, consent bool, tenants []domain.TenantID) (SessionCounts, error) {

	var counts SessionCounts

	b := broker.NewBroker(c.cfg, c.platform, c.directory,
		broker.StaticConsent(consent), broker.StaticSelection(tenants), nil)

	credentials, err := b.AcquireAll(ctx)
	if err != nil {
		return counts, err
	}

	identity, ok := b.ServiceIdentity()
	if !ok {
		return counts, errors.New("service identity unavailable after acquisition")
	}

	clients, err := client.BuildClients(c.cfg, identity.Key, credentials)
	if err != nil {
		return counts, err
	}

	// The broker reports the selection it actually resolved, which for an
	// empty request is every active candidate.  Deriving it from the minted
	// credentials instead would hide tenants whose subscribe failed.
	selected, ok := b.SelectedTenants()
	if !ok {
		return counts, errors.New("tenant selection unavailable after acquisition")
	}

	c.mu.Lock()
	c.broker = b
	c.clients = clients
	c.selected = selected
	c.mu.Unlock()

	report, _ := b.SubscriptionReport()

	counts.Selected = len(selected)
	counts.Clients = len(clients)
	counts.Subscribed = report.Subscribed
	counts.AlreadySubscribed = report.AlreadySubscribed
	counts.SubscribeFailed = report.Failed
	counts.MissingTenants = c.MissingTenants()

	return counts, nil
}

// CloseSession tears the service identity down and drops the epoch.
func (c *Coordinator) CloseSession(ctx context.Context) (broker.CleanupReport, error) {

	c.mu.Lock()
	b := c.broker
	c.broker = nil
	c.clients = nil
	c.selected = nil
	c.mu.Unlock()

	if b == nil {
		// Cleanup is still meaningful without an open session: a service
		// identity may linger from an earlier run.
		b = broker.NewBroker(c.cfg, c.platform, c.directory,
			broker.StaticConsent(true), broker.StaticSelection(nil), nil)
	}

	return b.Cleanup(ctx)
}

// Invalidate drops the session without touching the platform.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broker != nil {
		c.broker.Invalidate()
	}
	c.broker = nil
	c.clients = nil
	c.selected = nil
}

// Clients returns the per-tenant clients of the open session.
func (c *Coordinator) Clients() ([]*client.TenantClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broker == nil {
		return nil, ErrNoSession
	}

	return c.clients, nil
}

// MissingTenants lists selected tenants without a minted credential.
func (c *Coordinator) MissingTenants() []domain.TenantID {
	c.mu.Lock()
	defer c.mu.Unlock()

	have := make(map[domain.TenantID]bool, len(c.clients))
	for _, tc := range c.clients {
		have[tc.Tenant] = true
	}

	var missing []domain.TenantID
	for _, id := range c.selected {
		if !have[id] {
			missing = append(missing, id)
		}
	}

	return missing
}
