package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
)

// IdentificationHeader is attached to every request a TenantClient sends so
// the platform can attribute the traffic to the service identity.
const IdentificationHeader = "X-Cumulocity-Application-Key"

var errEmptyCredential = errors.New("credential is missing tenant or user")

// TenantClient is a capability object bound to exactly one tenant.  Clients
// are created fresh per broker epoch and never shared across epochs; a
// cleaned-up credential must not leak into a later generation.
type TenantClient struct {
	Tenant     domain.TenantID
	Credential domain.Credential
	Platform   *c8y.Client
	APIs       *c8y.Registry
}

func (tc *TenantClient) TenantID() domain.TenantID {
	return tc.Tenant
}

// BuildClients turns minted credentials into ready-to-use per-tenant clients.
// Pure construction: no network calls are made here.
func BuildClients(cfg *config.Config, applicationKey string, credentials []domain.Credential) ([]*TenantClient, error) {

	clients := make([]*TenantClient, 0, len(credentials))

	for _, credential := range credentials {
		if credential.Tenant == "" || credential.User == "" {
			return nil, fmt.Errorf("%w (tenant=%q)", errEmptyCredential, credential.Tenant)
		}

		transport := newInstrumentedTransport(string(credential.Tenant),
			newIdentificationTransport(applicationKey, http.DefaultTransport))

		httpClient := &http.Client{
			Timeout:   cfg.HttpClientTimeout,
			Transport: transport,
		}

		platform := c8y.NewClient(cfg.PlatformBaseUrl, string(credential.Tenant), credential.User, credential.Password, httpClient)

		apis, err := c8y.NewRegistry(platform)
		if err != nil {
			return nil, err
		}

		clients = append(clients, &TenantClient{
			Tenant:     credential.Tenant,
			Credential: credential,
			Platform:   platform,
			APIs:       apis,
		})
	}

	return clients, nil
}
