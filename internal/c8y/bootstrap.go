package c8y

import (
	"context"
	"net/http"
	"net/url"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
)

// Application is the platform representation of the broker's service
// identity.
type Application struct {
	ID            string   `json:"id,omitempty"`
	Name          string   `json:"name"`
	Key           string   `json:"key"`
	Type          string   `json:"type,omitempty"`
	RequiredRoles []string `json:"requiredRoles,omitempty"`
}

// Tenant is the wire representation returned by the tenant API, including the
// ids of the applications the tenant is subscribed to.
type Tenant struct {
	ID      string `json:"id"`
	Domain  string `json:"domain,omitempty"`
	Company string `json:"company,omitempty"`
	Status  string `json:"status,omitempty"`

	Applications struct {
		References []struct {
			Application Application `json:"application"`
		} `json:"references"`
	} `json:"applications,omitempty"`
}

func (t Tenant) SubscribedTo(applicationID string) bool {
	for _, ref := range t.Applications.References {
		if ref.Application.ID == applicationID {
			return true
		}
	}
	return false
}

func (t Tenant) ToDomain() domain.Tenant {
	return domain.Tenant{
		ID:      domain.TenantID(t.ID),
		Domain:  t.Domain,
		Company: t.Company,
		Status:  domain.TenantStatus(t.Status),
	}
}

type bootstrapUser struct {
	Tenant   string `json:"tenant"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// ListTenants fetches one page of subtenants.
func (c *Client) ListTenants(ctx context.Context, filter PageFilter) ([]Tenant, *PageStatistics, error) {
	return listPage[Tenant](ctx, c, "/tenant/tenants", "tenants", filter)
}

func (c *Client) CreateApplication(ctx context.Context, app Application) (Application, error) {
	var created Application
	err := c.DoJSON(ctx, http.MethodPost, "/application/applications", nil, app, &created)
	return created, err
}

// FindApplicationByName returns nil without error when no application with
// the given name exists.
func (c *Client) FindApplicationByName(ctx context.Context, name string) (*Application, error) {

	var envelope struct {
		Applications []Application `json:"applications"`
	}

	err := c.DoJSON(ctx, http.MethodGet, "/application/applicationsByName/"+url.PathEscape(name), nil, nil, &envelope)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, app := range envelope.Applications {
		if app.Name == name {
			found := app
			return &found, nil
		}
	}

	return nil, nil
}

func (c *Client) UpdateApplication(ctx context.Context, id string, app Application) (Application, error) {
	var updated Application
	err := c.DoJSON(ctx, http.MethodPut, "/application/applications/"+id, nil, app, &updated)
	return updated, err
}

func (c *Client) DeleteApplication(ctx context.Context, id string) error {
	return c.DoJSON(ctx, http.MethodDelete, "/application/applications/"+id, nil, nil, nil)
}

// SubscribeTenant subscribes the application to a tenant.  A conflict from
// the platform means the tenant was already subscribed.
func (c *Client) SubscribeTenant(ctx context.Context, tenantID string, applicationID string) error {

	body := map[string]interface{}{
		"application": map[string]string{"id": applicationID},
	}

	return c.DoJSON(ctx, http.MethodPost, "/tenant/tenants/"+tenantID+"/applications", nil, body, nil)
}

func (c *Client) UnsubscribeTenant(ctx context.Context, tenantID string, applicationID string) error {
	return c.DoJSON(ctx, http.MethodDelete, "/tenant/tenants/"+tenantID+"/applications/"+applicationID, nil, nil, nil)
}

// GetBootstrapUser fetches the bootstrap credential for the application.
func (c *Client) GetBootstrapUser(ctx context.Context, applicationID string) (domain.Credential, error) {

	var user bootstrapUser
	err := c.DoJSON(ctx, http.MethodGet, "/application/applications/"+applicationID+"/bootstrapUser", nil, nil, &user)
	if err != nil {
		return domain.Credential{}, err
	}

	return domain.Credential{
		Tenant:   domain.TenantID(user.Tenant),
		User:     user.Name,
		Password: user.Password,
	}, nil
}

// GetSubscribedUsers exchanges the bootstrap credential for the per-tenant
// service users of every subscribed tenant.
func (c *Client) GetSubscribedUsers(ctx context.Context, bootstrap domain.Credential) ([]domain.Credential, error) {

	bootstrapClient := c.WithCredentials(string(bootstrap.Tenant), bootstrap.User, bootstrap.Password)

	var envelope struct {
		Users []bootstrapUser `json:"users"`
	}

	err := bootstrapClient.DoJSON(ctx, http.MethodGet, "/application/currentApplication/subscriptions", nil, nil, &envelope)
	if err != nil {
		return nil, err
	}

	credentials := make([]domain.Credential, 0, len(envelope.Users))
	for _, user := range envelope.Users {
		credentials = append(credentials, domain.Credential{
			Tenant:   domain.TenantID(user.Tenant),
			User:     user.Name,
			Password: user.Password,
		})
	}

	return credentials, nil
}
