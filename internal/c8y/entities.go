package c8y

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
)

// SourceMarkerFragment is the fragment stamped onto every provisioned entity
// carrying the id the entity has in the operator tenant.  It is the dedup key
// the reconciliation engine checks before creating, because platform-assigned
// ids are not portable across tenants.
const SourceMarkerFragment = "sub_ProvisioningSource"

type FirmwareFragment struct {
	Version string `json:"version,omitempty"`
	URL     string `json:"url,omitempty"`
}

type Firmware struct {
	ID           string            `json:"id,omitempty"`
	Type         string            `json:"type,omitempty"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Owner        string            `json:"owner,omitempty"`
	CreationTime string            `json:"creationTime,omitempty"`
	LastUpdated  string            `json:"lastUpdated,omitempty"`
	Firmware     *FirmwareFragment `json:"c8y_Firmware,omitempty"`
	SourceID     string            `json:"sub_ProvisioningSource,omitempty"`
}

// Rule is an event processing module.
type Rule struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
}

type GlobalRole struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

type TenantOption struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

type RetentionRule struct {
	ID           string `json:"id,omitempty"`
	DataType     string `json:"dataType"`
	FragmentType string `json:"fragmentType,omitempty"`
	Type         string `json:"type,omitempty"`
	Source       string `json:"source,omitempty"`
	MaximumAge   int    `json:"maximumAge"`
	Editable     bool   `json:"editable,omitempty"`
}

type SmartGroup struct {
	ID           string `json:"id,omitempty"`
	Type         string `json:"type,omitempty"`
	Name         string `json:"name"`
	Owner        string `json:"owner,omitempty"`
	CreationTime string `json:"creationTime,omitempty"`
	LastUpdated  string `json:"lastUpdated,omitempty"`
	Query        string `json:"c8y_DeviceQueryString,omitempty"`
	SourceID     string `json:"sub_ProvisioningSource,omitempty"`
}

type RegistrationTemplate struct {
	ID           string                 `json:"id,omitempty"`
	Type         string                 `json:"type,omitempty"`
	Name         string                 `json:"name"`
	Owner        string                 `json:"owner,omitempty"`
	CreationTime string                 `json:"creationTime,omitempty"`
	LastUpdated  string                 `json:"lastUpdated,omitempty"`
	Template     map[string]interface{} `json:"sub_RegistrationTemplate,omitempty"`
	SourceID     string                 `json:"sub_ProvisioningSource,omitempty"`
}

// RegistrationTemplateExternalIDType is the secondary lookup index type under
// which provisioned templates are registered in the identity API.
const RegistrationTemplateExternalIDType = "sub_RegistrationTemplate"

type endpointSpec struct {
	basePath     string
	listKey      string
	tenantScoped bool
	baseQuery    url.Values
}

// endpointTable maps every entity kind to its REST endpoint.  Resolved once
// when a Registry is built; there is no string-keyed dispatch at call sites.
var endpointTable = map[domain.EntityKind]endpointSpec{
	domain.KindFirmware: {
		basePath:  "/inventory/managedObjects",
		listKey:   "managedObjects",
		baseQuery: url.Values{"type": []string{"c8y_Firmware"}},
	},
	domain.KindRule: {
		basePath: "/service/cep/modules",
		listKey:  "modules",
	},
	domain.KindGlobalRole: {
		basePath:     "/user/%s/groups",
		listKey:      "groups",
		tenantScoped: true,
	},
	domain.KindTenantOption: {
		basePath: "/tenant/options",
		listKey:  "options",
	},
	domain.KindRetentionRule: {
		basePath: "/retention/retentions",
		listKey:  "retentionRules",
	},
	domain.KindSmartGroup: {
		basePath:  "/inventory/managedObjects",
		listKey:   "managedObjects",
		baseQuery: url.Values{"type": []string{"c8y_DynamicGroup"}},
	},
	domain.KindRegistrationTemplate: {
		basePath:  "/inventory/managedObjects",
		listKey:   "managedObjects",
		baseQuery: url.Values{"type": []string{"sub_RegistrationTemplate"}},
	},
}

// EntityAPI exposes the list/detail/create/update/delete capability for one
// entity kind against one tenant.
type EntityAPI[T any] struct {
	client *Client
	kind   domain.EntityKind
	spec   endpointSpec
}

func NewEntityAPI[T any](client *Client, kind domain.EntityKind) (*EntityAPI[T], error) {
	spec, ok := endpointTable[kind]
	if !ok {
		return nil, fmt.Errorf("no endpoint registered for entity kind %q", kind)
	}

	return &EntityAPI[T]{client: client, kind: kind, spec: spec}, nil
}

func (a *EntityAPI[T]) Kind() domain.EntityKind {
	return a.kind
}

func (a *EntityAPI[T]) Client() *Client {
	return a.client
}

func (a *EntityAPI[T]) path() string {
	if a.spec.tenantScoped {
		return fmt.Sprintf(a.spec.basePath, a.client.Tenant)
	}
	return a.spec.basePath
}

func (a *EntityAPI[T]) List(ctx context.Context, filter PageFilter) ([]T, *PageStatistics, error) {
	merged := url.Values{}
	for k, v := range a.spec.baseQuery {
		merged[k] = v
	}
	for k, v := range filter.Query {
		merged[k] = v
	}
	filter.Query = merged

	return listPage[T](ctx, a.client, a.path(), a.spec.listKey, filter)
}

func (a *EntityAPI[T]) Detail(ctx context.Context, id string) (T, error) {
	var entity T
	err := a.client.DoJSON(ctx, http.MethodGet, a.path()+"/"+id, nil, nil, &entity)
	return entity, err
}

func (a *EntityAPI[T]) Create(ctx context.Context, entity T) (T, error) {
	var created T
	err := a.client.DoJSON(ctx, http.MethodPost, a.path(), nil, entity, &created)
	return created, err
}

func (a *EntityAPI[T]) Update(ctx context.Context, id string, entity T) (T, error) {
	var updated T
	err := a.client.DoJSON(ctx, http.MethodPut, a.path()+"/"+id, nil, entity, &updated)
	return updated, err
}

func (a *EntityAPI[T]) Delete(ctx context.Context, id string) error {
	return a.client.DoJSON(ctx, http.MethodDelete, a.path()+"/"+id, nil, nil, nil)
}

// Registry holds the entity APIs for one tenant, resolved once at client
// construction time.
type Registry struct {
	Firmware              *EntityAPI[Firmware]
	Rules                 *EntityAPI[Rule]
	GlobalRoles           *EntityAPI[GlobalRole]
	TenantOptions         *EntityAPI[TenantOption]
	RetentionRules        *EntityAPI[RetentionRule]
	SmartGroups           *EntityAPI[SmartGroup]
	RegistrationTemplates *EntityAPI[RegistrationTemplate]
}

func NewRegistry(client *Client) (*Registry, error) {
	firmware, err := NewEntityAPI[Firmware](client, domain.KindFirmware)
	if err != nil {
		return nil, err
	}
	rules, err := NewEntityAPI[Rule](client, domain.KindRule)
	if err != nil {
		return nil, err
	}
	globalRoles, err := NewEntityAPI[GlobalRole](client, domain.KindGlobalRole)
	if err != nil {
		return nil, err
	}
	tenantOptions, err := NewEntityAPI[TenantOption](client, domain.KindTenantOption)
	if err != nil {
		return nil, err
	}
	retentionRules, err := NewEntityAPI[RetentionRule](client, domain.KindRetentionRule)
	if err != nil {
		return nil, err
	}
	smartGroups, err := NewEntityAPI[SmartGroup](client, domain.KindSmartGroup)
	if err != nil {
		return nil, err
	}
	registrationTemplates, err := NewEntityAPI[RegistrationTemplate](client, domain.KindRegistrationTemplate)
	if err != nil {
		return nil, err
	}

	return &Registry{
		Firmware:              firmware,
		Rules:                 rules,
		GlobalRoles:           globalRoles,
		TenantOptions:         tenantOptions,
		RetentionRules:        retentionRules,
		SmartGroups:           smartGroups,
		RegistrationTemplates: registrationTemplates,
	}, nil
}
