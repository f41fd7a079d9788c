package domain

type TenantID string

func (tid TenantID) String() string {
	return string(tid)
}

type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "ACTIVE"
	TenantStatusSuspended TenantStatus = "SUSPENDED"
)

// Tenant is an immutable snapshot of a subtenant as reported by the
// platform's tenant API.  The engine never mutates these.
type Tenant struct {
	ID      TenantID
	Domain  string
	Company string
	Status  TenantStatus
}

// Credential is a per-tenant service user minted through the bootstrap
// handshake.  Held in memory only, never persisted.
type Credential struct {
	Tenant   TenantID
	User     string
	Password string
	Token    string
}

// ServiceIdentity is the synthetic application registration that the broker
// subscribes to subtenants in order to mint per-tenant Credentials.
type ServiceIdentity struct {
	ID            string
	Name          string
	Key           string
	RequiredRoles []string
}

type EntityKind string

const (
	KindFirmware             EntityKind = "firmware"
	KindRule                 EntityKind = "rule"
	KindGlobalRole           EntityKind = "global-role"
	KindTenantOption         EntityKind = "tenant-option"
	KindRetentionRule        EntityKind = "retention-rule"
	KindSmartGroup           EntityKind = "smart-group"
	KindRegistrationTemplate EntityKind = "registration-template"
)

func (k EntityKind) String() string {
	return string(k)
}

// AllEntityKinds lists every kind the reconciliation engine knows how to
// provision.  Used to resolve the endpoint table once at startup.
var AllEntityKinds = []EntityKind{
	KindFirmware,
	KindRule,
	KindGlobalRole,
	KindTenantOption,
	KindRetentionRule,
	KindSmartGroup,
	KindRegistrationTemplate,
}

// BatchSummary is the three-count outcome report for a cross-tenant batch.
// Idempotent re-runs are distinguishable from first-time provisioning because
// Unchanged is reported separately from Succeeded.
type BatchSummary struct {
	Succeeded        int                 `json:"succeeded"`
	Unchanged        int                 `json:"unchanged"`
	Failed           int                 `json:"failed"`
	FailuresByTenant map[TenantID]string `json:"failures_by_tenant,omitempty"`
}

func (s *BatchSummary) RecordFailure(tenant TenantID, err error) {
	if s.FailuresByTenant == nil {
		s.FailuresByTenant = make(map[TenantID]string)
	}
	s.Failed++
	s.FailuresByTenant[tenant] = err.Error()
}
