package reconcile

import (
	"context"
	"fmt"
	"net/url"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/client"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
)

func inventoryNameQuery(name string) url.Values {
	return url.Values{"query": []string{fmt.Sprintf("name eq '%s'", name)}}
}

// firmwareSpec recognizes firmware by name, version and source marker.
func firmwareSpec(source *c8y.Client) Spec[c8y.Firmware] {
	return Spec[c8y.Firmware]{
		Kind: domain.KindFirmware,
		Query: func(src c8y.Firmware) url.Values {
			return inventoryNameQuery(src.Name)
		},
		Matches: func(src c8y.Firmware, candidate c8y.Firmware) bool {
			if src.Name != candidate.Name {
				return false
			}
			srcVersion, candidateVersion := "", ""
			if src.Firmware != nil {
				srcVersion = src.Firmware.Version
			}
			if candidate.Firmware != nil {
				candidateVersion = candidate.Firmware.Version
			}
			if srcVersion != candidateVersion {
				return false
			}
			return candidate.SourceID == "" || candidate.SourceID == src.ID
		},
		Sanitize: func(src c8y.Firmware) c8y.Firmware {
			sanitized := src
			sanitized.ID = ""
			sanitized.Owner = ""
			sanitized.CreationTime = ""
			sanitized.LastUpdated = ""
			sanitized.SourceID = src.ID
			if src.Firmware != nil {
				fragment := *src.Firmware
				sanitized.Firmware = &fragment
			}
			return sanitized
		},
		ID: func(entity c8y.Firmware) string {
			return entity.ID
		},
		Prepare:   copyFirmwareBinary(source),
		PreDelete: deleteFirmwareBinary,
	}
}

func ruleSpec() Spec[c8y.Rule] {
	return Spec[c8y.Rule]{
		Kind: domain.KindRule,
		Matches: func(src c8y.Rule, candidate c8y.Rule) bool {
			return src.Name == candidate.Name
		},
		Sanitize: func(src c8y.Rule) c8y.Rule {
			sanitized := src
			sanitized.ID = ""
			return sanitized
		},
		ID: func(entity c8y.Rule) string {
			return entity.ID
		},
	}
}

func globalRoleSpec() Spec[c8y.GlobalRole] {
	return Spec[c8y.GlobalRole]{
		Kind: domain.KindGlobalRole,
		Matches: func(src c8y.GlobalRole, candidate c8y.GlobalRole) bool {
			return src.Name == candidate.Name
		},
		Sanitize: func(src c8y.GlobalRole) c8y.GlobalRole {
			sanitized := src
			sanitized.ID = ""
			return sanitized
		},
		ID: func(entity c8y.GlobalRole) string {
			return entity.ID
		},
	}
}

func tenantOptionSpec() Spec[c8y.TenantOption] {
	return Spec[c8y.TenantOption]{
		Kind: domain.KindTenantOption,
		Matches: func(src c8y.TenantOption, candidate c8y.TenantOption) bool {
			return src.Category == candidate.Category && src.Key == candidate.Key
		},
		Sanitize: func(src c8y.TenantOption) c8y.TenantOption {
			return src
		},
		ID: func(entity c8y.TenantOption) string {
			return entity.Category + "/" + entity.Key
		},
	}
}

func retentionRuleSpec() Spec[c8y.RetentionRule] {
	return Spec[c8y.RetentionRule]{
		Kind: domain.KindRetentionRule,
		Matches: func(src c8y.RetentionRule, candidate c8y.RetentionRule) bool {
			return src.DataType == candidate.DataType &&
				src.FragmentType == candidate.FragmentType &&
				src.Type == candidate.Type &&
				src.Source == candidate.Source
		},
		Sanitize: func(src c8y.RetentionRule) c8y.RetentionRule {
			sanitized := src
			sanitized.ID = ""
			return sanitized
		},
		ID: func(entity c8y.RetentionRule) string {
			return entity.ID
		},
	}
}

func smartGroupSpec() Spec[c8y.SmartGroup] {
	return Spec[c8y.SmartGroup]{
		Kind: domain.KindSmartGroup,
		Query: func(src c8y.SmartGroup) url.Values {
			return inventoryNameQuery(src.Name)
		},
		Matches: func(src c8y.SmartGroup, candidate c8y.SmartGroup) bool {
			if src.Name != candidate.Name {
				return false
			}
			return candidate.SourceID == "" || candidate.SourceID == src.ID
		},
		Sanitize: func(src c8y.SmartGroup) c8y.SmartGroup {
			sanitized := src
			sanitized.ID = ""
			sanitized.Owner = ""
			sanitized.CreationTime = ""
			sanitized.LastUpdated = ""
			sanitized.SourceID = src.ID
			return sanitized
		},
		ID: func(entity c8y.SmartGroup) string {
			return entity.ID
		},
	}
}

func (e *Engine) ProvisionFirmware(ctx context.Context, source *c8y.Client, src c8y.Firmware, clients []*client.TenantClient) domain.BatchSummary {
	return provisionAcrossTenants(ctx, e, "provision_firmware", clients, firmwareSpec(source),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.Firmware] { return tc.APIs.Firmware }, src, src.ID)
}

func (e *Engine) DeprovisionFirmware(ctx context.Context, src c8y.Firmware, clients []*client.TenantClient) domain.BatchSummary {
	return deprovisionAcrossTenants(ctx, e, "deprovision_firmware", clients, firmwareSpec(nil),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.Firmware] { return tc.APIs.Firmware }, src, src.ID)
}

func (e *Engine) ProvisionRule(ctx context.Context, src c8y.Rule, clients []*client.TenantClient) domain.BatchSummary {
	return provisionAcrossTenants(ctx, e, "provision_rule", clients, ruleSpec(),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.Rule] { return tc.APIs.Rules }, src, src.ID)
}

func (e *Engine) DeprovisionRule(ctx context.Context, src c8y.Rule, clients []*client.TenantClient) domain.BatchSummary {
	return deprovisionAcrossTenants(ctx, e, "deprovision_rule", clients, ruleSpec(),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.Rule] { return tc.APIs.Rules }, src, src.ID)
}

func (e *Engine) ProvisionGlobalRole(ctx context.Context, src c8y.GlobalRole, clients []*client.TenantClient) domain.BatchSummary {
	return provisionAcrossTenants(ctx, e, "provision_global_role", clients, globalRoleSpec(),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.GlobalRole] { return tc.APIs.GlobalRoles }, src, src.ID)
}

func (e *Engine) DeprovisionGlobalRole(ctx context.Context, src c8y.GlobalRole, clients []*client.TenantClient) domain.BatchSummary {
	return deprovisionAcrossTenants(ctx, e, "deprovision_global_role", clients, globalRoleSpec(),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.GlobalRole] { return tc.APIs.GlobalRoles }, src, src.ID)
}

func (e *Engine) ProvisionTenantOption(ctx context.Context, src c8y.TenantOption, clients []*client.TenantClient) domain.BatchSummary {
	return provisionAcrossTenants(ctx, e, "provision_tenant_option", clients, tenantOptionSpec(),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.TenantOption] { return tc.APIs.TenantOptions },
		src, src.Category+"/"+src.Key)
}

func (e *Engine) DeprovisionTenantOption(ctx context.Context, src c8y.TenantOption, clients []*client.TenantClient) domain.BatchSummary {
	return deprovisionAcrossTenants(ctx, e, "deprovision_tenant_option", clients, tenantOptionSpec(),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.TenantOption] { return tc.APIs.TenantOptions },
		src, src.Category+"/"+src.Key)
}

func (e *Engine) ProvisionRetentionRule(ctx context.Context, src c8y.RetentionRule, clients []*client.TenantClient) domain.BatchSummary {
	return provisionAcrossTenants(ctx, e, "provision_retention_rule", clients, retentionRuleSpec(),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.RetentionRule] { return tc.APIs.RetentionRules }, src, src.ID)
}

func (e *Engine) DeprovisionRetentionRule(ctx context.Context, src c8y.RetentionRule, clients []*client.TenantClient) domain.BatchSummary {
	return deprovisionAcrossTenants(ctx, e, "deprovision_retention_rule", clients, retentionRuleSpec(),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.RetentionRule] { return tc.APIs.RetentionRules }, src, src.ID)
}

func (e *Engine) ProvisionSmartGroup(ctx context.Context, src c8y.SmartGroup, clients []*client.TenantClient) domain.BatchSummary {
	return provisionAcrossTenants(ctx, e, "provision_smart_group", clients, smartGroupSpec(),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.SmartGroup] { return tc.APIs.SmartGroups }, src, src.ID)
}

func (e *Engine) DeprovisionSmartGroup(ctx context.Context, src c8y.SmartGroup, clients []*client.TenantClient) domain.BatchSummary {
	return deprovisionAcrossTenants(ctx, e, "deprovision_smart_group", clients, smartGroupSpec(),
		func(tc *client.TenantClient) *c8y.EntityAPI[c8y.SmartGroup] { return tc.APIs.SmartGroups }, src, src.ID)
}
