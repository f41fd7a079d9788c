package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/audit"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/broker"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/client"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/controller"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/paging"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/reconcile"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/tenant"
)

func startProvisionRun(action string, kindArg string, sourceID string, tenantsArg string, assumeYes bool) {

	logger.InitLogger()

	logger.Log.Infof("Starting Subtenant-Management %s run", action)

	cfg := config.GetConfig()
	logger.Log.Info("Subtenant-Management configuration:\n", cfg)

	if sourceID == "" {
		logger.Log.Fatal("A source entity id is required (--source-id)")
	}

	kind, err := parseEntityKind(kindArg)
	if err != nil {
		logger.LogFatalError("Unable to parse the entity kind", err)
	}

	platform := buildOperatorClient(cfg)

	directory := tenant.NewDirectory(platform, cfg.PageSize)

	var consent broker.ConsentProvider = stdinConsent{}
	if assumeYes {
		consent = broker.StaticConsent(true)
	}

	var selector broker.TenantSelector = stdinSelector{}
	if tenantsArg != "" {
		selector = broker.StaticSelection(parseTenantIDs(tenantsArg))
	}

	b := broker.NewBroker(cfg, platform, directory, consent, selector, nil)

	ctx := context.Background()

	credentials, err := b.AcquireAll(ctx)
	if err != nil {
		logger.LogFatalError("Credential acquisition failed", err)
	}

	identity, ok := b.ServiceIdentity()
	if !ok {
		logger.Log.Fatal("Service identity unavailable after acquisition")
	}

	clients, err := client.BuildClients(cfg, identity.Key, credentials)
	if err != nil {
		logger.LogFatalError("Unable to build per-tenant clients", err)
	}

	source, err := c8y.NewRegistry(platform)
	if err != nil {
		logger.LogFatalError("Unable to resolve the entity endpoint table", err)
	}

	auditEmitter := audit.NewEmitter(cfg)
	defer auditEmitter.Close()

	engine := reconcile.NewEngine(cfg.PageSize, paging.NewMutationFlusher(), auditEmitter)

	summary, err := controller.RunBatch(ctx, engine, platform, source, action, kind, sourceID, clients)
	if err != nil {
		logger.LogFatalError("Batch failed", err)
	}

	// Selected tenants the broker could not mint a credential for never made
	// it into the client list; report them as failures instead of dropping
	// them from the tally.
	if selected, ok := b.SelectedTenants(); ok {
		controller.RecordMissingTenants(&summary, selected, clients)
	}

	printBatchSummary(action, kind, sourceID, summary)

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func parseEntityKind(kindArg string) (domain.EntityKind, error) {
	kind := domain.EntityKind(kindArg)
	for _, known := range domain.AllEntityKinds {
		if kind == known {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q (known kinds: %s)", kindArg, knownEntityKinds())
}

func knownEntityKinds() string {
	kinds := make([]string, 0, len(domain.AllEntityKinds))
	for _, kind := range domain.AllEntityKinds {
		kinds = append(kinds, kind.String())
	}
	return strings.Join(kinds, ", ")
}

func parseTenantIDs(tenantsArg string) []domain.TenantID {
	var ids []domain.TenantID
	for _, field := range strings.Split(tenantsArg, ",") {
		field = strings.TrimSpace(field)
		if field != "" {
			ids = append(ids, domain.TenantID(field))
		}
	}
	return ids
}

func printBatchSummary(action string, kind domain.EntityKind, sourceID string, summary domain.BatchSummary) {
	fmt.Printf("%s %s %s: %d succeeded, %d unchanged, %d failed\n",
		action, kind, sourceID, summary.Succeeded, summary.Unchanged, summary.Failed)

	for tenantID, reason := range summary.FailuresByTenant {
		fmt.Printf("  %s - %s\n", tenantID, reason)
	}
}

// stdinConsent asks the operator on the terminal before any subtenant is
// touched.
type stdinConsent struct{}

func (stdinConsent) RequestConsent(ctx context.Context) (bool, error) {
	fmt.Print("This run will subscribe a service application to your subtenants and mint per-tenant credentials.  Continue? [y/N]: ")

	answer, err := readLine()
	if err != nil {
		return false, err
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}

	return false, nil
}

// stdinSelector lists the candidate subtenants and reads a comma separated
// subset of tenant ids.  A blank answer selects all of them.
type stdinSelector struct{}

func (stdinSelector) RequestTenantSubset(ctx context.Context, candidates []domain.Tenant) ([]domain.TenantID, error) {

	fmt.Printf("%d subtenants are available:\n", len(candidates))
	for _, candidate := range candidates {
		fmt.Printf("  %s - %s (%s)\n", candidate.ID, candidate.Company, candidate.Domain)
	}

	fmt.Print("Tenant ids to target (comma separated, blank for all): ")

	answer, err := readLine()
	if err != nil {
		return nil, err
	}

	if answer == "" {
		all := make([]domain.TenantID, 0, len(candidates))
		for _, candidate := range candidates {
			all = append(all, candidate.ID)
		}
		return all, nil
	}

	return parseTenantIDs(answer), nil
}

func readLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
