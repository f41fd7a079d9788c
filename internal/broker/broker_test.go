package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/tenant"
)

func init() {
	logger.InitLogger()
}

type fakeTenant struct {
	id         string
	status     string
	subscribed bool
}

// fakePlatform emulates the handful of platform endpoints the broker touches
// and counts every call that has a side effect.
type fakePlatform struct {
	mu      sync.Mutex
	tenants []fakeTenant

	existingApp      *c8y.Application
	failSubscribes   map[string]bool
	tenantLists      int32
	appCreates       int32
	appUpdates       int32
	appDeletes       int32
	subscribes       int32
	unsubscribes     int32
	bootstrapFetches int32

	server *httptest.Server
}

func newFakePlatform(tenants []fakeTenant) *fakePlatform {
	fp := &fakePlatform{tenants: tenants}
	fp.server = httptest.NewServer(http.HandlerFunc(fp.handle))
	return fp
}

func (fp *fakePlatform) handle(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	path := r.URL.Path

	switch {
	case path == "/tenant/tenants" && r.Method == http.MethodGet:
		atomic.AddInt32(&fp.tenantLists, 1)
		fp.writeTenantList(w)

	case path == "/application/applicationsByName/subtenant-management" && r.Method == http.MethodGet:
		apps := []c8y.Application{}
		if fp.existingApp != nil {
			apps = append(apps, *fp.existingApp)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"applications": apps})

	case path == "/application/applications" && r.Method == http.MethodPost:
		atomic.AddInt32(&fp.appCreates, 1)
		var app c8y.Application
		json.NewDecoder(r.Body).Decode(&app)
		app.ID = "app-1"
		fp.existingApp = &app
		json.NewEncoder(w).Encode(app)

	case strings.HasPrefix(path, "/application/applications/") && strings.HasSuffix(path, "/bootstrapUser"):
		atomic.AddInt32(&fp.bootstrapFetches, 1)
		json.NewEncoder(w).Encode(map[string]string{
			"tenant":   "management",
			"name":     "servicebootstrap_app",
			"password": "bootpw",
		})

	case strings.HasPrefix(path, "/application/applications/") && r.Method == http.MethodPut:
		atomic.AddInt32(&fp.appUpdates, 1)
		var app c8y.Application
		json.NewDecoder(r.Body).Decode(&app)
		app.ID = fp.existingApp.ID
		fp.existingApp = &app
		json.NewEncoder(w).Encode(app)

	case strings.HasPrefix(path, "/application/applications/") && r.Method == http.MethodDelete:
		atomic.AddInt32(&fp.appDeletes, 1)
		fp.existingApp = nil
		w.WriteHeader(http.StatusNoContent)

	case path == "/application/currentApplication/subscriptions" && r.Method == http.MethodGet:
		users := []map[string]string{}
		for _, t := range fp.tenants {
			if t.subscribed {
				users = append(users, map[string]string{
					"tenant":   t.id,
					"name":     "service_app_" + t.id,
					"password": "pw_" + t.id,
				})
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"users": users})

	case strings.HasPrefix(path, "/tenant/tenants/") && strings.HasSuffix(path, "/applications") && r.Method == http.MethodPost:
		atomic.AddInt32(&fp.subscribes, 1)
		tenantID := strings.TrimSuffix(strings.TrimPrefix(path, "/tenant/tenants/"), "/applications")
		if fp.failSubscribes[tenantID] {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "tenant/internal", "message": "subscription rejected"}`))
			return
		}
		for i := range fp.tenants {
			if fp.tenants[i].id == tenantID {
				fp.tenants[i].subscribed = true
			}
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("{}"))

	case strings.HasPrefix(path, "/tenant/tenants/") && r.Method == http.MethodDelete:
		atomic.AddInt32(&fp.unsubscribes, 1)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "not/found", "message": "no fake for ` + path + `"}`))
	}
}

func (fp *fakePlatform) writeTenantList(w http.ResponseWriter) {
	tenants := make([]map[string]interface{}, 0, len(fp.tenants))
	for _, t := range fp.tenants {
		entry := map[string]interface{}{
			"id":     t.id,
			"domain": t.id + ".example.com",
			"status": t.status,
		}
		if t.subscribed && fp.existingApp != nil {
			entry["applications"] = map[string]interface{}{
				"references": []map[string]interface{}{
					{"application": map[string]string{"id": fp.existingApp.ID}},
				},
			}
		}
		tenants = append(tenants, entry)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"tenants":    tenants,
		"statistics": map[string]int{"totalPages": 1, "currentPage": 1, "pageSize": 100},
	})
}

func (fp *fakePlatform) close() {
	fp.server.Close()
}

func testBrokerConfig() *config.Config {
	return &config.Config{
		ServiceIdentityName:  "subtenant-management",
		ServiceIdentityRoles: []string{"ROLE_INVENTORY_ADMIN", "ROLE_IDENTITY_ADMIN"},
		PageSize:             100,
	}
}

func newTestBroker(fp *fakePlatform, consent ConsentProvider, selector TenantSelector) *Broker {
	cfg := testBrokerConfig()
	platform := c8y.NewClient(fp.server.URL, "management", "operator", "secret", nil)
	directory := tenant.NewDirectory(platform, cfg.PageSize)
	return NewBroker(cfg, platform, directory, consent, selector, nil)
}

func TestAcquireAllMintsCredentialsPerTenant(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{
		{id: "t100", status: "ACTIVE"},
		{id: "t200", status: "ACTIVE"},
	})
	defer fp.close()

	b := newTestBroker(fp, StaticConsent(true), StaticSelection(nil))

	credentials, err := b.AcquireAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(credentials) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(credentials))
	}

	// Sorted by tenant id.
	if credentials[0].Tenant != "t100" || credentials[1].Tenant != "t200" {
		t.Errorf("wrong credential order: %+v", credentials)
	}
	if credentials[0].User != "service_app_t100" || credentials[0].Password != "pw_t100" {
		t.Errorf("wrong minted credential: %+v", credentials[0])
	}

	if n := atomic.LoadInt32(&fp.appCreates); n != 1 {
		t.Errorf("expected one application create, got %d", n)
	}
	if n := atomic.LoadInt32(&fp.subscribes); n != 2 {
		t.Errorf("expected 2 subscriptions, got %d", n)
	}

	identity, ok := b.ServiceIdentity()
	if !ok || identity.ID != "app-1" {
		t.Errorf("service identity not exposed after acquisition: %+v", identity)
	}

	report, ok := b.SubscriptionReport()
	if !ok || report.Subscribed != 2 || report.AlreadySubscribed != 0 {
		t.Errorf("wrong subscription report: %+v", report)
	}
}

func TestAcquireAllKeepsFailedSubscriptionsInSelection(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{
		{id: "t100", status: "ACTIVE"},
		{id: "t200", status: "ACTIVE"},
	})
	defer fp.close()
	fp.failSubscribes = map[string]bool{"t200": true}

	b := newTestBroker(fp, StaticConsent(true), StaticSelection(nil))

	credentials, err := b.AcquireAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(credentials) != 1 || credentials[0].Tenant != "t100" {
		t.Fatalf("expected a credential for t100 only, got %+v", credentials)
	}

	report, ok := b.SubscriptionReport()
	if !ok || report.Subscribed != 1 || report.Failed != 1 {
		t.Errorf("wrong subscription report: %+v", report)
	}

	selected, ok := b.SelectedTenants()
	if !ok {
		t.Fatal("selection not exposed after acquisition")
	}
	if len(selected) != 2 || selected[0] != "t100" || selected[1] != "t200" {
		t.Errorf("selection must keep the tenant whose subscribe failed: %v", selected)
	}
}

func TestAcquireAllIsSingleFlight(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{{id: "t100", status: "ACTIVE"}})
	defer fp.close()

	b := newTestBroker(fp, StaticConsent(true), StaticSelection(nil))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			credentials, err := b.AcquireAll(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			if len(credentials) != 1 {
				t.Errorf("expected 1 credential, got %d", len(credentials))
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&fp.appCreates); n != 1 {
		t.Errorf("concurrent acquisitions should share one epoch, got %d application creates", n)
	}
	if n := atomic.LoadInt32(&fp.tenantLists); n != 1 {
		t.Errorf("concurrent acquisitions should share one tenant enumeration, got %d", n)
	}
	if n := atomic.LoadInt32(&fp.bootstrapFetches); n != 1 {
		t.Errorf("concurrent acquisitions should share one bootstrap handshake, got %d", n)
	}
}

type sequencedConsent struct {
	answers []bool
	calls   int32
}

func (c *sequencedConsent) RequestConsent(ctx context.Context) (bool, error) {
	call := atomic.AddInt32(&c.calls, 1)
	return c.answers[call-1], nil
}

func TestDeclinedConsentIsReAskable(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{{id: "t100", status: "ACTIVE"}})
	defer fp.close()

	consent := &sequencedConsent{answers: []bool{false, true}}
	b := newTestBroker(fp, consent, StaticSelection(nil))

	_, err := b.AcquireAll(context.Background())
	if !errors.Is(err, ErrConsentDeclined) {
		t.Fatalf("expected ErrConsentDeclined, got %v", err)
	}

	if n := atomic.LoadInt32(&fp.appCreates); n != 0 {
		t.Fatalf("decline must not create the service identity, got %d creates", n)
	}

	// The declined epoch must not be cached: the next attempt re-asks.
	credentials, err := b.AcquireAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(credentials) != 1 {
		t.Errorf("expected 1 credential after granted retry, got %d", len(credentials))
	}

	if n := atomic.LoadInt32(&consent.calls); n != 2 {
		t.Errorf("expected consent to be requested twice, got %d", n)
	}
}

type cancelingSelector struct{}

func (cancelingSelector) RequestTenantSubset(ctx context.Context, candidates []domain.Tenant) ([]domain.TenantID, error) {
	return nil, ErrSelectionCanceled
}

func TestSelectionCancelHasNoTenantSideEffects(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{
		{id: "t100", status: "ACTIVE"},
		{id: "t200", status: "ACTIVE"},
	})
	defer fp.close()

	b := newTestBroker(fp, StaticConsent(true), cancelingSelector{})

	_, err := b.AcquireAll(context.Background())
	if !errors.Is(err, ErrSelectionCanceled) {
		t.Fatalf("expected ErrSelectionCanceled, got %v", err)
	}

	if n := atomic.LoadInt32(&fp.subscribes); n != 0 {
		t.Errorf("cancellation must not subscribe any tenant, got %d subscriptions", n)
	}
	if n := atomic.LoadInt32(&fp.bootstrapFetches); n != 0 {
		t.Errorf("cancellation must not mint credentials, got %d bootstrap fetches", n)
	}
}

func TestSuspendedTenantsAreNotCandidates(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{
		{id: "t100", status: "ACTIVE"},
		{id: "t200", status: "SUSPENDED"},
	})
	defer fp.close()

	var seen []domain.TenantID
	selector := selectorFunc(func(ctx context.Context, candidates []domain.Tenant) ([]domain.TenantID, error) {
		for _, candidate := range candidates {
			seen = append(seen, candidate.ID)
		}
		return StaticSelection(nil).RequestTenantSubset(ctx, candidates)
	})

	b := newTestBroker(fp, StaticConsent(true), selector)

	credentials, err := b.AcquireAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(seen) != 1 || seen[0] != "t100" {
		t.Errorf("suspended tenant offered as candidate: %v", seen)
	}
	if len(credentials) != 1 || credentials[0].Tenant != "t100" {
		t.Errorf("unexpected credentials: %+v", credentials)
	}
}

type selectorFunc func(ctx context.Context, candidates []domain.Tenant) ([]domain.TenantID, error)

func (f selectorFunc) RequestTenantSubset(ctx context.Context, candidates []domain.Tenant) ([]domain.TenantID, error) {
	return f(ctx, candidates)
}

func TestExistingIdentityWithRoleDriftIsUpdated(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{{id: "t100", status: "ACTIVE"}})
	fp.existingApp = &c8y.Application{
		ID:            "app-1",
		Name:          "subtenant-management",
		Key:           "subtenant-management-abc",
		Type:          "MICROSERVICE",
		RequiredRoles: []string{"ROLE_INVENTORY_ADMIN"},
	}
	defer fp.close()

	b := newTestBroker(fp, StaticConsent(true), StaticSelection(nil))

	if _, err := b.AcquireAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if n := atomic.LoadInt32(&fp.appCreates); n != 0 {
		t.Errorf("existing identity must not be recreated, got %d creates", n)
	}
	if n := atomic.LoadInt32(&fp.appUpdates); n != 1 {
		t.Errorf("expected one role sync update, got %d", n)
	}
}

func TestCredentialsAreFilteredToSelection(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{
		{id: "t100", status: "ACTIVE"},
		{id: "t200", status: "ACTIVE", subscribed: true},
	})
	fp.existingApp = &c8y.Application{
		ID:            "app-1",
		Name:          "subtenant-management",
		Key:           "subtenant-management-abc",
		Type:          "MICROSERVICE",
		RequiredRoles: []string{"ROLE_INVENTORY_ADMIN", "ROLE_IDENTITY_ADMIN"},
	}
	defer fp.close()

	b := newTestBroker(fp, StaticConsent(true), StaticSelection([]domain.TenantID{"t100"}))

	credentials, err := b.AcquireAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// t200 is subscribed and the platform reports its service user, but it
	// was not selected for this epoch.
	if len(credentials) != 1 || credentials[0].Tenant != "t100" {
		t.Errorf("credentials were not filtered to the selection: %+v", credentials)
	}
}

func TestAlreadySubscribedTenantsAreSkipped(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{
		{id: "t100", status: "ACTIVE", subscribed: true},
		{id: "t200", status: "ACTIVE"},
	})
	fp.existingApp = &c8y.Application{
		ID:            "app-1",
		Name:          "subtenant-management",
		Key:           "subtenant-management-abc",
		Type:          "MICROSERVICE",
		RequiredRoles: []string{"ROLE_INVENTORY_ADMIN", "ROLE_IDENTITY_ADMIN"},
	}
	defer fp.close()

	b := newTestBroker(fp, StaticConsent(true), StaticSelection(nil))

	if _, err := b.AcquireAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if n := atomic.LoadInt32(&fp.subscribes); n != 1 {
		t.Errorf("already subscribed tenant should be skipped, got %d subscribe calls", n)
	}

	report, _ := b.SubscriptionReport()
	if report.Subscribed != 1 || report.AlreadySubscribed != 1 {
		t.Errorf("wrong report: %+v", report)
	}
}

func TestInvalidateStartsFreshEpoch(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{{id: "t100", status: "ACTIVE"}})
	defer fp.close()

	consent := &sequencedConsent{answers: []bool{true, true}}
	b := newTestBroker(fp, consent, StaticSelection(nil))

	if _, err := b.AcquireAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	b.Invalidate()

	if _, err := b.AcquireAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if n := atomic.LoadInt32(&consent.calls); n != 2 {
		t.Errorf("invalidation should force consent to be re-asked, got %d requests", n)
	}
}

func TestCleanupUnsubscribesAndDeletesIdentity(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{
		{id: "t100", status: "ACTIVE", subscribed: true},
		{id: "t200", status: "ACTIVE", subscribed: true},
		{id: "t300", status: "ACTIVE"},
	})
	fp.existingApp = &c8y.Application{
		ID:            "app-1",
		Name:          "subtenant-management",
		Key:           "subtenant-management-abc",
		Type:          "MICROSERVICE",
		RequiredRoles: []string{"ROLE_INVENTORY_ADMIN", "ROLE_IDENTITY_ADMIN"},
	}
	defer fp.close()

	b := newTestBroker(fp, StaticConsent(true), StaticSelection(nil))

	report, err := b.Cleanup(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.Unsubscribed != 2 || report.Failed != 0 {
		t.Errorf("wrong cleanup report: %+v", report)
	}
	if report.IdentityExists {
		t.Error("identity should be gone after cleanup")
	}

	if n := atomic.LoadInt32(&fp.unsubscribes); n != 2 {
		t.Errorf("expected 2 unsubscribe calls, got %d", n)
	}
	if n := atomic.LoadInt32(&fp.appDeletes); n != 1 {
		t.Errorf("expected the identity to be deleted once, got %d", n)
	}
}

func TestCleanupWithoutIdentityIsNoOp(t *testing.T) {

	fp := newFakePlatform([]fakeTenant{{id: "t100", status: "ACTIVE"}})
	defer fp.close()

	b := newTestBroker(fp, StaticConsent(true), StaticSelection(nil))

	report, err := b.Cleanup(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.IdentityExists || report.Unsubscribed != 0 {
		t.Errorf("expected a no-op report, got %+v", report)
	}
	if n := atomic.LoadInt32(&fp.unsubscribes); n != 0 {
		t.Errorf("no-op cleanup should not unsubscribe, got %d", n)
	}
}
