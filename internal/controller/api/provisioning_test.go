package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/audit"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/controller"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/middlewares"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/paging"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/reconcile"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/tenant"

	"github.com/gorilla/mux"
)

const (
	URL_BASE_PATH = "/api/subtenant-management/v1"

	SESSION_ENDPOINT        = URL_BASE_PATH + "/session"
	CLEANUP_ENDPOINT        = URL_BASE_PATH + "/cleanup"
	PROVISION_RULE_ENDPOINT = URL_BASE_PATH + "/provision/rule"
	TENANT_LIST_ENDPOINT    = URL_BASE_PATH + "/tenants"
	RULE_LIST_ENDPOINT      = URL_BASE_PATH + "/entities/rule"

	TEST_CLIENT_ID = "test_client_1"
	TEST_PSK       = "12345"

	SOURCE_RULE_ID = "src-1"
)

func init() {
	logger.InitLogger()
}

// testPlatform emulates the operator tenant, the application registry and
// the per-tenant rule stores behind one server.  Requests are attributed to
// a tenant through the tenant-qualified basic auth username.
type testPlatform struct {
	mu      sync.Mutex
	tenants []string

	app            *c8y.Application
	subscribed     map[string]bool
	failSubscribes map[string]bool
	rules          map[string][]c8y.Rule
	nextRuleID     int

	server *httptest.Server
}

func newTestPlatform(tenants ...string) *testPlatform {
	tp := &testPlatform{
		tenants:    tenants,
		subscribed: make(map[string]bool),
		rules:      make(map[string][]c8y.Rule),
		nextRuleID: 100,
	}
	tp.rules["management"] = []c8y.Rule{
		{ID: SOURCE_RULE_ID, Name: "threshold-alarm", Body: "module x;"},
	}
	tp.server = httptest.NewServer(http.HandlerFunc(tp.handle))
	return tp
}

func (tp *testPlatform) close() {
	tp.server.Close()
}

func (tp *testPlatform) authTenant(r *http.Request) string {
	username, _, _ := r.BasicAuth()
	if slash := strings.IndexByte(username, '/'); slash >= 0 {
		return username[:slash]
	}
	return username
}

func (tp *testPlatform) handle(w http.ResponseWriter, r *http.Request) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	path := r.URL.Path

	switch {
	case path == "/tenant/tenants" && r.Method == http.MethodGet:
		tp.writeTenantList(w)

	case path == "/application/applicationsByName/subtenant-management" && r.Method == http.MethodGet:
		apps := []c8y.Application{}
		if tp.app != nil {
			apps = append(apps, *tp.app)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"applications": apps})

	case path == "/application/applications" && r.Method == http.MethodPost:
		var app c8y.Application
		json.NewDecoder(r.Body).Decode(&app)
		app.ID = "app-1"
		tp.app = &app
		json.NewEncoder(w).Encode(app)

	case strings.HasPrefix(path, "/application/applications/") && strings.HasSuffix(path, "/bootstrapUser"):
		json.NewEncoder(w).Encode(map[string]string{
			"tenant":   "management",
			"name":     "servicebootstrap_app",
			"password": "bootpw",
		})

	case strings.HasPrefix(path, "/application/applications/") && r.Method == http.MethodPut:
		var app c8y.Application
		json.NewDecoder(r.Body).Decode(&app)
		app.ID = tp.app.ID
		tp.app = &app
		json.NewEncoder(w).Encode(app)

	case strings.HasPrefix(path, "/application/applications/") && r.Method == http.MethodDelete:
		tp.app = nil
		w.WriteHeader(http.StatusNoContent)

	case path == "/application/currentApplication/subscriptions" && r.Method == http.MethodGet:
		users := []map[string]string{}
		for _, id := range tp.tenants {
			if tp.subscribed[id] {
				users = append(users, map[string]string{
					"tenant":   id,
					"name":     "service_app_" + id,
					"password": "pw_" + id,
				})
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"users": users})

	case strings.HasPrefix(path, "/tenant/tenants/") && strings.HasSuffix(path, "/applications") && r.Method == http.MethodPost:
		tenantID := strings.TrimSuffix(strings.TrimPrefix(path, "/tenant/tenants/"), "/applications")
		if tp.failSubscribes[tenantID] {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "tenant/internal", "message": "subscription rejected"}`))
			return
		}
		tp.subscribed[tenantID] = true
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("{}"))

	case strings.HasPrefix(path, "/tenant/tenants/") && r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)

	case path == "/service/cep/modules" && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(map[string]interface{}{
			"modules":    tp.rules[tp.authTenant(r)],
			"statistics": map[string]int{"totalPages": 1, "currentPage": 1},
		})

	case path == "/service/cep/modules" && r.Method == http.MethodPost:
		var rule c8y.Rule
		json.NewDecoder(r.Body).Decode(&rule)
		tp.nextRuleID++
		rule.ID = strconv.Itoa(tp.nextRuleID)
		owner := tp.authTenant(r)
		tp.rules[owner] = append(tp.rules[owner], rule)
		json.NewEncoder(w).Encode(rule)

	case strings.HasPrefix(path, "/service/cep/modules/") && r.Method == http.MethodGet:
		id := strings.TrimPrefix(path, "/service/cep/modules/")
		for _, rule := range tp.rules[tp.authTenant(r)] {
			if rule.ID == id {
				json.NewEncoder(w).Encode(rule)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "cep/notFound", "message": "module not found"}`))

	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "not/found", "message": "no fake for ` + path + `"}`))
	}
}

func (tp *testPlatform) writeTenantList(w http.ResponseWriter) {
	tenants := make([]map[string]interface{}, 0, len(tp.tenants))
	for _, id := range tp.tenants {
		entry := map[string]interface{}{
			"id":      id,
			"domain":  id + ".example.com",
			"company": "Tenant " + id,
			"status":  "ACTIVE",
		}
		if tp.subscribed[id] && tp.app != nil {
			entry["applications"] = map[string]interface{}{
				"references": []map[string]interface{}{
					{"application": map[string]string{"id": tp.app.ID}},
				},
			}
		}
		tenants = append(tenants, entry)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"tenants":    tenants,
		"statistics": map[string]int{"totalPages": 1, "currentPage": 1},
	})
}

func createSessionPostBody(consent bool) io.Reader {
	jsonString := fmt.Sprintf("{\"consent\": %t, \"tenant_ids\": []}", consent)
	return strings.NewReader(jsonString)
}

func createProvisionPostBody(sourceID string) io.Reader {
	jsonString := fmt.Sprintf("{\"source_id\": \"%s\"}", sourceID)
	return strings.NewReader(jsonString)
}

func authenticatedRequestInMux(router *mux.Router, method string, endpoint string, body io.Reader) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, endpoint, body)
	Expect(err).NotTo(HaveOccurred())

	req.Header.Add(middlewares.PSKClientIdHeader, TEST_CLIENT_ID)
	req.Header.Add(middlewares.PSKHeader, TEST_PSK)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

var _ = Describe("Provisioning", func() {

	var (
		tp     *testPlatform
		apiMux *mux.Router
		cfg    *config.Config
	)

	authenticatedRequest := func(method string, endpoint string, body io.Reader) *httptest.ResponseRecorder {
		return authenticatedRequestInMux(apiMux, method, endpoint, body)
	}

	openSession := func() {
		rr := authenticatedRequest("POST", SESSION_ENDPOINT, createSessionPostBody(true))
		Expect(rr.Code).To(Equal(http.StatusCreated))
	}

	BeforeEach(func() {
		tp = newTestPlatform("t100", "t200")

		cfg = config.GetConfig()
		cfg.ServiceToServiceCredentials[TEST_CLIENT_ID] = TEST_PSK
		cfg.PlatformBaseUrl = tp.server.URL
		cfg.PageSize = 100

		operator := c8y.NewClient(tp.server.URL, cfg.OperatorTenant, "operator", "secret", nil)
		directory := tenant.NewDirectory(operator, cfg.PageSize)

		coordinator, err := controller.NewCoordinator(cfg, operator, directory)
		Expect(err).NotTo(HaveOccurred())

		flusher := paging.NewMutationFlusher()
		datasource := controller.NewDatasource(cfg.PageSize, cfg.LookupCacheTTL, flusher)
		engine := reconcile.NewEngine(cfg.PageSize, flusher, audit.NewEmitter(cfg))

		apiMux = mux.NewRouter()

		ps := NewProvisioningServer(coordinator, engine, apiMux, cfg)
		ps.Routes()

		ls := NewLookupServer(coordinator, datasource, apiMux, cfg)
		ls.Routes()
	})

	AfterEach(func() {
		tp.close()
	})

	Describe("Authenticating with the management API", func() {
		Context("Without the PSK headers", func() {
			It("Should reject the request", func() {

				req, err := http.NewRequest("POST", SESSION_ENDPOINT, createSessionPostBody(true))
				Expect(err).NotTo(HaveOccurred())

				rr := httptest.NewRecorder()
				apiMux.ServeHTTP(rr, req)

				Expect(rr.Code).To(Equal(http.StatusUnauthorized))
			})
		})

		Context("With an unknown PSK", func() {
			It("Should reject the request", func() {

				req, err := http.NewRequest("POST", SESSION_ENDPOINT, createSessionPostBody(true))
				Expect(err).NotTo(HaveOccurred())

				req.Header.Add(middlewares.PSKClientIdHeader, TEST_CLIENT_ID)
				req.Header.Add(middlewares.PSKHeader, "wrong-psk")

				rr := httptest.NewRecorder()
				apiMux.ServeHTTP(rr, req)

				Expect(rr.Code).To(Equal(http.StatusUnauthorized))
			})
		})
	})

	Describe("Opening a session", func() {
		Context("With operator consent", func() {
			It("Should mint a client for every active subtenant", func() {

				rr := authenticatedRequest("POST", SESSION_ENDPOINT, createSessionPostBody(true))

				Expect(rr.Code).To(Equal(http.StatusCreated))

				var counts map[string]interface{}
				json.Unmarshal(rr.Body.Bytes(), &counts)
				Expect(counts).Should(HaveKeyWithValue("selected", float64(2)))
				Expect(counts).Should(HaveKeyWithValue("clients", float64(2)))
				Expect(counts).Should(HaveKeyWithValue("subscribed", float64(2)))
			})
		})

		Context("With a tenant whose subscription fails", func() {
			It("Should keep the tenant in the selection and report it missing", func() {

				tp.failSubscribes = map[string]bool{"t200": true}

				rr := authenticatedRequest("POST", SESSION_ENDPOINT, createSessionPostBody(true))

				Expect(rr.Code).To(Equal(http.StatusCreated))

				var counts map[string]interface{}
				json.Unmarshal(rr.Body.Bytes(), &counts)
				Expect(counts).Should(HaveKeyWithValue("selected", float64(2)))
				Expect(counts).Should(HaveKeyWithValue("clients", float64(1)))
				Expect(counts).Should(HaveKeyWithValue("subscribe_failed", float64(1)))
				Expect(counts).Should(HaveKeyWithValue("missing_tenants", ConsistOf("t200")))
			})
		})

		Context("With consent declined", func() {
			It("Should refuse the session and touch no tenant", func() {

				rr := authenticatedRequest("POST", SESSION_ENDPOINT, createSessionPostBody(false))

				Expect(rr.Code).To(Equal(http.StatusForbidden))
				Expect(tp.subscribed).To(BeEmpty())
			})
		})

		Context("With a malformed body", func() {
			It("Should report a bad request", func() {

				rr := authenticatedRequest("POST", SESSION_ENDPOINT, strings.NewReader("{not json"))

				Expect(rr.Code).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("Provisioning an entity across tenants", func() {
		Context("Without an open session", func() {
			It("Should report a conflict", func() {

				rr := authenticatedRequest("POST", PROVISION_RULE_ENDPOINT, createProvisionPostBody(SOURCE_RULE_ID))

				Expect(rr.Code).To(Equal(http.StatusConflict))
			})
		})

		Context("With an open session", func() {
			It("Should copy the source rule into every tenant", func() {

				openSession()

				rr := authenticatedRequest("POST", PROVISION_RULE_ENDPOINT, createProvisionPostBody(SOURCE_RULE_ID))

				Expect(rr.Code).To(Equal(http.StatusOK))

				var summary map[string]interface{}
				json.Unmarshal(rr.Body.Bytes(), &summary)
				Expect(summary).Should(HaveKeyWithValue("succeeded", float64(2)))
				Expect(summary).Should(HaveKeyWithValue("failed", float64(0)))

				Expect(tp.rules["t100"]).To(HaveLen(1))
				Expect(tp.rules["t200"]).To(HaveLen(1))
			})

			It("Should report an idempotent re-run as unchanged", func() {

				openSession()

				rr := authenticatedRequest("POST", PROVISION_RULE_ENDPOINT, createProvisionPostBody(SOURCE_RULE_ID))
				Expect(rr.Code).To(Equal(http.StatusOK))

				rr = authenticatedRequest("POST", PROVISION_RULE_ENDPOINT, createProvisionPostBody(SOURCE_RULE_ID))
				Expect(rr.Code).To(Equal(http.StatusOK))

				var summary map[string]interface{}
				json.Unmarshal(rr.Body.Bytes(), &summary)
				Expect(summary).Should(HaveKeyWithValue("succeeded", float64(0)))
				Expect(summary).Should(HaveKeyWithValue("unchanged", float64(2)))

				Expect(tp.rules["t100"]).To(HaveLen(1))
				Expect(tp.rules["t200"]).To(HaveLen(1))
			})

			It("Should report a selected tenant without a credential as failed", func() {

				tp.failSubscribes = map[string]bool{"t200": true}
				openSession()

				rr := authenticatedRequest("POST", PROVISION_RULE_ENDPOINT, createProvisionPostBody(SOURCE_RULE_ID))

				Expect(rr.Code).To(Equal(http.StatusOK))

				var summary map[string]interface{}
				json.Unmarshal(rr.Body.Bytes(), &summary)
				Expect(summary).Should(HaveKeyWithValue("succeeded", float64(1)))
				Expect(summary).Should(HaveKeyWithValue("failed", float64(1)))
				Expect(summary).Should(HaveKeyWithValue("failures_by_tenant", HaveKey("t200")))

				Expect(tp.rules["t100"]).To(HaveLen(1))
				Expect(tp.rules["t200"]).To(BeEmpty())
			})

			It("Should reject a source id that does not exist", func() {

				openSession()

				rr := authenticatedRequest("POST", PROVISION_RULE_ENDPOINT, createProvisionPostBody("no-such-rule"))

				Expect(rr.Code).To(Equal(http.StatusBadRequest))
			})

			It("Should reject an unknown entity kind", func() {

				openSession()

				rr := authenticatedRequest("POST", URL_BASE_PATH+"/provision/doorbell", createProvisionPostBody(SOURCE_RULE_ID))

				Expect(rr.Code).To(Equal(http.StatusBadRequest))
			})

			It("Should require a source id", func() {

				openSession()

				rr := authenticatedRequest("POST", PROVISION_RULE_ENDPOINT, strings.NewReader("{}"))

				Expect(rr.Code).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("Dropping a session", func() {
		It("Should invalidate the epoch so batches need a fresh session", func() {

			openSession()

			rr := authenticatedRequest("DELETE", SESSION_ENDPOINT, nil)
			Expect(rr.Code).To(Equal(http.StatusNoContent))

			rr = authenticatedRequest("POST", PROVISION_RULE_ENDPOINT, createProvisionPostBody(SOURCE_RULE_ID))
			Expect(rr.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("Cleaning up the service identity", func() {
		It("Should unsubscribe every tenant and delete the identity", func() {

			openSession()

			rr := authenticatedRequest("POST", CLEANUP_ENDPOINT, nil)

			Expect(rr.Code).To(Equal(http.StatusOK))

			var report map[string]interface{}
			json.Unmarshal(rr.Body.Bytes(), &report)
			Expect(report).Should(HaveKeyWithValue("unsubscribed", float64(2)))
			Expect(report).Should(HaveKeyWithValue("identity_exists", false))

			Expect(tp.app).To(BeNil())
		})

		It("Should be a no-op when no identity exists", func() {

			rr := authenticatedRequest("POST", CLEANUP_ENDPOINT, nil)

			Expect(rr.Code).To(Equal(http.StatusOK))

			var report map[string]interface{}
			json.Unmarshal(rr.Body.Bytes(), &report)
			Expect(report).Should(HaveKeyWithValue("unsubscribed", float64(0)))
		})
	})
})
