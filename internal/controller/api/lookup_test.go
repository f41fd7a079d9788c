package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/audit"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/controller"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/middlewares"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/paging"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/reconcile"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/tenant"

	"github.com/gorilla/mux"
)

var _ = Describe("Lookup API pagination - 11 tenants total", func() {

	var (
		tp     *testPlatform
		apiMux *mux.Router
	)

	authenticatedGet := func(endpoint string) *httptest.ResponseRecorder {
		req, err := http.NewRequest("GET", endpoint, nil)
		Expect(err).NotTo(HaveOccurred())

		req.Header.Add(middlewares.PSKClientIdHeader, TEST_CLIENT_ID)
		req.Header.Add(middlewares.PSKHeader, TEST_PSK)

		rr := httptest.NewRecorder()
		apiMux.ServeHTTP(rr, req)
		return rr
	}

	decodePage := func(rr *httptest.ResponseRecorder) (meta map[string]interface{}, links map[string]interface{}, data []interface{}) {
		var page map[string]interface{}
		json.Unmarshal(rr.Body.Bytes(), &page)
		meta, _ = page["meta"].(map[string]interface{})
		links, _ = page["links"].(map[string]interface{})
		data, _ = page["data"].([]interface{})
		return meta, links, data
	}

	BeforeEach(func() {
		tenantIDs := make([]string, 0, 11)
		for i := 0; i < 11; i++ {
			tenantIDs = append(tenantIDs, fmt.Sprintf("t%03d", i))
		}
		tp = newTestPlatform(tenantIDs...)

		cfg := config.GetConfig()
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

	Describe("Listing the subtenant directory", func() {
		It("Should report the total while returning only the requested page", func() {

			rr := authenticatedGet(TENANT_LIST_ENDPOINT + "?offset=0&limit=4")

			Expect(rr.Code).To(Equal(http.StatusOK))

			meta, links, data := decodePage(rr)
			Expect(meta).Should(HaveKeyWithValue("count", float64(11)))
			Expect(data).To(HaveLen(4))

			Expect(links).Should(HaveKey("first"))
			Expect(links).Should(HaveKey("last"))
			Expect(links).Should(HaveKey("next"))
			Expect(links).ShouldNot(HaveKey("prev"))
		})

		It("Should link back from an interior page", func() {

			rr := authenticatedGet(TENANT_LIST_ENDPOINT + "?offset=4&limit=4")

			Expect(rr.Code).To(Equal(http.StatusOK))

			meta, links, data := decodePage(rr)
			Expect(meta).Should(HaveKeyWithValue("count", float64(11)))
			Expect(data).To(HaveLen(4))

			Expect(links).Should(HaveKey("next"))
			Expect(links).Should(HaveKey("prev"))
		})

		It("Should return a short final page without a next link", func() {

			rr := authenticatedGet(TENANT_LIST_ENDPOINT + "?offset=8&limit=4")

			Expect(rr.Code).To(Equal(http.StatusOK))

			_, links, data := decodePage(rr)
			Expect(data).To(HaveLen(3))

			Expect(links).ShouldNot(HaveKey("next"))
			Expect(links).Should(HaveKey("prev"))
		})

		It("Should return an empty page past the end", func() {

			rr := authenticatedGet(TENANT_LIST_ENDPOINT + "?offset=100&limit=4")

			Expect(rr.Code).To(Equal(http.StatusOK))

			meta, _, data := decodePage(rr)
			Expect(meta).Should(HaveKeyWithValue("count", float64(11)))
			Expect(data).To(BeEmpty())
		})
	})

	Describe("Listing merged entities", func() {
		It("Should require an open session", func() {

			rr := authenticatedGet(RULE_LIST_ENDPOINT)

			Expect(rr.Code).To(Equal(http.StatusConflict))
		})

		It("Should merge contributions from every session tenant", func() {

			tp.mu.Lock()
			tp.rules["t000"] = []c8y.Rule{{ID: "1", Name: "alpha"}}
			tp.rules["t001"] = []c8y.Rule{{ID: "2", Name: "beta"}, {ID: "3", Name: "gamma"}}
			tp.mu.Unlock()

			rr := authenticatedRequestInMux(apiMux, "POST", SESSION_ENDPOINT, createSessionPostBody(true))
			Expect(rr.Code).To(Equal(http.StatusCreated))

			rr = authenticatedGet(RULE_LIST_ENDPOINT)

			Expect(rr.Code).To(Equal(http.StatusOK))

			meta, _, data := decodePage(rr)
			Expect(meta).Should(HaveKeyWithValue("count", float64(3)))
			Expect(data).To(HaveLen(3))
		})

		It("Should reject an unknown entity kind", func() {

			rr := authenticatedRequestInMux(apiMux, "POST", SESSION_ENDPOINT, createSessionPostBody(true))
			Expect(rr.Code).To(Equal(http.StatusCreated))

			rr = authenticatedGet(URL_BASE_PATH + "/entities/doorbell")

			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
