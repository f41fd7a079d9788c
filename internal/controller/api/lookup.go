package api

import (
	"net/http"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/controller"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/middlewares"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// LookupServer serves the read side: the subtenant directory and merged
// multi-tenant entity listings.
type LookupServer struct {
	coordinator *controller.Coordinator
	datasource  *controller.Datasource
	router      *mux.Router
	config      *config.Config
}

func NewLookupServer(coordinator *controller.Coordinator, datasource *controller.Datasource, r *mux.Router, cfg *config.Config) *LookupServer {
	return &LookupServer{
		coordinator: coordinator,
		datasource:  datasource,
		router:      r,
		config:      cfg,
	}
}

func (s *LookupServer) Routes() {
	mmw := &middlewares.MetricsMiddleware{}
	amw := &middlewares.AuthMiddleware{Secrets: s.config.ServiceToServiceCredentials}

	securedSubRouter := s.router.PathPrefix(s.config.UrlBasePath).Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		amw.Authenticate)

	securedSubRouter.HandleFunc("/tenants", s.handleTenantListing()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/entities/{kind}", s.handleEntityListing()).Methods(http.MethodGet)
}

func (s *LookupServer) handleTenantListing() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		tenants, err := s.coordinator.Directory().List(req.Context())
		if err != nil {
			errorResponse := errorResponse{Title: "Unable to enumerate subtenants",
				Status: http.StatusBadGateway,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		offset, limit := getOffsetAndLimitFromURL(req.URL, s.config.PageSize)
		page := pageSlice(tenants, offset, limit)

		writeJSONResponse(w, http.StatusOK,
			buildPaginatedResponse(req.URL, offset, limit, len(tenants), 0, page))
	}
}

func (s *LookupServer) handleEntityListing() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		kind := domain.EntityKind(mux.Vars(req)["kind"])

		clients, err := s.coordinator.Clients()
		if err != nil {
			errorResponse := errorResponse{Title: "No open session",
				Status: http.StatusConflict,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		items, dropped, err := s.datasource.List(req.Context(), kind, clients)
		if err != nil {
			errorResponse := errorResponse{Title: "Unable to list entities",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		if dropped > 0 {
			logger.Log.WithFields(logrus.Fields{
				"kind":    kind,
				"dropped": dropped}).Warn("Merged entity listing is missing tenant contributions")
		}

		offset, limit := getOffsetAndLimitFromURL(req.URL, s.config.PageSize)
		page := pageSlice(items, offset, limit)

		writeJSONResponse(w, http.StatusOK,
			buildPaginatedResponse(req.URL, offset, limit, len(items), dropped, page))
	}
}
