package api

import (
	"errors"
	"net/http"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/broker"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/controller"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/middlewares"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/reconcile"

	"github.com/gorilla/mux"
	"github.com/redhatinsights/platform-go-middlewares/request_id"
	"github.com/sirupsen/logrus"
)

// ProvisioningServer serves the write side: session lifecycle and idempotent
// cross-tenant provisioning per entity kind.
type ProvisioningServer struct {
	coordinator *controller.Coordinator
	engine      *reconcile.Engine
	router      *mux.Router
	config      *config.Config
}

func NewProvisioningServer(coordinator *controller.Coordinator, engine *reconcile.Engine, r *mux.Router, cfg *config.Config) *ProvisioningServer {
	return &ProvisioningServer{
		coordinator: coordinator,
		engine:      engine,
		router:      r,
		config:      cfg,
	}
}

func (s *ProvisioningServer) Routes() {
	mmw := &middlewares.MetricsMiddleware{}
	amw := &middlewares.AuthMiddleware{Secrets: s.config.ServiceToServiceCredentials}

	securedSubRouter := s.router.PathPrefix(s.config.UrlBasePath).Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		amw.Authenticate)

	securedSubRouter.HandleFunc("/session", s.handleOpenSession()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/session", s.handleDropSession()).Methods(http.MethodDelete)
	securedSubRouter.HandleFunc("/cleanup", s.handleCleanup()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/provision/{kind}", s.handleProvision()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/deprovision/{kind}", s.handleDeprovision()).Methods(http.MethodPost)
}

type sessionRequest struct {
	Consent   bool     `json:"consent"`
	TenantIDs []string `json:"tenant_ids"`
}

type provisionRequest struct {
	SourceID string `json:"source_id" validate:"required"`
}

type cleanupResponse struct {
	Unsubscribed   int    `json:"unsubscribed"`
	Failed         int    `json:"failed"`
	IdentityExists bool   `json:"identity_exists"`
	Detail         string `json:"detail,omitempty"`
}

func (s *ProvisioningServer) handleOpenSession() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		requestId := request_id.GetReqID(req.Context())
		log := logger.Log.WithFields(logrus.Fields{"request_id": requestId})

		body := http.MaxBytesReader(w, req.Body, 1048576)

		var sessionReq sessionRequest
		if err := decodeJSON(body, &sessionReq); err != nil {
			errorResponse := errorResponse{Title: "Unable to process json input",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		tenants := make([]domain.TenantID, 0, len(sessionReq.TenantIDs))
		for _, id := range sessionReq.TenantIDs {
			tenants = append(tenants, domain.TenantID(id))
		}

		counts, err := s.coordinator.OpenSession(req.Context(), sessionReq.Consent, tenants)
		if err != nil {
			log.WithFields(logrus.Fields{"error": err}).Info("Session acquisition failed")
			writeJSONResponse(w, sessionErrorStatus(err), errorResponse{
				Title:  "Unable to open session",
				Status: sessionErrorStatus(err),
				Detail: err.Error()})
			return
		}

		log.Infof("Session opened covering %d tenants (%d clients)", counts.Selected, counts.Clients)

		writeJSONResponse(w, http.StatusCreated, counts)
	}
}

func (s *ProvisioningServer) handleDropSession() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {
		s.coordinator.Invalidate()
		writeJSONResponse(w, http.StatusNoContent, nil)
	}
}

func (s *ProvisioningServer) handleCleanup() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		report, err := s.coordinator.CloseSession(req.Context())

		response := cleanupResponse{
			Unsubscribed:   report.Unsubscribed,
			Failed:         report.Failed,
			IdentityExists: report.IdentityExists,
		}
		if err != nil {
			// Best-effort teardown: surface what failed, never pretend
			// silence is success.
			response.Detail = err.Error()
		}

		writeJSONResponse(w, http.StatusOK, response)
	}
}

func (s *ProvisioningServer) handleProvision() http.HandlerFunc {
	return s.handleBatch("provision")
}

func (s *ProvisioningServer) handleDeprovision() http.HandlerFunc {
	return s.handleBatch("deprovision")
}

func (s *ProvisioningServer) handleBatch(action string) http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		kind := domain.EntityKind(mux.Vars(req)["kind"])

		body := http.MaxBytesReader(w, req.Body, 1048576)

		var provisionReq provisionRequest
		if err := decodeJSON(body, &provisionReq); err != nil {
			errorResponse := errorResponse{Title: "Unable to process json input",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		clients, err := s.coordinator.Clients()
		if err != nil {
			errorResponse := errorResponse{Title: "No open session",
				Status: http.StatusConflict,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		summary, err := controller.RunBatch(req.Context(), s.engine,
			s.coordinator.Operator(), s.coordinator.Source(),
			action, kind, provisionReq.SourceID, clients)
		if err != nil {
			errorResponse := errorResponse{Title: "Batch failed",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		// A selected tenant without a minted credential is reported as a
		// failure for that tenant, never silently skipped.
		for _, missing := range s.coordinator.MissingTenants() {
			summary.RecordFailure(missing, controller.ErrNoCredential)
		}

		writeJSONResponse(w, http.StatusOK, summary)
	}
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, broker.ErrConsentDeclined):
		return http.StatusForbidden
	case errors.Is(err, broker.ErrSelectionCanceled):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
