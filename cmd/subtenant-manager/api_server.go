package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/audit"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/controller"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/controller/api"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/paging"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/utils"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/reconcile"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/tenant"

	"github.com/gorilla/mux"
	"github.com/redhatinsights/platform-go-middlewares/request_id"
)

func startApiServer(mgmtAddr string) {

	logger.InitLogger()

	logger.Log.Info("Starting Subtenant-Management service")

	cfg := config.GetConfig()
	logger.Log.Info("Subtenant-Management configuration:\n", cfg)

	platform := buildOperatorClient(cfg)

	directory := tenant.NewDirectory(platform, cfg.PageSize)

	coordinator, err := controller.NewCoordinator(cfg, platform, directory)
	if err != nil {
		logger.LogFatalError("Unable to create the session coordinator", err)
	}

	flusher := paging.NewMutationFlusher()

	datasource := controller.NewDatasource(cfg.PageSize, cfg.LookupCacheTTL, flusher)

	auditEmitter := audit.NewEmitter(cfg)

	engine := reconcile.NewEngine(cfg.PageSize, flusher, auditEmitter)

	apiMux := mux.NewRouter()
	apiMux.Use(request_id.ConfiguredRequestID("x-subtenant-mgmt-request-id"))

	monitoringServer := api.NewMonitoringServer(apiMux, cfg, directory)
	monitoringServer.Routes()

	lookupServer := api.NewLookupServer(coordinator, datasource, apiMux, cfg)
	lookupServer.Routes()

	provisioningServer := api.NewProvisioningServer(coordinator, engine, apiMux, cfg)
	provisioningServer.Routes()

	apiSrv := utils.StartHTTPServer(mgmtAddr, "management", apiMux)

	signalChan := make(chan os.Signal, 1)

	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	logger.Log.Info("Received signal to shutdown: ", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	utils.ShutdownHTTPServer(ctx, "management", apiSrv)

	if err := auditEmitter.Close(); err != nil {
		logger.LogError("Unable to close the audit emitter cleanly", err)
	}

	logger.Log.Info("Subtenant-Management shutting down")
}

func buildOperatorClient(cfg *config.Config) *c8y.Client {

	if cfg.OperatorUsername == "" || cfg.OperatorPassword == "" {
		logger.Log.Fatal("Operator credentials are not configured")
	}

	httpClient := &http.Client{Timeout: cfg.HttpClientTimeout}

	return c8y.NewClient(cfg.PlatformBaseUrl, cfg.OperatorTenant, cfg.OperatorUsername, cfg.OperatorPassword, httpClient)
}
