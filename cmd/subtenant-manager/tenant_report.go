package main

import (
	"context"
	"fmt"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/tenant"
)

func startTenantReport() {

	logger.InitLogger()

	logger.Log.Info("Starting Subtenant-Management tenant report")

	cfg := config.GetConfig()
	logger.Log.Info("Subtenant-Management configuration:\n", cfg)

	platform := buildOperatorClient(cfg)

	directory := tenant.NewDirectory(platform, cfg.PageSize)

	tenants, err := directory.List(context.Background())
	if err != nil {
		logger.LogFatalError("Unable to enumerate subtenants", err)
	}

	var suspended int
	for _, t := range tenants {
		fmt.Printf("%s - %s (%s) %s\n", t.ID, t.Company, t.Domain, t.Status)
		if t.Status == domain.TenantStatusSuspended {
			suspended++
		}
	}

	fmt.Printf("%d subtenants, %d suspended\n", len(tenants), suspended)
}
