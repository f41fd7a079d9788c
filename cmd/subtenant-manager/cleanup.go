package main

import (
	"context"
	"fmt"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/broker"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/config"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/tenant"
)

func startCleanup() {

	logger.InitLogger()

	logger.Log.Info("Starting Subtenant-Management cleanup")

	cfg := config.GetConfig()
	logger.Log.Info("Subtenant-Management configuration:\n", cfg)

	platform := buildOperatorClient(cfg)

	directory := tenant.NewDirectory(platform, cfg.PageSize)

	b := broker.NewBroker(cfg, platform, directory,
		broker.StaticConsent(true), broker.StaticSelection(nil), nil)

	report, err := b.Cleanup(context.Background())
	if err != nil {
		logger.LogError("Cleanup finished with errors", err)
	}

	fmt.Printf("cleanup: %d unsubscribed, %d failed\n", report.Unsubscribed, report.Failed)
	if report.IdentityExists {
		fmt.Println("the service identity could not be deleted and still exists")
	}
}
