package main

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {

	var listenAddr string
	var kind string
	var sourceID string
	var tenants string
	var assumeYes bool

	// rootCmd represents the base command when called without any subcommands
	var rootCmd = &cobra.Command{
		Use: "subtenant-manager",
	}

	// apiServerCmd represents the apiServer command
	var apiServerCmd = &cobra.Command{
		Use:   "api_server",
		Short: "Subtenant Management API Server",
		Run: func(cmd *cobra.Command, args []string) {
			startApiServer(listenAddr)
		},
	}

	var provisionCmd = &cobra.Command{
		Use:   "provision",
		Short: "Distribute one source entity to the selected subtenants",
		Run: func(cmd *cobra.Command, args []string) {
			startProvisionRun("provision", kind, sourceID, tenants, assumeYes)
		},
	}

	var deprovisionCmd = &cobra.Command{
		Use:   "deprovision",
		Short: "Remove a previously distributed entity from the selected subtenants",
		Run: func(cmd *cobra.Command, args []string) {
			startProvisionRun("deprovision", kind, sourceID, tenants, assumeYes)
		},
	}

	var cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Unsubscribe the service identity from all subtenants and delete it",
		Run: func(cmd *cobra.Command, args []string) {
			startCleanup()
		},
	}

	var tenantReportCmd = &cobra.Command{
		Use:   "tenant_report",
		Short: "Generate a report on the reachable subtenants and their subscriptions",
		Run: func(cmd *cobra.Command, args []string) {
			startTenantReport()
		},
	}

	rootCmd.AddCommand(apiServerCmd)
	apiServerCmd.Flags().StringVarP(&listenAddr, "listen-addr", "l", ":8081", "Hostname:port")

	rootCmd.AddCommand(provisionCmd)
	provisionCmd.Flags().StringVarP(&kind, "kind", "k", "", "Entity kind (firmware, rule, global-role, tenant-option, retention-rule, smart-group, registration-template)")
	provisionCmd.Flags().StringVarP(&sourceID, "source-id", "s", "", "ID of the source entity in the operator tenant")
	provisionCmd.Flags().StringVarP(&tenants, "tenants", "t", "", "Comma separated tenant ids (empty selects all candidates)")
	provisionCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the interactive consent prompt")

	rootCmd.AddCommand(deprovisionCmd)
	deprovisionCmd.Flags().StringVarP(&kind, "kind", "k", "", "Entity kind (firmware, rule, global-role, tenant-option, retention-rule, smart-group, registration-template)")
	deprovisionCmd.Flags().StringVarP(&sourceID, "source-id", "s", "", "ID of the source entity in the operator tenant")
	deprovisionCmd.Flags().StringVarP(&tenants, "tenants", "t", "", "Comma separated tenant ids (empty selects all candidates)")
	deprovisionCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the interactive consent prompt")

	rootCmd.AddCommand(cleanupCmd)

	rootCmd.AddCommand(tenantReportCmd)

	return rootCmd
}

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
