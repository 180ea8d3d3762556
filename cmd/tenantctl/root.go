package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "tenantctl",
	Short: "CLI for the tenant platform API",
	Long: `tenantctl manages building admin permissions and reads the permission
audit log through the tenant platform HTTP API.

Requests carry a bearer token from --token or the TENANT_TOKEN environment
variable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Tenant server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token (default: from TENANT_TOKEN env)")

	rootCmd.AddCommand(permissionsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(healthCmd)
}

// resolvedToken returns the effective bearer token.
// Priority: --token flag > TENANT_TOKEN env var.
func resolvedToken() string {
	if token != "" {
		return token
	}
	return os.Getenv("TENANT_TOKEN")
}
