package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health and readiness",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := newClient()

	var healthResp map[string]any
	if err := client.getJSON("/healthz", &healthResp); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}

	// A 503 from /readyz still carries the database status.
	var readyResp map[string]any
	if err := client.getJSON("/readyz", &readyResp); err != nil {
		readyResp = map[string]any{"status": "not_ready", "error": err.Error()}
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			readyResp["database"] = map[string]any{"status": "down"}
		}
	}

	if structuredOutput() {
		return printOutput(map[string]any{
			"health":    healthResp,
			"readiness": readyResp,
		})
	}

	liveness, _ := healthResp["status"].(string)
	uptime, _ := healthResp["uptime"].(string)
	readiness, _ := readyResp["status"].(string)
	database := "unknown"
	if d, ok := readyResp["database"].(map[string]any); ok {
		database, _ = d["status"].(string)
	}

	printTable([]string{"Check", "Status"}, [][]string{
		{"Liveness", liveness + " (up " + uptime + ")"},
		{"Readiness", readiness},
		{"Database", database},
	})
	return nil
}
