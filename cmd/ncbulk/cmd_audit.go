package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/ncbulk/pkg/audit"
	"github.com/newtron-network/ncbulk/pkg/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View audit logs",
	Long: `View the audit log of device tasks.

Every device task of every batch is logged with:
  - Timestamp and batch ID
  - User the session was opened as
  - Device and operation
  - Success/failure status and failure category

Examples:
  ncbulk audit list --device leaf1
  ncbulk audit list --last 24h --failures
  ncbulk audit list --batch 1b4e28ba-2fa1-11d2-883f-0016d3cca427`,
}

var (
	auditBatch    string
	auditDevice   string
	auditUser     string
	auditLast     string
	auditLimit    int
	auditFailures bool
	auditJSON     bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := audit.Filter{
			BatchID:     auditBatch,
			Device:      auditDevice,
			User:        auditUser,
			Limit:       auditLimit,
			FailureOnly: auditFailures,
		}

		if auditLast != "" {
			duration, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-duration)
		}

		path := runConfig.AuditLog
		if path == "" {
			path = defaultAuditPath()
		}
		l, err := audit.NewFileLogger(path, audit.RotationConfig{})
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer l.Close()

		events, err := l.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		out := cmd.OutOrStdout()
		if auditJSON {
			return json.NewEncoder(out).Encode(events)
		}

		if len(events) == 0 {
			fmt.Fprintln(out, "No audit events found")
			return nil
		}

		t := cli.NewTableTo(out, "TIMESTAMP", "USER", "DEVICE", "OPERATION", "STATUS", "ERROR")
		for _, event := range events {
			t.Row(
				event.Timestamp.Format("2006-01-02 15:04:05"),
				event.User,
				event.Device,
				cli.Truncate(event.Operation, 40),
				cli.Status(event.Success),
				cli.Truncate(event.Error, 50),
			)
		}
		t.Flush()
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditBatch, "batch", "", "Filter by batch ID")
	auditListCmd.Flags().StringVar(&auditDevice, "device", "", "Filter by device")
	auditListCmd.Flags().StringVar(&auditUser, "user", "", "Filter by user")
	auditListCmd.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g., 24h)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditListCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed tasks")
	auditListCmd.Flags().BoolVar(&auditJSON, "json", false, "Output events as JSON")

	auditCmd.AddCommand(auditListCmd)
}
