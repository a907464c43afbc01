package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ruchit-p/DynastyMobile-sub004/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and export the audit trail",
}

// auditService returns the full audit service, which is only available when
// audit recording is enabled.
func auditService() (*audit.Service, error) {
	svc, ok := auditor.(*audit.Service)
	if !ok {
		return nil, fmt.Errorf("audit recording is disabled")
	}
	return svc, nil
}

func auditFilter(cmd *cobra.Command) audit.QueryFilter {
	filter := audit.QueryFilter{UserID: userID}
	if t, _ := cmd.Flags().GetString("type"); t != "" {
		filter.EventType = audit.EventType(t)
	}
	if risk, _ := cmd.Flags().GetInt("min-risk"); risk > 0 {
		filter.RiskThreshold = risk
	}
	if days, _ := cmd.Flags().GetInt("days"); days > 0 {
		since := time.Now().UTC().AddDate(0, 0, -days)
		filter.Since = &since
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		filter.Limit = limit
	}
	return filter
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := auditService()
		if err != nil {
			return err
		}
		events, err := svc.QueryEvents(cmd.Context(), auditFilter(cmd))
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No events found")
			return nil
		}
		for _, ev := range events {
			verified := "signed"
			if !svc.VerifyEvent(ev) {
				verified = "TAMPERED"
			}
			fmt.Printf("%s  %-22s risk=%3d %-8s %s [%s]\n",
				ev.CreatedAt.Format(time.RFC3339), ev.Type, ev.RiskScore, ev.Severity, ev.Description, verified)
		}
		return nil
	},
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show aggregate audit statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := auditService()
		if err != nil {
			return err
		}
		days, _ := cmd.Flags().GetInt("days")
		summary, err := svc.GetAuditSummary(cmd.Context(), userID, days)
		if err != nil {
			return err
		}

		fmt.Printf("Events: %d total, %d critical\n", summary.TotalEvents, summary.CriticalEvents)
		fmt.Printf("By type:\n")
		for typ, count := range summary.EventsByType {
			fmt.Printf("  %-24s %d\n", typ, count)
		}
		fmt.Printf("By device:\n")
		for device, count := range summary.DeviceActivity {
			fmt.Printf("  %-24s %d\n", device, count)
		}
		if len(summary.RiskTrend) > 0 {
			fmt.Printf("Risk trend:\n")
			for _, point := range summary.RiskTrend {
				fmt.Printf("  %s  avg=%5.1f  events=%d\n", point.Date, point.AverageScore, point.EventCount)
			}
		}
		return nil
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit events as JSON or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := auditService()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		data, err := svc.Export(cmd.Context(), auditFilter(cmd), audit.ExportFormat(format))
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			fmt.Println(string(data))
			return nil
		}
		if err := os.WriteFile(out, data, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		fmt.Printf("Exported %d bytes to %s\n", len(data), out)
		return nil
	},
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay audit events queued while storage was unreachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := auditService()
		if err != nil {
			return err
		}
		if err := svc.ReplayQueued(cmd.Context()); err != nil {
			return err
		}
		return vaultSvc.ReplayOfflineQueue(cmd.Context())
	},
}

func init() {
	for _, c := range []*cobra.Command{auditListCmd, auditExportCmd} {
		c.Flags().String("type", "", "filter by event type")
		c.Flags().Int("min-risk", 0, "only events at or above this risk score")
		c.Flags().Int("days", 0, "only events from the last N days")
		c.Flags().Int("limit", 0, "maximum number of events")
	}
	auditSummaryCmd.Flags().Int("days", 30, "trend window in days")
	auditExportCmd.Flags().String("format", "json", "export format: json or csv")
	auditExportCmd.Flags().StringP("output", "o", "", "output path (default stdout)")

	auditCmd.AddCommand(auditListCmd, auditSummaryCmd, auditExportCmd, auditReplayCmd)
	rootCmd.AddCommand(auditCmd)
}
