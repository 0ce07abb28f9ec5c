// Package output renders scan results for the terminal.
package output

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/spotsave/spotsave/internal/models"
)

// maxRecommendationWidth keeps the RECOMMENDATION column readable on a
// standard terminal.
const maxRecommendationWidth = 60

// RenderOpportunities writes the opportunity table to w in result order.
func RenderOpportunities(w io.Writer, opportunities []models.Opportunity) {
	if len(opportunities) == 0 {
		fmt.Fprintln(w, "No savings opportunities found.")
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{
		"RESOURCE", "TYPE", "REGION", "CATEGORY", "RISK",
		"COST/MO", "SAVINGS/MO", "SAVINGS/YR",
	})
	for _, o := range opportunities {
		tw.AppendRow(table.Row{
			truncateField(o.ResourceID, 40),
			o.ResourceType,
			o.Region,
			string(o.Category),
			string(o.Risk),
			fmt.Sprintf("$%.2f", o.CurrentCostMonthly),
			fmt.Sprintf("$%.2f", o.SavingsMonthly),
			fmt.Sprintf("$%.2f", o.SavingsAnnual),
		})
	}
	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	tw.Render()
}

// RenderSummary writes the scan's one-paragraph outcome under the table.
func RenderSummary(w io.Writer, session models.ScanSession) {
	switch session.State {
	case models.ScanStateCompleted:
		fmt.Fprintf(w, "\nScan %s completed", session.ID)
		if session.Degraded {
			fmt.Fprintf(w, " (degraded; %d domain(s) failed)", len(session.CollectionErrors))
		}
		fmt.Fprintf(w, ": %d opportunities, $%.2f/mo ($%.2f/yr) potential savings\n",
			session.OpportunityCount, session.TotalSavingsMonthly, session.TotalSavingsAnnual)
		for _, msg := range session.CollectionErrors {
			fmt.Fprintf(w, "  warning: %s\n", msg)
		}
	case models.ScanStateFailed:
		fmt.Fprintf(w, "\nScan %s failed (%s): %s\n",
			session.ID, session.FailureReason, session.ErrorMessage)
	default:
		fmt.Fprintf(w, "\nScan %s is %s\n", session.ID, session.State)
	}
}

// RenderDetail writes one opportunity with its full action plan.
func RenderDetail(w io.Writer, o models.Opportunity) {
	fmt.Fprintf(w, "%s  %s (%s, %s)\n", string(o.Category), o.ResourceID, o.ResourceType, o.Region)
	fmt.Fprintf(w, "  %s\n", o.Recommendation)
	fmt.Fprintf(w, "  savings: $%.2f/mo ($%.2f/yr, %.0f%%), risk %s, ~%.1fh to apply\n",
		o.SavingsMonthly, o.SavingsAnnual, o.SavingsPercent, o.Risk, o.ImplementationHours)
	if len(o.ActionSteps) > 0 {
		fmt.Fprintln(w, "  steps:")
		for i, step := range o.ActionSteps {
			fmt.Fprintf(w, "    %d. %s\n", i+1, step)
		}
	}
	if o.RollbackPlan != "" {
		fmt.Fprintf(w, "  rollback: %s\n", o.RollbackPlan)
	}
}

// truncateField shortens s to at most max bytes for ID columns.
// A single-char ellipsis replaces the last byte when truncation occurs.
func truncateField(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
