// Package export flattens a finished scan into a portable record set and
// encodes it as JSON or CSV. Field names and money rounding match the API
// payloads so an exported file round-trips into the same dashboards.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/pricing"
)

// Summary is the header record of an export: one line of scan-level
// totals preceding the opportunity rows.
type Summary struct {
	ScanID              string     `json:"scan_id"`
	AccountID           string     `json:"account_id"`
	Status              string     `json:"status"`
	Degraded            bool       `json:"degraded"`
	ScanStartedAt       time.Time  `json:"scan_started_at"`
	ScanCompletedAt     *time.Time `json:"scan_completed_at,omitempty"`
	OpportunityCount    int        `json:"opportunity_count"`
	TotalSavingsMonthly float64    `json:"total_potential_savings_monthly"`
	TotalSavingsAnnual  float64    `json:"total_potential_savings_annual"`
}

// Row is one exported opportunity, flattened for tabular consumers.
type Row struct {
	OpportunityID       string  `json:"id"`
	Type                string  `json:"opportunity_type"`
	ResourceID          string  `json:"resource_id"`
	ResourceType        string  `json:"resource_type"`
	Region              string  `json:"region"`
	CurrentCostMonthly  float64 `json:"current_cost_monthly"`
	SavingsMonthly      float64 `json:"potential_savings_monthly"`
	SavingsAnnual       float64 `json:"potential_savings_annual"`
	SavingsPercent      float64 `json:"savings_percentage"`
	RiskLevel           string  `json:"risk_level"`
	ImplementationHours float64 `json:"implementation_time_hours"`
	Recommendation      string  `json:"recommendation"`
}

// Set is a complete export: the summary header plus one row per
// opportunity in result order.
type Set struct {
	Summary Summary `json:"summary"`
	Rows    []Row   `json:"opportunities"`
}

// Flatten projects a terminal scan session and its ordered opportunities
// into a Set. Money figures are rounded to cents.
func Flatten(session models.ScanSession, opportunities []models.Opportunity) Set {
	rows := lo.Map(opportunities, func(o models.Opportunity, _ int) Row {
		return Row{
			OpportunityID:       o.ID,
			Type:                string(o.Category),
			ResourceID:          o.ResourceID,
			ResourceType:        o.ResourceType,
			Region:              o.Region,
			CurrentCostMonthly:  pricing.Round2(o.CurrentCostMonthly),
			SavingsMonthly:      pricing.Round2(o.SavingsMonthly),
			SavingsAnnual:       pricing.Round2(o.SavingsAnnual),
			SavingsPercent:      pricing.Round2(o.SavingsPercent),
			RiskLevel:           string(o.Risk),
			ImplementationHours: o.ImplementationHours,
			Recommendation:      o.Recommendation,
		}
	})

	return Set{
		Summary: Summary{
			ScanID:              session.ID,
			AccountID:           session.AccountID,
			Status:              string(session.State),
			Degraded:            session.Degraded,
			ScanStartedAt:       session.StartedAt,
			ScanCompletedAt:     session.CompletedAt,
			OpportunityCount:    len(opportunities),
			TotalSavingsMonthly: pricing.Round2(session.TotalSavingsMonthly),
			TotalSavingsAnnual:  pricing.Round2(session.TotalSavingsAnnual),
		},
		Rows: rows,
	}
}

// WriteJSON encodes the set as indented JSON.
func WriteJSON(w io.Writer, set Set) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(set); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// csvHeader matches the Row json tags so both encodings name columns
// identically.
var csvHeader = []string{
	"id", "opportunity_type", "resource_id", "resource_type", "region",
	"current_cost_monthly", "potential_savings_monthly",
	"potential_savings_annual", "savings_percentage", "risk_level",
	"implementation_time_hours", "recommendation",
}

// WriteCSV encodes the rows as CSV with a header line. The summary has no
// natural CSV shape and is omitted; consumers needing totals use JSON.
func WriteCSV(w io.Writer, set Set) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range set.Rows {
		record := []string{
			r.OpportunityID,
			r.Type,
			r.ResourceID,
			r.ResourceType,
			r.Region,
			money(r.CurrentCostMonthly),
			money(r.SavingsMonthly),
			money(r.SavingsAnnual),
			money(r.SavingsPercent),
			r.RiskLevel,
			strconv.FormatFloat(r.ImplementationHours, 'f', -1, 64),
			r.Recommendation,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
