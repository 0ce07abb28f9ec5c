package detectors

import (
	"fmt"

	"github.com/spotsave/spotsave/internal/models"
)

func init() { Register(&ReservationDetector{}) }

// ReservationDetector recommends a 1-year commitment purchase for
// long-running on-demand capacity. It needs no utilization samples: the
// signal is sustained presence, read from the resource's launch time.
type ReservationDetector struct{}

func (d *ReservationDetector) ID() string { return "commitment-purchase" }

func (d *ReservationDetector) Category() models.OpportunityCategory {
	return models.CategoryReservation
}

func (d *ReservationDetector) Detect(dctx Context, record *models.ResourceRecord) *models.Opportunity {
	if record.Domain != models.DomainCompute && record.Domain != models.DomainDatabase {
		return nil
	}
	if record.CoveredByCommitment {
		return nil
	}
	if record.LaunchTime.IsZero() || record.AgeDays(dctx.Now) < dctx.Thresholds.ReservationMinAgeDays {
		return nil
	}

	t := dctx.Thresholds
	savings := record.MonthlyCost * t.ReservationSavingsRate
	if savings <= t.ReservationMinMonthlySavings {
		return nil
	}

	o := newOpportunity(dctx, record, models.CategoryReservation, savings)
	o.Risk = models.RiskLow
	o.ImplementationHours = 1
	o.Recommendation = fmt.Sprintf(
		"Purchase a 1-year reserved commitment for %s to cover this steadily running %s",
		record.Configuration, record.ResourceType)
	o.ActionSteps = []string{
		"Review the last 30 days of usage to confirm the workload is steady",
		fmt.Sprintf("Purchase a 1-year no-upfront reservation for %s in %s", record.Configuration, record.Region),
		"Verify the reservation is applied on the next billing cycle",
	}
	o.Prerequisites = []string{
		"Billing or purchasing permission in the payer account",
	}
	o.RollbackPlan = "Reservations cannot be cancelled; resell unused standard RIs on the marketplace or let the term lapse"
	o.Details = map[string]any{
		"configuration":     record.Configuration,
		"resource_age_days": record.AgeDays(dctx.Now),
		"assumed_discount":  t.ReservationSavingsRate,
	}
	return &o
}
