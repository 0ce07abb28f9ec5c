package detectors

import (
	"fmt"
	"strings"

	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/pricing"
)

func init() { Register(&RightsizingDetector{}) }

// RightsizingDetector recommends the next smaller instance size when the
// observed CPU p95 shows sustained over-provisioning. It skips records
// without enough utilization samples rather than guessing from partial
// data.
type RightsizingDetector struct{}

func (d *RightsizingDetector) ID() string { return "downsize-instance" }

func (d *RightsizingDetector) Category() models.OpportunityCategory {
	return models.CategoryRightsizing
}

func (d *RightsizingDetector) Detect(dctx Context, record *models.ResourceRecord) *models.Opportunity {
	if record.Domain != models.DomainCompute && record.Domain != models.DomainDatabase {
		return nil
	}

	t := dctx.Thresholds
	cpu, ok := record.Metric(models.MetricCPUUtilization)
	if !ok || cpu.SampleCount < t.MinSamples {
		return nil
	}
	if cpu.P95 >= t.RightsizeCPUPercent {
		return nil
	}

	current, smaller, newCost := smallerConfiguration(record)
	if smaller == "" {
		return nil
	}
	savings := record.MonthlyCost - newCost
	if savings <= t.RightsizeMinMonthlySavings {
		return nil
	}

	o := newOpportunity(dctx, record, models.CategoryRightsizing, savings)
	o.Risk = models.RiskMedium
	o.ImplementationHours = 2
	o.Recommendation = fmt.Sprintf(
		"Downsize from %s to %s; CPU p95 over the lookback window was %.1f%%",
		current, smaller, cpu.P95)
	o.ActionSteps = []string{
		fmt.Sprintf("Confirm peak CPU stays under %.0f%% during business-critical windows", t.RightsizeCPUPercent),
		fmt.Sprintf("Change the instance size to %s during a maintenance window", smaller),
		"Watch CPU and latency dashboards for one week after the change",
	}
	o.Prerequisites = []string{
		"A maintenance window; the resize requires a stop/start",
	}
	o.RollbackPlan = fmt.Sprintf("Resize back to %s if utilization or latency regresses", current)
	o.Details = map[string]any{
		"current_configuration":     current,
		"recommended_configuration": smaller,
		"cpu_p95":                   cpu.P95,
		"cpu_mean":                  cpu.Mean,
		"sample_count":              cpu.SampleCount,
	}
	return &o
}

// smallerConfiguration maps the record's configuration one size down and
// estimates the downsized monthly cost. Database classes carry a "db."
// prefix around the shared family.size shape.
func smallerConfiguration(record *models.ResourceRecord) (current, smaller string, newCost float64) {
	current = record.Configuration
	if record.Domain == models.DomainDatabase {
		base := strings.TrimPrefix(current, "db.")
		next := pricing.NextSmallerType(base)
		if next == "" {
			return current, "", 0
		}
		return current, "db." + next, pricing.DatabaseMonthlyCost("db." + next)
	}
	next := pricing.NextSmallerType(current)
	if next == "" {
		return current, "", 0
	}
	return current, next, pricing.MonthlyCost(next)
}
