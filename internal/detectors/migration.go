package detectors

import (
	"fmt"

	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/pricing"
)

func init() { Register(&MigrationDetector{}) }

// MigrationDetector recommends moving x86 compute to the equivalent
// Graviton instance type. It fires on architecture alone; workload
// compatibility is left to the action steps because binary portability
// cannot be inferred from metrics.
type MigrationDetector struct{}

func (d *MigrationDetector) ID() string { return "graviton-migration" }

func (d *MigrationDetector) Category() models.OpportunityCategory {
	return models.CategoryMigration
}

func (d *MigrationDetector) Detect(dctx Context, record *models.ResourceRecord) *models.Opportunity {
	if record.Domain != models.DomainCompute {
		return nil
	}
	if record.Architecture != "" && record.Architecture != "x86_64" {
		return nil
	}
	target := pricing.GravitonEquivalent(record.Configuration)
	if target == "" {
		return nil
	}
	if record.MonthlyCost <= 0 {
		return nil
	}

	savings := record.MonthlyCost * dctx.Thresholds.MigrationSavingsRate

	o := newOpportunity(dctx, record, models.CategoryMigration, savings)
	o.Risk = models.RiskMedium
	o.ImplementationHours = 8
	o.Recommendation = fmt.Sprintf("Migrate from %s to %s (Graviton)", record.Configuration, target)
	o.ActionSteps = []string{
		"Rebuild or verify container images and AMIs for arm64",
		fmt.Sprintf("Launch a canary %s alongside the current fleet", target),
		"Compare performance and error rates for at least one week",
		"Replace the remaining x86 instances",
	}
	o.Prerequisites = []string{
		"All workload binaries and dependencies available for arm64",
	}
	o.RollbackPlan = fmt.Sprintf("Relaunch on %s from the retained AMI", record.Configuration)
	o.Details = map[string]any{
		"current_configuration":     record.Configuration,
		"recommended_configuration": target,
		"assumed_discount":          dctx.Thresholds.MigrationSavingsRate,
	}
	return &o
}
