// Package detectors turns normalized resource records into cost-saving
// opportunities. Detectors are pure: same record and thresholds in, same
// opportunity out, no clock reads and no I/O. Each detector owns one
// category and emits at most one opportunity per record; cross-resource
// policy (dedup, ordering, commitment stamping) belongs to the
// coordinator.
package detectors

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/spotsave/spotsave/internal/config"
	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/pricing"
)

// Context carries the per-scan inputs shared by all detectors. Now is the
// scan's reference time so age checks and DetectedAt stamps are stable
// across a single scan.
type Context struct {
	Thresholds config.Thresholds
	Now        time.Time
}

// Detector classifies one resource record against one savings category.
//
// Detect returns nil when the record is out of scope for the category, is
// below the category's savings floor, or lacks the utilization samples the
// category requires. A non-nil result always satisfies
// models.Opportunity.Valid.
type Detector interface {
	// ID uniquely identifies the detector for registration and logging.
	ID() string

	// Category is the savings category this detector emits.
	Category() models.OpportunityCategory

	Detect(dctx Context, record *models.ResourceRecord) *models.Opportunity
}

var registry = map[string]Detector{}

// Register adds d to the package registry. It panics on a duplicate ID,
// which turns a copy-paste mistake into an immediate startup failure
// instead of silently shadowed detection logic.
func Register(d Detector) {
	if _, exists := registry[d.ID()]; exists {
		panic(fmt.Sprintf("detectors: duplicate detector ID %q", d.ID()))
	}
	registry[d.ID()] = d
}

// All returns every registered detector ordered by ID.
func All() []Detector {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Detector, 0, len(ids))
	for _, id := range ids {
		out = append(out, registry[id])
	}
	return out
}

// newOpportunity fills the fields every category shares. savingsMonthly is
// clamped into [0, record.MonthlyCost] and rounded before the annual figure
// is derived, so the savings invariant holds by construction.
func newOpportunity(
	dctx Context,
	record *models.ResourceRecord,
	category models.OpportunityCategory,
	savingsMonthly float64,
) models.Opportunity {
	if savingsMonthly < 0 {
		savingsMonthly = 0
	}
	if savingsMonthly > record.MonthlyCost {
		savingsMonthly = record.MonthlyCost
	}
	monthly := pricing.Round2(savingsMonthly)

	var percent float64
	if record.MonthlyCost > 0 {
		percent = pricing.Round2(monthly / record.MonthlyCost * 100)
	}

	return models.Opportunity{
		ID:                 uuid.NewString(),
		Category:           category,
		ResourceID:         record.ResourceID,
		ResourceType:       record.ResourceType,
		Region:             record.Region,
		CurrentCostMonthly: pricing.Round2(record.MonthlyCost),
		SavingsMonthly:     monthly,
		SavingsAnnual:      pricing.Round2(monthly * 12),
		SavingsPercent:     percent,
		DetectedAt:         dctx.Now,
	}
}
