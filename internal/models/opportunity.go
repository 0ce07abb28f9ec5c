package models

import "time"

// OpportunityCategory is the fixed set of savings categories.
// The set is closed by design so dedup and ordering logic can be exhaustive.
type OpportunityCategory string

const (
	CategoryReservation OpportunityCategory = "reservation"
	CategoryRightsizing OpportunityCategory = "rightsizing"
	CategoryIdle        OpportunityCategory = "idle"
	CategoryMigration   OpportunityCategory = "migration"
)

// categoryPriority orders categories for tie-breaking in the final result
// list. Reservation purchases carry the least operational risk to apply and
// surface first; migrations require the most validation and surface last.
var categoryPriority = map[OpportunityCategory]int{
	CategoryReservation: 0,
	CategoryRightsizing: 1,
	CategoryIdle:        2,
	CategoryMigration:   3,
}

// CategoryRank returns the tie-break rank for c (lower surfaces first).
// Unknown categories rank after every known one.
func CategoryRank(c OpportunityCategory) int {
	if r, ok := categoryPriority[c]; ok {
		return r
	}
	return len(categoryPriority)
}

// RiskLevel grades the operational risk of applying a recommendation.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Opportunity is one actionable cost-saving recommendation. It is created
// by a detector, appended once to its scan's result set, and never mutated
// afterwards; corrections require a new scan.
//
// Invariant: 0 ≤ SavingsMonthly ≤ CurrentCostMonthly and
// SavingsAnnual == SavingsMonthly × 12.
type Opportunity struct {
	ID           string              `json:"id"`
	Category     OpportunityCategory `json:"opportunity_type"`
	ResourceID   string              `json:"resource_id"`
	ResourceType string              `json:"resource_type"`
	Region       string              `json:"region"`

	CurrentCostMonthly float64 `json:"current_cost_monthly"`
	SavingsMonthly     float64 `json:"potential_savings_monthly"`
	SavingsAnnual      float64 `json:"potential_savings_annual"`
	SavingsPercent     float64 `json:"savings_percentage"`

	Risk                RiskLevel `json:"risk_level"`
	ImplementationHours float64   `json:"implementation_time_hours"`

	Recommendation string   `json:"recommendation"`
	ActionSteps    []string `json:"action_steps"`
	Prerequisites  []string `json:"prerequisites,omitempty"`
	RollbackPlan   string   `json:"rollback_plan,omitempty"`

	// Details carries category-specific key/value context, e.g. the
	// recommended instance type or observed utilization figures.
	Details map[string]any `json:"details,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
}

// Valid reports whether the savings invariant holds for o.
func (o *Opportunity) Valid() bool {
	if o.SavingsMonthly < 0 || o.SavingsMonthly > o.CurrentCostMonthly {
		return false
	}
	const tolerance = 0.01
	diff := o.SavingsAnnual - o.SavingsMonthly*12
	return diff < tolerance && diff > -tolerance
}
