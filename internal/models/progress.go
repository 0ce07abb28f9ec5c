package models

// RecentOpportunity is the abbreviated opportunity view carried by progress
// snapshots so a live dashboard can show findings as they arrive.
type RecentOpportunity struct {
	ID             string              `json:"id"`
	Category       OpportunityCategory `json:"type"`
	ResourceID     string              `json:"resource_id"`
	SavingsAnnual  float64             `json:"savings_annual"`
	Recommendation string              `json:"recommendation"`
}

// ProgressSnapshot is a point-in-time projection of scan state pushed to
// progress subscribers. Snapshots are strictly ordered per scan by Sequence
// but may be coalesced under slow consumers; only the terminal snapshot's
// delivery is guaranteed.
type ProgressSnapshot struct {
	ScanID string `json:"scan_id"`

	// Sequence increases by one per emitted snapshot. Subscribers observing
	// a gap missed coalesced intermediate states, not reordered ones.
	Sequence uint64 `json:"sequence"`

	State   ScanState `json:"status"`
	Percent int       `json:"progress"`

	DomainsDone  int `json:"domains_done"`
	DomainsTotal int `json:"domains_total"`

	OpportunitiesFound int     `json:"opportunities_found"`
	TotalSavingsAnnual float64 `json:"total_savings"`

	RecentOpportunities []RecentOpportunity `json:"recent_opportunities,omitempty"`

	Degraded bool `json:"degraded,omitempty"`

	// Err is the human-readable failure reason on a terminal failed
	// snapshot. Errors are never delivered as channel failures; they
	// surface only through this field.
	Err string `json:"error,omitempty"`
}

// Terminal reports whether this snapshot is the final one for its scan.
func (p *ProgressSnapshot) Terminal() bool {
	return p.State.Terminal()
}
