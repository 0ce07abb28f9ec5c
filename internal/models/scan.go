package models

import (
	"regexp"
	"time"
)

// ScanState is the lifecycle state of a ScanSession.
// Transitions are one-directional: queued → running → completed | failed.
// A terminal scan is never re-run; callers start a new session instead.
type ScanState string

const (
	ScanStateQueued    ScanState = "queued"
	ScanStateRunning   ScanState = "running"
	ScanStateCompleted ScanState = "completed"
	ScanStateFailed    ScanState = "failed"
)

// Terminal reports whether s is a final state.
func (s ScanState) Terminal() bool {
	return s == ScanStateCompleted || s == ScanStateFailed
}

// FailureReason classifies why a scan reached ScanStateFailed.
// Empty for queued, running, and completed scans.
type FailureReason string

const (
	FailureNone      FailureReason = ""
	FailureAuth      FailureReason = "auth"
	FailureCancelled FailureReason = "cancelled"
	FailureTimeout   FailureReason = "timeout"
	FailureStore     FailureReason = "store"
	FailureInternal  FailureReason = "internal"
)

// Account identifies one target AWS account reachable through a delegated,
// read-only IAM role. Created by the account-management collaborator; the
// engine only reads it. RoleARN and ExternalID must not change while a scan
// against the account is in flight.
type Account struct {
	ID         string     `json:"id"`
	Name       string     `json:"account_name"`
	RoleARN    string     `json:"role_arn"`
	ExternalID string     `json:"external_id"`
	CreatedAt  time.Time  `json:"created_at"`
	LastScanAt *time.Time `json:"last_scan_at,omitempty"`
}

// roleARNPattern matches arn:aws:iam::ACCOUNT_ID:role/ROLE_NAME and captures
// the 12-digit account ID.
var roleARNPattern = regexp.MustCompile(`^arn:aws:iam::(\d{12}):role/.+$`)

// ExtractAccountID returns the 12-digit AWS account ID embedded in roleARN,
// or "" when the ARN is not a well-formed IAM role ARN.
func ExtractAccountID(roleARN string) string {
	m := roleARNPattern.FindStringSubmatch(roleARN)
	if m == nil {
		return ""
	}
	return m[1]
}

// ValidRoleARN reports whether roleARN is a well-formed IAM role ARN.
func ValidRoleARN(roleARN string) bool {
	return roleARNPattern.MatchString(roleARN)
}

// ScanSession is one execution of the engine against one account.
// It is mutated only by the scan coordinator and becomes immutable once
// State is terminal.
type ScanSession struct {
	ID        string    `json:"scan_id"`
	AccountID string    `json:"account_id"`
	State     ScanState `json:"status"`

	// Degraded is true when the scan completed but one or more domains'
	// collectors failed after exhausting retries. Opportunities from the
	// remaining domains are still valid.
	Degraded bool `json:"degraded"`

	StartedAt   time.Time  `json:"scan_started_at"`
	CompletedAt *time.Time `json:"scan_completed_at,omitempty"`

	OpportunityCount    int     `json:"opportunity_count"`
	TotalSavingsMonthly float64 `json:"total_potential_savings_monthly"`
	TotalSavingsAnnual  float64 `json:"total_potential_savings_annual"`

	FailureReason FailureReason `json:"failure_reason,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`

	// CollectionErrors lists the non-fatal per-domain failures accumulated
	// during a degraded run, e.g. "database: throttled after 5 attempts".
	CollectionErrors []string `json:"collection_errors,omitempty"`
}
