// Package collectors queries upstream AWS read APIs, one resource domain
// per collector, and normalizes results into ResourceRecord values. Each
// collector paginates until exhausted, tolerates empty result sets, and
// retries transient upstream failures under the injected backoff policy.
// Collectors never mutate cloud resources and never share state with each
// other; the coordinator owns all aggregation.
package collectors

import (
	"context"

	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/retry"
	"github.com/spotsave/spotsave/internal/session"
)

// Scope carries the per-scan parameters shared by all collectors.
type Scope struct {
	// Session is the delegated credential session for the target account.
	Session *session.Session

	// Regions to inventory. Empty means the session's home region.
	Regions []string

	// LookbackDays is the utilization metric window.
	LookbackDays int

	// Retry is the backoff policy applied to each upstream call.
	Retry retry.Policy
}

// regions returns the effective region list.
func (s *Scope) regions() []string {
	if len(s.Regions) > 0 {
		return s.Regions
	}
	return []string{s.Session.Region}
}

// lookbackDays returns the effective metric window.
func (s *Scope) lookbackDays() int {
	if s.LookbackDays <= 0 {
		return 30
	}
	return s.LookbackDays
}

// Collector inventories one resource domain. Implementations are stateless
// and safe for concurrent use across scans.
//
// Collect returns the domain's full normalized record set in upstream
// order. An empty slice is success (no resources of that kind). A non-nil
// error means retries were exhausted; the coordinator wraps it into a
// CollectionError and degrades the scan rather than aborting it.
type Collector interface {
	Domain() models.ResourceDomain
	Collect(ctx context.Context, scope Scope) ([]models.ResourceRecord, error)
}

// All returns the production collector set, one per domain, backed by the
// real SDK clients.
func All() []Collector {
	return []Collector{
		NewComputeCollector(),
		NewDatabaseCollector(),
		NewFunctionCollector(),
		NewCommitmentCollector(),
	}
}
