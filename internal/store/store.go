// Package store persists accounts, scan sessions, and detected
// opportunities behind a narrow adapter interface. The engine talks to the
// Store interface only; swapping the in-memory implementation for a real
// database changes nothing above this package.
package store

import (
	"context"

	"github.com/spotsave/spotsave/internal/models"
)

// Store is the persistence adapter for scan state and results.
//
// Write ordering contract: BeginScan happens once per scan before any
// AppendOpportunities call; FinalizeScan happens once logically but must
// be idempotent, because the retrying wrapper may deliver it more than
// once after a partial failure.
type Store interface {
	// PutAccount inserts or replaces an account registration.
	PutAccount(ctx context.Context, account models.Account) error

	// GetAccount returns the account or models.ErrAccountNotFound.
	GetAccount(ctx context.Context, id string) (models.Account, error)

	// ListAccounts returns all registered accounts ordered by ID.
	ListAccounts(ctx context.Context) ([]models.Account, error)

	// BeginScan records a new scan session in its initial state.
	BeginScan(ctx context.Context, session models.ScanSession) error

	// AppendOpportunities adds a batch to the scan's result set. Batches
	// arrive in coordinator order and are preserved in that order.
	AppendOpportunities(ctx context.Context, scanID string, batch []models.Opportunity) error

	// ReplaceOpportunities swaps the scan's entire result set. The
	// coordinator uses it to install the deduplicated, sorted final list
	// over the incrementally appended checkpoints.
	ReplaceOpportunities(ctx context.Context, scanID string, opportunities []models.Opportunity) error

	// FinalizeScan writes the terminal session snapshot. Repeat calls for
	// the same scan leave the first terminal write intact.
	FinalizeScan(ctx context.Context, session models.ScanSession) error

	// GetScan returns the session or models.ErrScanNotFound.
	GetScan(ctx context.Context, scanID string) (models.ScanSession, error)

	// ListOpportunities returns the scan's current result set.
	ListOpportunities(ctx context.Context, scanID string) ([]models.Opportunity, error)
}
