package store

import (
	"context"
	"errors"

	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/retry"
)

// Retrying wraps a Store and retries the write operations that run inside
// an active scan. Exhausted retries surface as *models.StoreError so the
// coordinator can distinguish persistence failures from domain errors.
// Reads and not-found results pass through untouched.
type Retrying struct {
	inner  Store
	policy retry.Policy
}

func NewRetrying(inner Store, policy retry.Policy) *Retrying {
	return &Retrying{inner: inner, policy: policy}
}

// retryWrite runs op under the policy. Not-found errors are permanent and
// abort the retry loop immediately.
func (r *Retrying) retryWrite(ctx context.Context, name string, op func(ctx context.Context) error) error {
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		opErr := op(ctx)
		if errors.Is(opErr, models.ErrScanNotFound) || errors.Is(opErr, models.ErrAccountNotFound) {
			return retry.Permanent(opErr)
		}
		return opErr
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrScanNotFound) || errors.Is(err, models.ErrAccountNotFound) {
		return err
	}
	return &models.StoreError{Op: name, Err: err}
}

func (r *Retrying) PutAccount(ctx context.Context, account models.Account) error {
	return r.inner.PutAccount(ctx, account)
}

func (r *Retrying) GetAccount(ctx context.Context, id string) (models.Account, error) {
	return r.inner.GetAccount(ctx, id)
}

func (r *Retrying) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return r.inner.ListAccounts(ctx)
}

func (r *Retrying) BeginScan(ctx context.Context, session models.ScanSession) error {
	return r.retryWrite(ctx, "begin", func(ctx context.Context) error {
		return r.inner.BeginScan(ctx, session)
	})
}

func (r *Retrying) AppendOpportunities(ctx context.Context, scanID string, batch []models.Opportunity) error {
	return r.retryWrite(ctx, "append", func(ctx context.Context) error {
		return r.inner.AppendOpportunities(ctx, scanID, batch)
	})
}

func (r *Retrying) ReplaceOpportunities(ctx context.Context, scanID string, opportunities []models.Opportunity) error {
	return r.retryWrite(ctx, "replace", func(ctx context.Context) error {
		return r.inner.ReplaceOpportunities(ctx, scanID, opportunities)
	})
}

func (r *Retrying) FinalizeScan(ctx context.Context, session models.ScanSession) error {
	return r.retryWrite(ctx, "finalize", func(ctx context.Context) error {
		return r.inner.FinalizeScan(ctx, session)
	})
}

func (r *Retrying) GetScan(ctx context.Context, scanID string) (models.ScanSession, error) {
	return r.inner.GetScan(ctx, scanID)
}

func (r *Retrying) ListOpportunities(ctx context.Context, scanID string) ([]models.Opportunity, error) {
	return r.inner.ListOpportunities(ctx, scanID)
}
