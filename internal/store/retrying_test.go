package store

import (
	"context"
	"errors"
	"testing"

	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/retry"
)

// flaky wraps a MemoryStore and fails the first failures write calls.
type flaky struct {
	*MemoryStore
	failures int
}

func (f *flaky) AppendOpportunities(ctx context.Context, scanID string, batch []models.Opportunity) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.MemoryStore.AppendOpportunities(ctx, scanID, batch)
}

func (f *flaky) FinalizeScan(ctx context.Context, session models.ScanSession) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.MemoryStore.FinalizeScan(ctx, session)
}

func TestRetrying_AppendSurvivesTransientFailures(t *testing.T) {
	inner := &flaky{MemoryStore: NewMemoryStore(), failures: 2}
	s := NewRetrying(inner, retry.Policy{MaxAttempts: 3})
	ctx := context.Background()

	if err := s.BeginScan(ctx, newScan("scan-1")); err != nil {
		t.Fatalf("BeginScan: %v", err)
	}
	if err := s.AppendOpportunities(ctx, "scan-1", []models.Opportunity{opportunity("a", 100)}); err != nil {
		t.Fatalf("append should succeed on the third attempt: %v", err)
	}
	got, err := s.ListOpportunities(ctx, "scan-1")
	if err != nil || len(got) != 1 {
		t.Fatalf("stored %d opportunities (err %v); want 1", len(got), err)
	}
}

func TestRetrying_ExhaustionBecomesStoreError(t *testing.T) {
	inner := &flaky{MemoryStore: NewMemoryStore(), failures: 10}
	s := NewRetrying(inner, retry.Policy{MaxAttempts: 2})
	ctx := context.Background()

	if err := s.BeginScan(ctx, newScan("scan-1")); err != nil {
		t.Fatalf("BeginScan: %v", err)
	}
	err := s.AppendOpportunities(ctx, "scan-1", []models.Opportunity{opportunity("a", 100)})

	var storeErr *models.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("err = %T %v; want *models.StoreError", err, err)
	}
	if storeErr.Op != "append" {
		t.Errorf("Op = %q; want append", storeErr.Op)
	}
}

func TestRetrying_NotFoundIsNotRetried(t *testing.T) {
	calls := 0
	inner := &countingStore{MemoryStore: NewMemoryStore(), onAppend: func() { calls++ }}
	s := NewRetrying(inner, retry.Policy{MaxAttempts: 5})

	err := s.AppendOpportunities(context.Background(), "missing", []models.Opportunity{opportunity("a", 100)})
	if !errors.Is(err, models.ErrScanNotFound) {
		t.Fatalf("err = %v; want ErrScanNotFound passed through", err)
	}
	if calls != 1 {
		t.Errorf("append attempted %d times; not-found must not retry", calls)
	}
}

func TestRetrying_ReadsPassThrough(t *testing.T) {
	s := NewRetrying(NewMemoryStore(), retry.Policy{MaxAttempts: 3})
	if _, err := s.GetScan(context.Background(), "missing"); !errors.Is(err, models.ErrScanNotFound) {
		t.Fatalf("GetScan = %v; want ErrScanNotFound", err)
	}
}

type countingStore struct {
	*MemoryStore
	onAppend func()
}

func (c *countingStore) AppendOpportunities(ctx context.Context, scanID string, batch []models.Opportunity) error {
	c.onAppend()
	return c.MemoryStore.AppendOpportunities(ctx, scanID, batch)
}
