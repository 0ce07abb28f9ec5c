package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spotsave/spotsave/internal/collectors"
	"github.com/spotsave/spotsave/internal/config"
	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/session"
	"github.com/spotsave/spotsave/internal/store"
)

const testAccountID = "111122223333"

// fakeProvider hands out sessions without touching STS.
type fakeProvider struct {
	err error
}

func (f *fakeProvider) Acquire(_ context.Context, account *models.Account) (*session.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &session.Session{AccountID: account.ID, Region: "us-east-1"}, nil
}

// fakeCollector returns canned records for one domain. When block is
// non-nil, Collect waits until block closes or the context ends.
type fakeCollector struct {
	domain  models.ResourceDomain
	records []models.ResourceRecord
	err     error
	block   chan struct{}
}

func (f *fakeCollector) Domain() models.ResourceDomain { return f.domain }

func (f *fakeCollector) Collect(ctx context.Context, _ collectors.Scope) ([]models.ResourceRecord, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.CollectorRetry = config.RetryConfig{MaxAttempts: 1}
	cfg.StoreRetry = config.RetryConfig{MaxAttempts: 1}
	cfg.Engine.ScanTimeout = config.Duration(5 * time.Second)
	return cfg
}

func testAccount() models.Account {
	return models.Account{
		ID:         testAccountID,
		Name:       "prod",
		RoleARN:    "arn:aws:iam::111122223333:role/ReadOnly",
		ExternalID: "shared-secret",
		CreatedAt:  time.Now().UTC(),
	}
}

func newTestCoordinator(t *testing.T, st store.Store, provider session.Provider, cols ...collectors.Collector) *Coordinator {
	t.Helper()
	if err := st.PutAccount(context.Background(), testAccount()); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return NewCoordinator(testConfig(), st, provider, nil).WithCollectors(cols)
}

// drain consumes the progress stream until it closes and returns every
// received snapshot.
func drain(t *testing.T, ch <-chan models.ProgressSnapshot) []models.ProgressSnapshot {
	t.Helper()
	var snaps []models.ProgressSnapshot
	timeout := time.After(10 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return snaps
			}
			snaps = append(snaps, snap)
		case <-timeout:
			t.Fatal("progress stream did not close")
		}
	}
}

// runScan starts a scan and waits for its terminal state.
func runScan(t *testing.T, c *Coordinator) (string, []models.ProgressSnapshot) {
	t.Helper()
	scanID, err := c.StartScan(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	ch, err := c.SubscribeProgress(scanID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}
	return scanID, drain(t, ch)
}

func idleComputeRecord() models.ResourceRecord {
	return models.ResourceRecord{
		Domain:        models.DomainCompute,
		ResourceID:    "i-idle",
		Region:        "us-east-1",
		ResourceType:  "ec2-instance",
		Configuration: "m5.4xlarge",
		Architecture:  "x86_64",
		State:         "running",
		LaunchTime:    time.Now().UTC().AddDate(0, 0, -200),
		MonthlyCost:   600,
		Metrics: map[string]models.MetricSummary{
			models.MetricCPUUtilization: {Mean: 1.2, P95: 3.0, SampleCount: 30},
			models.MetricNetworkInBytes: {Mean: 1000, P95: 2000, SampleCount: 30},
		},
	}
}

func busyComputeRecord() models.ResourceRecord {
	return models.ResourceRecord{
		Domain:        models.DomainCompute,
		ResourceID:    "i-busy",
		Region:        "us-east-1",
		ResourceType:  "ec2-instance",
		Configuration: "m5.large",
		Architecture:  "x86_64",
		State:         "running",
		LaunchTime:    time.Now().UTC().AddDate(0, 0, -120),
		MonthlyCost:   100,
		Metrics: map[string]models.MetricSummary{
			models.MetricCPUUtilization: {Mean: 90, P95: 97, SampleCount: 30},
			models.MetricNetworkInBytes: {Mean: 5e8, P95: 9e8, SampleCount: 30},
		},
	}
}

func TestScan_ZeroResourcesCompletesClean(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute},
		&fakeCollector{domain: models.DomainDatabase},
	)
	scanID, snaps := runScan(t, c)

	final := snaps[len(snaps)-1]
	if final.State != models.ScanStateCompleted {
		t.Fatalf("final state = %q; want completed (err %q)", final.State, final.Err)
	}
	if final.Degraded {
		t.Error("clean empty scan must not be degraded")
	}

	result, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if len(result.Opportunities) != 0 || result.Session.OpportunityCount != 0 {
		t.Errorf("empty account produced %d opportunities", len(result.Opportunities))
	}
}

func TestScan_IdleInstanceDetectedAtFullSavings(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute, records: []models.ResourceRecord{idleComputeRecord()}},
	)
	scanID, snaps := runScan(t, c)

	if final := snaps[len(snaps)-1]; final.State != models.ScanStateCompleted {
		t.Fatalf("final state = %q; want completed", final.State)
	}

	result, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	// The idle instance also qualifies for reservation, rightsizing, and
	// migration; per-resource dedup must keep only the idle opportunity,
	// which saves the most.
	if len(result.Opportunities) != 1 {
		t.Fatalf("want 1 deduplicated opportunity, got %d", len(result.Opportunities))
	}
	o := result.Opportunities[0]
	if o.Category != models.CategoryIdle {
		t.Errorf("Category = %q; want idle", o.Category)
	}
	if o.SavingsMonthly != 600 || o.SavingsAnnual != 7200 || o.SavingsPercent != 100 {
		t.Errorf("idle savings = %v/%v/%v%%; want 600/7200/100%%",
			o.SavingsMonthly, o.SavingsAnnual, o.SavingsPercent)
	}
	if result.Session.TotalSavingsAnnual != 7200 {
		t.Errorf("TotalSavingsAnnual = %v; want 7200", result.Session.TotalSavingsAnnual)
	}
}

func TestScan_BusyInstanceOnlyReservationEligible(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute, records: []models.ResourceRecord{busyComputeRecord()}},
	)
	scanID, _ := runScan(t, c)

	result, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if len(result.Opportunities) != 1 {
		t.Fatalf("want 1 opportunity, got %d", len(result.Opportunities))
	}
	if got := result.Opportunities[0].Category; got != models.CategoryReservation {
		t.Errorf("Category = %q; want reservation (busy instances are not idle or oversized)", got)
	}
}

func TestScan_ResultsOrderedBySavings(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute, records: []models.ResourceRecord{
			busyComputeRecord(), // reservation, $420/yr
			idleComputeRecord(), // idle, $7200/yr
		}},
	)
	scanID, _ := runScan(t, c)

	result, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if len(result.Opportunities) != 2 {
		t.Fatalf("want 2 opportunities, got %d", len(result.Opportunities))
	}
	if result.Opportunities[0].ResourceID != "i-idle" || result.Opportunities[1].ResourceID != "i-busy" {
		t.Errorf("results not ordered by annual savings: %s then %s",
			result.Opportunities[0].ResourceID, result.Opportunities[1].ResourceID)
	}
}

func TestScan_CommitmentCoverageSuppressesReservation(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute, records: []models.ResourceRecord{busyComputeRecord()}},
		&fakeCollector{domain: models.DomainCommitment, records: []models.ResourceRecord{{
			Domain:        models.DomainCommitment,
			ResourceID:    "ri-1",
			Region:        "us-east-1",
			ResourceType:  "reserved-instance",
			Configuration: "m5.large",
		}}},
	)
	scanID, _ := runScan(t, c)

	result, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	for _, o := range result.Opportunities {
		if o.Category == models.CategoryReservation {
			t.Errorf("reservation recommended for %s despite matching RI", o.ResourceID)
		}
	}
}

func TestScan_FailedDomainDegradesButCompletes(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute, records: []models.ResourceRecord{idleComputeRecord()}},
		&fakeCollector{domain: models.DomainDatabase, err: errors.New("throttled after retries")},
	)
	scanID, snaps := runScan(t, c)

	final := snaps[len(snaps)-1]
	if final.State != models.ScanStateCompleted {
		t.Fatalf("final state = %q; want completed", final.State)
	}
	if !final.Degraded {
		t.Error("scan with one failed domain must be marked degraded")
	}

	result, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if !result.Session.Degraded || len(result.Session.CollectionErrors) != 1 {
		t.Errorf("session degraded=%v errors=%v; want degraded with 1 error",
			result.Session.Degraded, result.Session.CollectionErrors)
	}
	if len(result.Opportunities) != 1 {
		t.Errorf("surviving domain's opportunities missing: got %d", len(result.Opportunities))
	}
}

func TestScan_AuthFailureFailsFast(t *testing.T) {
	authErr := &models.AuthError{Reason: models.AuthDenied, Err: errors.New("AccessDenied")}
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{err: authErr},
		&fakeCollector{domain: models.DomainCompute, records: []models.ResourceRecord{idleComputeRecord()}},
	)
	scanID, snaps := runScan(t, c)

	final := snaps[len(snaps)-1]
	if final.State != models.ScanStateFailed {
		t.Fatalf("final state = %q; want failed", final.State)
	}

	result, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if result.Session.FailureReason != models.FailureAuth {
		t.Errorf("FailureReason = %q; want auth", result.Session.FailureReason)
	}
	if len(result.Opportunities) != 0 {
		t.Error("failed scan must carry no opportunities")
	}
}

func TestScan_CancellationDiscardsResults(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute, records: []models.ResourceRecord{idleComputeRecord()}, block: release},
	)
	scanID, err := c.StartScan(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	ch, err := c.SubscribeProgress(scanID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}

	if err := c.Cancel(scanID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	snaps := drain(t, ch)

	final := snaps[len(snaps)-1]
	if final.State != models.ScanStateFailed {
		t.Fatalf("final state = %q; want failed", final.State)
	}

	result, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if result.Session.FailureReason != models.FailureCancelled {
		t.Errorf("FailureReason = %q; want cancelled", result.Session.FailureReason)
	}
	if len(result.Opportunities) != 0 {
		t.Error("cancelled scan must discard results")
	}
}

func TestScan_TimeoutIsDistinctFromCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.ScanTimeout = config.Duration(50 * time.Millisecond)

	st := store.NewMemoryStore()
	if err := st.PutAccount(context.Background(), testAccount()); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	c := NewCoordinator(cfg, st, &fakeProvider{}, nil).WithCollectors([]collectors.Collector{
		&fakeCollector{domain: models.DomainCompute, block: make(chan struct{})},
	})

	scanID, err := c.StartScan(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	ch, err := c.SubscribeProgress(scanID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}
	drain(t, ch)

	result, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if result.Session.FailureReason != models.FailureTimeout {
		t.Errorf("FailureReason = %q; want timeout", result.Session.FailureReason)
	}
}

func TestScan_StoreFailureFailsScan(t *testing.T) {
	st := &appendFailingStore{Store: store.NewMemoryStore()}
	c := newTestCoordinator(t, st, &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute, records: []models.ResourceRecord{idleComputeRecord()}},
	)
	scanID, snaps := runScan(t, c)

	if final := snaps[len(snaps)-1]; final.State != models.ScanStateFailed {
		t.Fatalf("final state = %q; want failed", final.State)
	}
	result, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if result.Session.FailureReason != models.FailureStore {
		t.Errorf("FailureReason = %q; want store", result.Session.FailureReason)
	}
}

type appendFailingStore struct {
	store.Store
}

func (s *appendFailingStore) AppendOpportunities(context.Context, string, []models.Opportunity) error {
	return &models.StoreError{Op: "append", Err: errors.New("disk full")}
}

func TestStartScan_UnknownAccount(t *testing.T) {
	c := NewCoordinator(testConfig(), store.NewMemoryStore(), &fakeProvider{}, nil).
		WithCollectors(nil)
	if _, err := c.StartScan(context.Background(), "does-not-exist"); !errors.Is(err, models.ErrAccountNotFound) {
		t.Fatalf("err = %v; want ErrAccountNotFound", err)
	}
}

func TestGetResult_RunningAndUnknownScans(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute, block: release},
	)
	scanID, err := c.StartScan(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	if _, err := c.GetResult(context.Background(), scanID); !errors.Is(err, models.ErrScanRunning) {
		t.Errorf("running scan: err = %v; want ErrScanRunning", err)
	}
	if _, err := c.GetResult(context.Background(), "unknown"); !errors.Is(err, models.ErrScanNotFound) {
		t.Errorf("unknown scan: err = %v; want ErrScanNotFound", err)
	}
}

func TestGetResult_IsIdempotent(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute, records: []models.ResourceRecord{idleComputeRecord()}},
	)
	scanID, _ := runScan(t, c)

	first, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("first GetResult: %v", err)
	}
	second, err := c.GetResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("second GetResult: %v", err)
	}
	if len(first.Opportunities) != len(second.Opportunities) {
		t.Fatal("repeated reads returned different result sizes")
	}
	for i := range first.Opportunities {
		if first.Opportunities[i].ID != second.Opportunities[i].ID {
			t.Fatal("repeated reads returned different ordering")
		}
	}
}

func TestCancel_UnknownAndTerminalScans(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute},
	)
	if err := c.Cancel("unknown"); !errors.Is(err, models.ErrScanNotFound) {
		t.Errorf("Cancel(unknown) = %v; want ErrScanNotFound", err)
	}

	scanID, _ := runScan(t, c)
	if err := c.Cancel(scanID); err != nil {
		t.Errorf("Cancel of a terminal scan must be a no-op, got %v", err)
	}
}

func TestProgress_SequencesAreMonotonic(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute, records: []models.ResourceRecord{idleComputeRecord()}},
		&fakeCollector{domain: models.DomainDatabase},
	)
	_, snaps := runScan(t, c)

	if len(snaps) == 0 {
		t.Fatal("no snapshots received")
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Sequence <= snaps[i-1].Sequence {
			t.Fatalf("sequence not increasing: %d then %d", snaps[i-1].Sequence, snaps[i].Sequence)
		}
	}
	if !snaps[len(snaps)-1].Terminal() {
		t.Error("stream must end with a terminal snapshot")
	}
}

func TestSubscribeProgress_AfterCompletion(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute},
	)
	scanID, _ := runScan(t, c)

	ch, err := c.SubscribeProgress(scanID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}
	snaps := drain(t, ch)
	if len(snaps) != 1 || !snaps[0].Terminal() {
		t.Fatalf("late subscriber got %d snapshots; want exactly the terminal one", len(snaps))
	}
}

func TestSubscribeProgress_UnknownScan(t *testing.T) {
	c := NewCoordinator(testConfig(), store.NewMemoryStore(), &fakeProvider{}, nil)
	if _, err := c.SubscribeProgress("unknown"); !errors.Is(err, models.ErrScanNotFound) {
		t.Fatalf("err = %v; want ErrScanNotFound", err)
	}
}

func TestExportResult(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), &fakeProvider{},
		&fakeCollector{domain: models.DomainCompute, records: []models.ResourceRecord{idleComputeRecord()}},
	)
	scanID, _ := runScan(t, c)

	set, err := c.ExportResult(context.Background(), scanID)
	if err != nil {
		t.Fatalf("ExportResult: %v", err)
	}
	if set.Summary.ScanID != scanID || len(set.Rows) != 1 {
		t.Errorf("export summary %+v with %d rows; want the scan's single opportunity",
			set.Summary, len(set.Rows))
	}
}

func TestFinalizeOpportunities(t *testing.T) {
	all := []models.Opportunity{
		{ID: "1", ResourceID: "i-1", Category: models.CategoryMigration, SavingsAnnual: 240, SavingsMonthly: 20},
		{ID: "2", ResourceID: "i-1", Category: models.CategoryIdle, SavingsAnnual: 1200, SavingsMonthly: 100},
		{ID: "3", ResourceID: "i-2", Category: models.CategoryMigration, SavingsAnnual: 600, SavingsMonthly: 50},
		{ID: "4", ResourceID: "i-3", Category: models.CategoryReservation, SavingsAnnual: 600, SavingsMonthly: 50},
	}
	final := finalizeOpportunities(all)

	if len(final) != 3 {
		t.Fatalf("want 3 after dedup, got %d", len(final))
	}
	if final[0].ID != "2" {
		t.Errorf("final[0] = %s; want the idle opportunity (highest savings)", final[0].ID)
	}
	// i-2 and i-3 tie on savings; reservation outranks migration.
	if final[1].ID != "4" || final[2].ID != "3" {
		t.Errorf("tie-break order = %s, %s; want reservation before migration", final[1].ID, final[2].ID)
	}
}
