// Package engine runs scans: it acquires a delegated credential session,
// fans collectors out across resource domains, feeds detectors as each
// domain arrives, and owns the scan lifecycle from queued to terminal. All
// aggregation happens on a single goroutine per scan; nothing outside it
// mutates scan state.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spotsave/spotsave/internal/collectors"
	"github.com/spotsave/spotsave/internal/config"
	"github.com/spotsave/spotsave/internal/detectors"
	"github.com/spotsave/spotsave/internal/export"
	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/session"
	"github.com/spotsave/spotsave/internal/store"
)

// Result is the immutable outcome of a terminal scan. Failed scans carry
// no opportunities regardless of what was detected before the failure.
type Result struct {
	Session       models.ScanSession
	Opportunities []models.Opportunity
}

// Engine is the scan orchestration surface consumed by the HTTP server
// and the CLI.
type Engine interface {
	// StartScan begins a scan against a registered account and returns
	// the new scan ID. The scan itself runs asynchronously; its outcome
	// surfaces through progress snapshots and GetResult.
	StartScan(ctx context.Context, accountID string) (string, error)

	// Cancel aborts a running scan. Cancelling a terminal scan is a
	// no-op; unknown IDs return models.ErrScanNotFound.
	Cancel(scanID string) error

	// SubscribeProgress returns a receive-only snapshot stream for the
	// scan. The channel closes after the terminal snapshot.
	SubscribeProgress(scanID string) (<-chan models.ProgressSnapshot, error)

	// GetResult returns the terminal outcome. Running scans return
	// models.ErrScanRunning.
	GetResult(ctx context.Context, scanID string) (*Result, error)

	// ExportResult flattens a terminal scan for download.
	ExportResult(ctx context.Context, scanID string) (export.Set, error)
}

// Coordinator is the production Engine. One Coordinator serves many
// concurrent scans; per-scan state lives in the run goroutine and the
// active table.
type Coordinator struct {
	cfg       config.Config
	store     store.Store
	sessions  session.Provider
	collector []collectors.Collector
	detector  []detectors.Detector
	log       *zap.Logger

	mu     sync.Mutex
	active map[string]*activeScan
}

type activeScan struct {
	hub    *progressHub
	cancel context.CancelFunc
}

// NewCoordinator wires a Coordinator. Passing nil for log disables
// logging; collectors and detectors default to the production sets.
func NewCoordinator(
	cfg config.Config,
	st store.Store,
	sessions session.Provider,
	log *zap.Logger,
) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		cfg:       cfg,
		store:     st,
		sessions:  sessions,
		collector: collectors.All(),
		detector:  detectors.All(),
		log:       log,
		active:    make(map[string]*activeScan),
	}
}

// WithCollectors replaces the collector set. Used by tests and by callers
// that scan a subset of domains.
func (c *Coordinator) WithCollectors(cols []collectors.Collector) *Coordinator {
	c.collector = cols
	return c
}

// WithDetectors replaces the detector set.
func (c *Coordinator) WithDetectors(dets []detectors.Detector) *Coordinator {
	c.detector = dets
	return c
}

func (c *Coordinator) StartScan(ctx context.Context, accountID string) (string, error) {
	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("start scan for account %q: %w", accountID, err)
	}

	scan := models.ScanSession{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		State:     models.ScanStateQueued,
		StartedAt: time.Now().UTC(),
	}
	if err := c.store.BeginScan(ctx, scan); err != nil {
		return "", fmt.Errorf("begin scan: %w", err)
	}

	// The scan outlives the caller's request context; only the per-scan
	// timeout and an explicit Cancel stop it.
	runCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Engine.ScanTimeout.D())

	as := &activeScan{
		hub:    newProgressHub(c.cfg.Engine.ProgressBuffer),
		cancel: cancel,
	}
	c.mu.Lock()
	c.active[scan.ID] = as
	c.mu.Unlock()

	as.hub.Publish(models.ProgressSnapshot{
		ScanID:       scan.ID,
		State:        models.ScanStateQueued,
		DomainsTotal: len(c.collector),
	})

	go c.run(runCtx, account, scan, as)

	return scan.ID, nil
}

func (c *Coordinator) Cancel(scanID string) error {
	c.mu.Lock()
	as, ok := c.active[scanID]
	c.mu.Unlock()
	if ok {
		as.cancel()
		return nil
	}

	// Not active: distinguish a finished scan from an unknown one.
	scan, err := c.store.GetScan(context.Background(), scanID)
	if err != nil {
		return err
	}
	if scan.State.Terminal() {
		return nil
	}
	return models.ErrScanNotFound
}

func (c *Coordinator) SubscribeProgress(scanID string) (<-chan models.ProgressSnapshot, error) {
	c.mu.Lock()
	as, ok := c.active[scanID]
	c.mu.Unlock()
	if ok {
		return as.hub.Subscribe(), nil
	}

	scan, err := c.store.GetScan(context.Background(), scanID)
	if err != nil {
		return nil, err
	}

	// The scan already finished; deliver its terminal state once.
	ch := make(chan models.ProgressSnapshot, 1)
	ch <- terminalSnapshot(scan)
	close(ch)
	return ch, nil
}

func (c *Coordinator) GetResult(ctx context.Context, scanID string) (*Result, error) {
	scan, err := c.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if !scan.State.Terminal() {
		return nil, models.ErrScanRunning
	}
	if scan.State == models.ScanStateFailed {
		// Checkpointed opportunities stay in the store for audit but are
		// not part of a failed scan's result.
		return &Result{Session: scan}, nil
	}

	opportunities, err := c.store.ListOpportunities(ctx, scanID)
	if err != nil {
		return nil, err
	}
	return &Result{Session: scan, Opportunities: opportunities}, nil
}

func (c *Coordinator) ExportResult(ctx context.Context, scanID string) (export.Set, error) {
	result, err := c.GetResult(ctx, scanID)
	if err != nil {
		return export.Set{}, err
	}
	return export.Flatten(result.Session, result.Opportunities), nil
}

// terminalSnapshot projects a stored terminal session into the snapshot a
// late subscriber receives.
func terminalSnapshot(scan models.ScanSession) models.ProgressSnapshot {
	snap := models.ProgressSnapshot{
		ScanID:             scan.ID,
		Sequence:           1,
		State:              scan.State,
		Percent:            100,
		OpportunitiesFound: scan.OpportunityCount,
		TotalSavingsAnnual: scan.TotalSavingsAnnual,
		Degraded:           scan.Degraded,
		Err:                scan.ErrorMessage,
	}
	return snap
}
