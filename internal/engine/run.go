package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spotsave/spotsave/internal/collectors"
	"github.com/spotsave/spotsave/internal/detectors"
	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/pricing"
)

// recentWindow is how many of the latest opportunities ride along on each
// progress snapshot.
const recentWindow = 5

// domainResult is one collector's complete outcome, delivered to the
// aggregation loop. Exactly one is sent per domain per scan.
type domainResult struct {
	domain  models.ResourceDomain
	records []models.ResourceRecord
	err     error
}

// run executes one scan to its terminal state. It is the only goroutine
// that mutates the scan session or publishes progress for it.
func (c *Coordinator) run(ctx context.Context, account models.Account, scan models.ScanSession, as *activeScan) {
	log := c.log.With(zap.String("scan_id", scan.ID), zap.String("account_id", account.ID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("scan panicked", zap.Any("panic", r))
			scan.State = models.ScanStateFailed
			scan.FailureReason = models.FailureInternal
			scan.ErrorMessage = fmt.Sprintf("internal error: %v", r)
			c.finish(scan, as)
		}
	}()

	sess, err := c.sessions.Acquire(ctx, &account)
	if err != nil {
		log.Warn("session acquisition failed", zap.Error(err))
		scan.State = models.ScanStateFailed
		scan.FailureReason = models.FailureAuth
		scan.ErrorMessage = err.Error()
		c.finish(scan, as)
		return
	}

	scan.State = models.ScanStateRunning
	as.hub.Publish(models.ProgressSnapshot{
		ScanID:       scan.ID,
		State:        models.ScanStateRunning,
		DomainsTotal: len(c.collector),
	})
	log.Info("scan running", zap.Int("domains", len(c.collector)))

	scope := collectors.Scope{
		Session:      sess,
		Regions:      c.cfg.Engine.Regions,
		LookbackDays: c.cfg.Engine.LookbackDays,
		Retry:        c.cfg.CollectorRetry.Policy(),
	}

	results := make(chan domainResult)
	maxInFlight := c.cfg.Engine.MaxConcurrentCollectors
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	sem := make(chan struct{}, maxInFlight)

	g, gctx := errgroup.WithContext(ctx)
	for _, col := range c.collector {
		col := col
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				results <- domainResult{domain: col.Domain(), err: gctx.Err()}
				return nil
			}
			defer func() { <-sem }()

			log.Debug("collecting domain", zap.String("domain", string(col.Domain())))
			records, err := col.Collect(gctx, scope)
			if err != nil {
				err = &models.CollectionError{Domain: col.Domain(), Err: err}
			}
			results <- domainResult{domain: col.Domain(), records: records, err: err}
			return nil
		})
	}
	go func() {
		// Collector outcomes travel in the result messages; Wait only
		// gates the channel close.
		_ = g.Wait()
		close(results)
	}()

	outcome := c.aggregate(ctx, log, scan, as, results)

	// The aggregation loop only returns after every collector goroutine
	// has delivered its result, so nothing races on scan state below.
	switch {
	case outcome.storeErr != nil:
		scan.State = models.ScanStateFailed
		scan.FailureReason = models.FailureStore
		scan.ErrorMessage = outcome.storeErr.Error()
	case ctx.Err() != nil:
		scan.State = models.ScanStateFailed
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			scan.FailureReason = models.FailureTimeout
			scan.ErrorMessage = "scan exceeded its time budget"
		} else {
			scan.FailureReason = models.FailureCancelled
			scan.ErrorMessage = "scan cancelled"
		}
	default:
		final := finalizeOpportunities(outcome.opportunities)
		if err := c.store.ReplaceOpportunities(ctx, scan.ID, final); err != nil {
			scan.State = models.ScanStateFailed
			scan.FailureReason = models.FailureStore
			scan.ErrorMessage = err.Error()
			break
		}
		var monthly, annual float64
		for _, o := range final {
			monthly += o.SavingsMonthly
			annual += o.SavingsAnnual
		}
		scan.State = models.ScanStateCompleted
		scan.Degraded = outcome.degraded
		scan.CollectionErrors = outcome.collectionErrors
		scan.OpportunityCount = len(final)
		scan.TotalSavingsMonthly = pricing.Round2(monthly)
		scan.TotalSavingsAnnual = pricing.Round2(annual)
	}

	c.finish(scan, as)
	log.Info("scan finished",
		zap.String("state", string(scan.State)),
		zap.String("failure_reason", string(scan.FailureReason)),
		zap.Bool("degraded", scan.Degraded),
		zap.Int("opportunities", scan.OpportunityCount))

	if scan.State == models.ScanStateCompleted {
		now := time.Now().UTC()
		account.LastScanAt = &now
		if err := c.store.PutAccount(context.Background(), account); err != nil {
			log.Warn("record last scan time", zap.Error(err))
		}
	}
}

// aggregateOutcome is what the single-writer loop hands back to run.
type aggregateOutcome struct {
	opportunities    []models.Opportunity
	collectionErrors []string
	degraded         bool
	storeErr         error
}

// aggregate is the single-writer loop: it consumes every domain result,
// stamps commitment coverage onto compute records, runs detectors in
// arrival order, checkpoints batches, and publishes progress. It always
// drains the results channel so collector goroutines never leak.
func (c *Coordinator) aggregate(
	ctx context.Context,
	log *zap.Logger,
	scan models.ScanSession,
	as *activeScan,
	results <-chan domainResult,
) aggregateOutcome {
	var out aggregateOutcome
	var recent []models.RecentOpportunity
	var annualSoFar float64

	// Compute records wait for the commitment domain so coverage is
	// stamped before the reservation detector sees them.
	var pendingCompute []models.ResourceRecord
	var commitments []models.ResourceRecord
	computeArrived := false
	commitmentArrived := !c.hasDomain(models.DomainCommitment)

	domainsDone := 0
	domainsTotal := len(c.collector)
	if domainsTotal == 0 {
		domainsTotal = 1
	}

	dctx := detectors.Context{Thresholds: c.cfg.Thresholds, Now: time.Now().UTC()}

	process := func(records []models.ResourceRecord) {
		if out.storeErr != nil {
			return
		}
		batch := c.detect(log, dctx, records, commitments)
		if len(batch) == 0 {
			return
		}
		if err := c.store.AppendOpportunities(ctx, scan.ID, batch); err != nil {
			log.Error("checkpoint failed", zap.Error(err))
			out.storeErr = err
			return
		}
		out.opportunities = append(out.opportunities, batch...)
		for _, o := range batch {
			annualSoFar += o.SavingsAnnual
			recent = append(recent, models.RecentOpportunity{
				ID:             o.ID,
				Category:       o.Category,
				ResourceID:     o.ResourceID,
				SavingsAnnual:  o.SavingsAnnual,
				Recommendation: o.Recommendation,
			})
		}
		if len(recent) > recentWindow {
			recent = recent[len(recent)-recentWindow:]
		}
	}

	for res := range results {
		domainsDone++

		if res.err != nil {
			var colErr *models.CollectionError
			if errors.As(res.err, &colErr) {
				log.Warn("domain degraded",
					zap.String("domain", string(res.domain)), zap.Error(colErr.Err))
				out.degraded = true
				out.collectionErrors = append(out.collectionErrors, colErr.Error())
			}
			// Context errors reported by collectors resolve through
			// ctx.Err() after the loop; they are not domain failures.
			if res.domain == models.DomainCommitment {
				commitmentArrived = true
			}
		} else {
			switch res.domain {
			case models.DomainCommitment:
				commitments = res.records
				commitmentArrived = true
			case models.DomainCompute:
				pendingCompute = res.records
				computeArrived = true
			default:
				process(res.records)
			}
		}

		if commitmentArrived && computeArrived {
			process(pendingCompute)
			pendingCompute = nil
			computeArrived = false
		}

		as.hub.Publish(models.ProgressSnapshot{
			ScanID:              scan.ID,
			State:               models.ScanStateRunning,
			Percent:             domainsDone * 100 / domainsTotal,
			DomainsDone:         domainsDone,
			DomainsTotal:        domainsTotal,
			OpportunitiesFound:  len(out.opportunities),
			TotalSavingsAnnual:  pricing.Round2(annualSoFar),
			RecentOpportunities: recent,
			Degraded:            out.degraded,
		})
	}

	// Commitment collector failed or was cancelled: detect on the held
	// compute records without coverage data rather than dropping them.
	if computeArrived {
		process(pendingCompute)
	}

	return out
}

// hasDomain reports whether the collector set includes the domain.
func (c *Coordinator) hasDomain(domain models.ResourceDomain) bool {
	for _, col := range c.collector {
		if col.Domain() == domain {
			return true
		}
	}
	return false
}

// detect runs every detector over every record and keeps the valid
// results. A panicking detector skips that record only; detection is
// best-effort per resource.
func (c *Coordinator) detect(
	log *zap.Logger,
	dctx detectors.Context,
	records []models.ResourceRecord,
	commitments []models.ResourceRecord,
) []models.Opportunity {
	var batch []models.Opportunity
	for i := range records {
		rec := &records[i]
		if rec.Domain == models.DomainCompute {
			for j := range commitments {
				if collectors.CoversConfiguration(&commitments[j], rec.Configuration, rec.Region) {
					rec.CoveredByCommitment = true
					break
				}
			}
		}
		for _, d := range c.detector {
			o := safeDetect(log, d, dctx, rec)
			if o == nil {
				continue
			}
			if !o.Valid() {
				log.Warn("detector produced invalid savings",
					zap.String("detector", d.ID()), zap.String("resource", rec.ResourceID))
				continue
			}
			batch = append(batch, *o)
		}
	}
	return batch
}

func safeDetect(log *zap.Logger, d detectors.Detector, dctx detectors.Context, rec *models.ResourceRecord) (o *models.Opportunity) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("detector panicked",
				zap.String("detector", d.ID()),
				zap.String("resource", rec.ResourceID),
				zap.Any("panic", r))
			o = nil
		}
	}()
	return d.Detect(dctx, rec)
}

// finalizeOpportunities applies the cross-resource result policy: one
// opportunity per resource (highest annual savings wins, earliest arrival
// breaks exact ties), ordered by annual savings descending with category
// priority as the tiebreak.
func finalizeOpportunities(all []models.Opportunity) []models.Opportunity {
	bestByResource := make(map[string]models.Opportunity, len(all))
	for _, o := range all {
		best, seen := bestByResource[o.ResourceID]
		if !seen || o.SavingsAnnual > best.SavingsAnnual {
			bestByResource[o.ResourceID] = o
		}
	}

	final := make([]models.Opportunity, 0, len(bestByResource))
	for _, o := range bestByResource {
		final = append(final, o)
	}
	sort.SliceStable(final, func(i, j int) bool {
		if final[i].SavingsAnnual != final[j].SavingsAnnual {
			return final[i].SavingsAnnual > final[j].SavingsAnnual
		}
		return models.CategoryRank(final[i].Category) < models.CategoryRank(final[j].Category)
	})
	return final
}

// finish writes the terminal session, publishes the final snapshot, and
// retires the scan from the active table.
func (c *Coordinator) finish(scan models.ScanSession, as *activeScan) {
	now := time.Now().UTC()
	scan.CompletedAt = &now

	// Finalize must not be lost to the cancelled scan context; it gets a
	// short budget of its own.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.store.FinalizeScan(ctx, scan); err != nil {
		c.log.Error("finalize scan", zap.String("scan_id", scan.ID), zap.Error(err))
	}

	snap := models.ProgressSnapshot{
		ScanID:             scan.ID,
		State:              scan.State,
		Percent:            100,
		OpportunitiesFound: scan.OpportunityCount,
		TotalSavingsAnnual: scan.TotalSavingsAnnual,
		Degraded:           scan.Degraded,
		Err:                scan.ErrorMessage,
	}
	as.hub.Publish(snap)

	c.mu.Lock()
	delete(c.active, scan.ID)
	c.mu.Unlock()

	as.cancel()
}
