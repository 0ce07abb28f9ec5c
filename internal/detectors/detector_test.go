package detectors

import (
	"testing"
	"time"

	"github.com/spotsave/spotsave/internal/config"
	"github.com/spotsave/spotsave/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testContext() Context {
	return Context{Thresholds: config.DefaultThresholds(), Now: testNow}
}

// computeRecord builds a running EC2 record launched ageDays ago with the
// given utilization summaries.
func computeRecord(id, instanceType string, monthlyCost float64, ageDays int, metrics map[string]models.MetricSummary) *models.ResourceRecord {
	return &models.ResourceRecord{
		Domain:        models.DomainCompute,
		ResourceID:    id,
		Region:        "us-east-1",
		ResourceType:  "ec2-instance",
		Configuration: instanceType,
		Architecture:  "x86_64",
		State:         "running",
		LaunchTime:    testNow.AddDate(0, 0, -ageDays),
		MonthlyCost:   monthlyCost,
		Metrics:       metrics,
	}
}

func summary(mean, p95 float64, samples int) models.MetricSummary {
	return models.MetricSummary{Mean: mean, P95: p95, SampleCount: samples}
}

func TestRegistryHoldsAllCategories(t *testing.T) {
	all := All()
	if len(all) != 4 {
		t.Fatalf("registered detectors = %d; want 4", len(all))
	}
	seen := map[models.OpportunityCategory]bool{}
	for _, d := range all {
		if d.ID() == "" {
			t.Error("detector with empty ID")
		}
		if seen[d.Category()] {
			t.Errorf("category %q registered twice", d.Category())
		}
		seen[d.Category()] = true
	}
	for _, c := range []models.OpportunityCategory{
		models.CategoryReservation, models.CategoryRightsizing,
		models.CategoryIdle, models.CategoryMigration,
	} {
		if !seen[c] {
			t.Errorf("no detector registered for category %q", c)
		}
	}
}

func TestRegisterPanicsOnDuplicateID(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate detector ID")
		}
	}()
	Register(&IdleDetector{})
}

func TestAllDetectorResultsSatisfySavingsInvariant(t *testing.T) {
	records := []*models.ResourceRecord{
		computeRecord("i-busy", "m5.large", 100, 90, map[string]models.MetricSummary{
			models.MetricCPUUtilization: summary(80, 97, 30),
			models.MetricNetworkInBytes: summary(5e8, 9e8, 30),
		}),
		computeRecord("i-idle", "m5.4xlarge", 600, 200, map[string]models.MetricSummary{
			models.MetricCPUUtilization: summary(1.2, 3.0, 30),
			models.MetricNetworkInBytes: summary(1000, 2000, 30),
		}),
		computeRecord("i-quietcpu", "c5.2xlarge", 400, 60, map[string]models.MetricSummary{
			models.MetricCPUUtilization: summary(8, 15, 30),
			models.MetricNetworkInBytes: summary(5e7, 8e7, 30),
		}),
	}
	dctx := testContext()
	for _, d := range All() {
		for _, r := range records {
			o := d.Detect(dctx, r)
			if o == nil {
				continue
			}
			if !o.Valid() {
				t.Errorf("%s on %s: invalid savings: monthly=%v annual=%v cost=%v",
					d.ID(), r.ResourceID, o.SavingsMonthly, o.SavingsAnnual, o.CurrentCostMonthly)
			}
			if o.Category != d.Category() {
				t.Errorf("%s emitted category %q; want %q", d.ID(), o.Category, d.Category())
			}
			if o.ID == "" || o.ResourceID == "" || o.Recommendation == "" {
				t.Errorf("%s on %s: incomplete opportunity %+v", d.ID(), r.ResourceID, o)
			}
		}
	}
}
