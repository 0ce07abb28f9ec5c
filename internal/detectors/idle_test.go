package detectors

import (
	"testing"

	"github.com/spotsave/spotsave/internal/models"
)

func idleMetrics(cpuMean, networkMean float64, samples int) map[string]models.MetricSummary {
	return map[string]models.MetricSummary{
		models.MetricCPUUtilization: summary(cpuMean, cpuMean*2, samples),
		models.MetricNetworkInBytes: summary(networkMean, networkMean*2, samples),
	}
}

func TestIdleDetector(t *testing.T) {
	d := &IdleDetector{}
	dctx := testContext()

	tests := []struct {
		name   string
		record *models.ResourceRecord
		want   bool
	}{
		{
			name:   "no CPU and no traffic fires",
			record: computeRecord("i-1", "m5.4xlarge", 600, 200, idleMetrics(1.2, 1000, 30)),
			want:   true,
		},
		{
			name:   "quiet CPU but real traffic does not fire",
			record: computeRecord("i-2", "m5.large", 100, 60, idleMetrics(1.2, 5e7, 30)),
			want:   false,
		},
		{
			name:   "busy CPU does not fire",
			record: computeRecord("i-3", "m5.large", 100, 60, idleMetrics(40, 1000, 30)),
			want:   false,
		},
		{
			name:   "too few samples skips classification",
			record: computeRecord("i-4", "m5.large", 100, 60, idleMetrics(1.2, 1000, 2)),
			want:   false,
		},
		{
			name: "missing network metric skips classification",
			record: computeRecord("i-5", "m5.large", 100, 60, map[string]models.MetricSummary{
				models.MetricCPUUtilization: summary(1.2, 2.0, 30),
			}),
			want: false,
		},
		{
			name: "database domain is out of scope",
			record: &models.ResourceRecord{
				Domain:      models.DomainDatabase,
				ResourceID:  "quiet-db",
				MonthlyCost: 100,
				Metrics:     idleMetrics(1.2, 1000, 30),
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(dctx, tt.record)
			if (got != nil) != tt.want {
				t.Fatalf("Detect fired=%v; want %v", got != nil, tt.want)
			}
		})
	}
}

func TestIdleDetector_SavingsAreFullCost(t *testing.T) {
	d := &IdleDetector{}
	rec := computeRecord("i-idle", "m5.4xlarge", 600, 200, idleMetrics(1.2, 1000, 30))
	o := d.Detect(testContext(), rec)
	if o == nil {
		t.Fatal("expected an opportunity")
	}
	if o.SavingsMonthly != 600 {
		t.Errorf("SavingsMonthly = %v; want 600 (full cost)", o.SavingsMonthly)
	}
	if o.SavingsAnnual != 7200 {
		t.Errorf("SavingsAnnual = %v; want 7200", o.SavingsAnnual)
	}
	if o.SavingsPercent != 100 {
		t.Errorf("SavingsPercent = %v; want 100", o.SavingsPercent)
	}
}
