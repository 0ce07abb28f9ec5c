package detectors

import (
	"fmt"

	"github.com/spotsave/spotsave/internal/models"
)

func init() { Register(&IdleDetector{}) }

// IdleDetector flags compute that shows neither CPU activity nor inbound
// traffic over the lookback window. Both signals must agree; a quiet-CPU
// instance still serving traffic is not idle.
type IdleDetector struct{}

func (d *IdleDetector) ID() string { return "idle-resource" }

func (d *IdleDetector) Category() models.OpportunityCategory {
	return models.CategoryIdle
}

func (d *IdleDetector) Detect(dctx Context, record *models.ResourceRecord) *models.Opportunity {
	if record.Domain != models.DomainCompute {
		return nil
	}

	t := dctx.Thresholds
	cpu, ok := record.Metric(models.MetricCPUUtilization)
	if !ok || cpu.SampleCount < t.MinSamples {
		return nil
	}
	network, ok := record.Metric(models.MetricNetworkInBytes)
	if !ok || network.SampleCount < t.MinSamples {
		return nil
	}
	if cpu.Mean >= t.IdleCPUPercent || network.Mean >= t.IdleNetworkBytes {
		return nil
	}
	if record.MonthlyCost <= 0 {
		return nil
	}

	o := newOpportunity(dctx, record, models.CategoryIdle, record.MonthlyCost)
	o.Risk = models.RiskMedium
	o.ImplementationHours = 1
	o.Recommendation = fmt.Sprintf(
		"Stop or terminate this instance; mean CPU %.1f%% and mean inbound traffic %.0f bytes/day indicate it is unused",
		cpu.Mean, network.Mean)
	o.ActionSteps = []string{
		"Confirm with the owning team that the instance has no scheduled or standby role",
		"Snapshot attached volumes",
		"Stop the instance and wait one billing cycle for objections",
		"Terminate the instance and release associated addresses",
	}
	o.RollbackPlan = "Restart the stopped instance, or restore from the snapshot if already terminated"
	o.Details = map[string]any{
		"cpu_mean":         cpu.Mean,
		"network_in_mean":  network.Mean,
		"cpu_sample_count": cpu.SampleCount,
		"configuration":    record.Configuration,
	}
	return &o
}
