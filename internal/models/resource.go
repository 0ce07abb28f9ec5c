package models

import "time"

// ResourceDomain identifies which collector produced a ResourceRecord.
type ResourceDomain string

const (
	DomainCompute    ResourceDomain = "compute"
	DomainDatabase   ResourceDomain = "database"
	DomainFunction   ResourceDomain = "function"
	DomainCommitment ResourceDomain = "commitment"
)

// AllDomains lists every resource domain in collection order.
func AllDomains() []ResourceDomain {
	return []ResourceDomain{DomainCompute, DomainDatabase, DomainFunction, DomainCommitment}
}

// Metric names used as keys in ResourceRecord.Metrics.
const (
	MetricCPUUtilization    = "cpu_utilization"
	MetricMemoryUtilization = "memory_utilization"
	MetricNetworkInBytes    = "network_in_bytes"
	MetricInvocations       = "invocations"
)

// MetricSummary is a recent statistical summary of one CloudWatch metric.
// SampleCount 0 means the metric was queried but no datapoints exist;
// detectors must treat missing data as "unknown", never as zero utilization.
type MetricSummary struct {
	Mean        float64 `json:"mean"`
	P95         float64 `json:"p95"`
	SampleCount int     `json:"sample_count"`
}

// ResourceRecord is a normalized snapshot of one cloud resource relevant to
// cost analysis. Produced by exactly one collector, consumed by zero or more
// detectors, and held in memory only for the duration of a scan.
type ResourceRecord struct {
	Domain     ResourceDomain `json:"domain"`
	ResourceID string         `json:"resource_id"`
	Region     string         `json:"region"`

	// ResourceType is the upstream kind label, e.g. "ec2-instance".
	ResourceType string `json:"resource_type"`

	// Configuration is the current size/type, e.g. "m5.large" or
	// "db.t3.medium". For functions this is the memory size label.
	Configuration string `json:"configuration"`

	// Architecture is the instruction-set family, e.g. "x86_64" or "arm64".
	Architecture string `json:"architecture,omitempty"`

	State      string    `json:"state,omitempty"`
	LaunchTime time.Time `json:"launch_time,omitempty"`

	// MonthlyCost is the best-effort on-demand cost estimate in USD.
	MonthlyCost float64 `json:"monthly_cost"`

	// CoveredByCommitment is true when an active reservation or savings
	// plan already applies to this resource's configuration. Stamped by
	// the coordinator from the commitment domain's inventory.
	CoveredByCommitment bool `json:"covered_by_commitment"`

	Metrics map[string]MetricSummary `json:"metrics,omitempty"`

	Tags map[string]string `json:"tags,omitempty"`
}

// Metric returns the summary for name and whether it has any samples.
func (r *ResourceRecord) Metric(name string) (MetricSummary, bool) {
	m, ok := r.Metrics[name]
	return m, ok && m.SampleCount > 0
}

// AgeDays returns the whole days elapsed since the resource was launched,
// or 0 when LaunchTime is unknown.
func (r *ResourceRecord) AgeDays(now time.Time) int {
	if r.LaunchTime.IsZero() {
		return 0
	}
	return int(now.Sub(r.LaunchTime).Hours() / 24)
}
