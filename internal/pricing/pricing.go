// Package pricing estimates on-demand costs from a static size ladder.
// Figures are best-effort heuristics for ranking opportunities, not billing
// data; the engine never presents them as certified amounts.
package pricing

import (
	"math"
	"strings"
)

// HoursPerMonth is the standard 730-hour billing month.
const HoursPerMonth = 730

// hourlyBySize maps an instance size label to a baseline hourly USD rate.
var hourlyBySize = map[string]float64{
	"nano":    0.005,
	"micro":   0.01,
	"small":   0.02,
	"medium":  0.04,
	"large":   0.08,
	"xlarge":  0.16,
	"2xlarge": 0.32,
	"4xlarge": 0.64,
	"8xlarge": 1.28,
}

// premiumFamilies pay a 1.2x multiplier over the size baseline.
var premiumFamilies = map[string]bool{
	"m5": true, "c5": true, "r5": true,
	"m7g": true, "c7g": true, "r7g": true,
}

// sizeLadder orders sizes from smallest to largest for downsizing lookups.
var sizeLadder = []string{
	"nano", "micro", "small", "medium", "large",
	"xlarge", "2xlarge", "4xlarge", "8xlarge",
}

// gravitonFamilies maps x86 instance families to their ARM (Graviton)
// equivalents with comparable performance at a lower price point.
var gravitonFamilies = map[string]string{
	"t3": "t4g", "t3a": "t4g",
	"m5": "m7g", "m5a": "m7g", "m5n": "m7g",
	"c5": "c7g", "c5a": "c7g", "c5n": "c7g",
	"r5": "r7g", "r5a": "r7g", "r5n": "r7g",
}

// defaultHourly is the fallback rate for unrecognized sizes.
const defaultHourly = 0.08

// HourlyCost estimates the on-demand hourly USD rate for instanceType
// (e.g. "m5.large"). Unrecognized types fall back to the large-size rate.
func HourlyCost(instanceType string) float64 {
	family, size, ok := splitType(instanceType)
	if !ok {
		return defaultHourly
	}
	base, ok := hourlyBySize[size]
	if !ok {
		base = defaultHourly
	}
	if premiumFamilies[family] {
		base *= 1.2
	}
	return base
}

// MonthlyCost estimates the on-demand monthly USD cost for instanceType.
func MonthlyCost(instanceType string) float64 {
	return HourlyCost(instanceType) * HoursPerMonth
}

// DatabaseMonthlyCost estimates the monthly cost of an RDS instance class
// such as "db.t3.medium". RDS carries roughly a 1.5x premium over the
// equivalent EC2 size for storage and management overhead.
func DatabaseMonthlyCost(instanceClass string) float64 {
	return MonthlyCost(strings.TrimPrefix(instanceClass, "db.")) * 1.5
}

// FunctionMonthlyCost estimates the monthly cost of a Lambda function from
// its memory size and observed mean invocations per day. Assumes a 500ms
// average duration at $0.0000166667 per GB-second plus the per-request fee.
func FunctionMonthlyCost(memoryMB int32, invocationsPerDay float64) float64 {
	if memoryMB <= 0 || invocationsPerDay <= 0 {
		return 0
	}
	const (
		gbSecondRate = 0.0000166667
		requestRate  = 0.20 / 1_000_000
		avgSeconds   = 0.5
		daysPerMonth = 30
	)
	monthlyInvocations := invocationsPerDay * daysPerMonth
	gbSeconds := monthlyInvocations * avgSeconds * float64(memoryMB) / 1024
	return gbSeconds*gbSecondRate + monthlyInvocations*requestRate
}

// NextSmallerType returns the next size down within the same family, or ""
// when the instance is already the smallest size or the type is unrecognized.
func NextSmallerType(instanceType string) string {
	family, size, ok := splitType(instanceType)
	if !ok {
		return ""
	}
	for i, s := range sizeLadder {
		if s == size {
			if i == 0 {
				return ""
			}
			return family + "." + sizeLadder[i-1]
		}
	}
	return ""
}

// GravitonEquivalent returns the ARM instance type matching instanceType's
// size in the corresponding Graviton family, or "" when no mapping exists.
func GravitonEquivalent(instanceType string) string {
	family, size, ok := splitType(instanceType)
	if !ok {
		return ""
	}
	g, ok := gravitonFamilies[family]
	if !ok {
		return ""
	}
	return g + "." + size
}

// Round2 rounds v to two decimal places for money presentation.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// splitType splits "family.size" and reports whether the shape is valid.
func splitType(instanceType string) (family, size string, ok bool) {
	parts := strings.SplitN(instanceType, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
