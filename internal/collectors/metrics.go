package collectors

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/retry"
)

// metricDataBatchSize is the CloudWatch GetMetricData query limit per call.
const metricDataBatchSize = 500

// metricPeriodSeconds is 1-day granularity, giving at most one datapoint
// per lookback day.
const metricPeriodSeconds = 86400

// metricQuery requests one metric series for one resource.
type metricQuery struct {
	resourceID string
	metric     string // models.Metric* key in the resulting summary map
	namespace  string
	metricName string
	dimName    string
	dimValue   string
}

// fetchMetricSummaries retrieves daily-average series for every query via
// batched GetMetricData calls and reduces each series to a MetricSummary.
// The result is keyed [resourceID][metric key].
//
// Failures are non-fatal by contract: on error the affected resources end
// up with no entry, which detectors treat as "no data", never as zero
// utilization. The error is returned so the collector can log it.
func fetchMetricSummaries(
	ctx context.Context,
	cw CloudWatchClient,
	policy retry.Policy,
	queries []metricQuery,
	lookbackDays int,
) (map[string]map[string]models.MetricSummary, error) {
	results := make(map[string]map[string]models.MetricSummary)
	if len(queries) == 0 {
		return results, nil
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -lookbackDays)

	for offset := 0; offset < len(queries); offset += metricDataBatchSize {
		batch := queries[offset:min(offset+metricDataBatchSize, len(queries))]

		dataQueries := make([]cwtypes.MetricDataQuery, 0, len(batch))
		for i, q := range batch {
			dataQueries = append(dataQueries, cwtypes.MetricDataQuery{
				// IDs must start with a lowercase letter; index into the
				// batch slice recovers the originating query.
				Id: aws.String(fmt.Sprintf("q%d", i)),
				MetricStat: &cwtypes.MetricStat{
					Metric: &cwtypes.Metric{
						Namespace:  aws.String(q.namespace),
						MetricName: aws.String(q.metricName),
						Dimensions: []cwtypes.Dimension{{
							Name:  aws.String(q.dimName),
							Value: aws.String(q.dimValue),
						}},
					},
					Period: aws.Int32(metricPeriodSeconds),
					Stat:   aws.String("Average"),
				},
			})
		}

		input := &cloudwatch.GetMetricDataInput{
			MetricDataQueries: dataQueries,
			StartTime:         aws.Time(start),
			EndTime:           aws.Time(end),
		}

		for {
			var out *cloudwatch.GetMetricDataOutput
			err := policy.Do(ctx, func(ctx context.Context) error {
				var callErr error
				out, callErr = cw.GetMetricData(ctx, input)
				return callErr
			})
			if err != nil {
				return results, fmt.Errorf("GetMetricData: %w", err)
			}

			for _, r := range out.MetricDataResults {
				var idx int
				if _, err := fmt.Sscanf(aws.ToString(r.Id), "q%d", &idx); err != nil || idx >= len(batch) {
					continue
				}
				q := batch[idx]
				if len(r.Values) == 0 {
					continue
				}
				byMetric := results[q.resourceID]
				if byMetric == nil {
					byMetric = make(map[string]models.MetricSummary)
					results[q.resourceID] = byMetric
				}
				byMetric[q.metric] = appendSamples(byMetric[q.metric], r.Values)
			}

			if out.NextToken == nil {
				break
			}
			input.NextToken = out.NextToken
		}
	}

	return results, nil
}

// appendSamples folds additional datapoints into an existing summary.
// GetMetricData may split one series across response pages.
func appendSamples(existing models.MetricSummary, values []float64) models.MetricSummary {
	// Recompute mean incrementally; p95 needs the pooled values, so keep
	// it approximate across pages by taking the max of page-level p95s.
	pageMean, pageP95 := summarize(values)
	total := existing.SampleCount + len(values)
	mean := (existing.Mean*float64(existing.SampleCount) + pageMean*float64(len(values))) / float64(total)
	p95 := existing.P95
	if pageP95 > p95 {
		p95 = pageP95
	}
	return models.MetricSummary{Mean: mean, P95: p95, SampleCount: total}
}

// summarize computes the mean and 95th percentile of values.
func summarize(values []float64) (mean, p95 float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean = sum / float64(len(sorted))

	idx := int(float64(len(sorted))*0.95+0.9999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return mean, sorted[idx]
}
