package collectors

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/pricing"
)

// FunctionCollector inventories Lambda functions with invocation-rate
// summaries. Function cost estimates derive from memory size and observed
// invocation volume.
type FunctionCollector struct {
	factory ClientFactory
}

func NewFunctionCollector() *FunctionCollector {
	return &FunctionCollector{factory: NewClients}
}

func NewFunctionCollectorWithFactory(f ClientFactory) *FunctionCollector {
	return &FunctionCollector{factory: f}
}

func (c *FunctionCollector) Domain() models.ResourceDomain { return models.DomainFunction }

func (c *FunctionCollector) Collect(ctx context.Context, scope Scope) ([]models.ResourceRecord, error) {
	var records []models.ResourceRecord

	for _, region := range scope.regions() {
		clients := c.factory(scope.Session.ConfigForRegion(region))

		regional, memoryByID, err := collectFunctions(ctx, clients.Lambda, scope, region)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", region, err)
		}
		if len(regional) == 0 {
			continue
		}

		queries := make([]metricQuery, 0, len(regional))
		for _, r := range regional {
			queries = append(queries, metricQuery{
				resourceID: r.ResourceID,
				metric:     models.MetricInvocations,
				namespace:  "AWS/Lambda",
				metricName: "Invocations",
				dimName:    "FunctionName",
				dimValue:   r.ResourceID,
			})
		}

		summaries, _ := fetchMetricSummaries(ctx, clients.CW, scope.Retry, queries, scope.lookbackDays())
		for i := range regional {
			byMetric, ok := summaries[regional[i].ResourceID]
			if !ok {
				continue
			}
			regional[i].Metrics = byMetric
			// Cost depends on the observed invocation rate, so it is
			// filled here rather than at inventory time.
			if inv, ok := byMetric[models.MetricInvocations]; ok {
				regional[i].MonthlyCost = pricing.Round2(
					pricing.FunctionMonthlyCost(memoryByID[regional[i].ResourceID], inv.Mean))
			}
		}

		records = append(records, regional...)
	}

	return records, nil
}

// collectFunctions drains the ListFunctions paginator for one region and
// returns the records plus each function's memory size for cost estimation.
func collectFunctions(
	ctx context.Context,
	client LambdaClient,
	scope Scope,
	region string,
) ([]models.ResourceRecord, map[string]int32, error) {
	input := &lambdasvc.ListFunctionsInput{}

	var records []models.ResourceRecord
	memoryByID := make(map[string]int32)
	for {
		var page *lambdasvc.ListFunctionsOutput
		err := scope.Retry.Do(ctx, func(ctx context.Context) error {
			var callErr error
			page, callErr = client.ListFunctions(ctx, input)
			return callErr
		})
		if err != nil {
			return nil, nil, fmt.Errorf("ListFunctions: %w", err)
		}

		for _, fn := range page.Functions {
			rec := toFunctionRecord(fn, region)
			records = append(records, rec)
			memoryByID[rec.ResourceID] = aws.ToInt32(fn.MemorySize)
		}

		if page.NextMarker == nil {
			break
		}
		input.Marker = page.NextMarker
	}
	return records, memoryByID, nil
}

func toFunctionRecord(fn lambdatypes.FunctionConfiguration, region string) models.ResourceRecord {
	arch := "x86_64"
	if len(fn.Architectures) > 0 {
		arch = string(fn.Architectures[0])
	}

	rec := models.ResourceRecord{
		Domain:        models.DomainFunction,
		ResourceID:    aws.ToString(fn.FunctionName),
		Region:        region,
		ResourceType:  "lambda-function",
		Configuration: fmt.Sprintf("%dMB", aws.ToInt32(fn.MemorySize)),
		Architecture:  arch,
		State:         string(fn.State),
	}
	// LastModified is an ISO8601 string in the Lambda API.
	if ts, err := time.Parse("2006-01-02T15:04:05.000-0700", aws.ToString(fn.LastModified)); err == nil {
		rec.LaunchTime = ts
	}
	return rec
}
