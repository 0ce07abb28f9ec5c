package collectors

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/pricing"
)

// ComputeCollector inventories running EC2 instances and enriches each with
// CPU and inbound-network utilization summaries from CloudWatch.
type ComputeCollector struct {
	factory ClientFactory
}

// NewComputeCollector returns a collector backed by the real SDK.
func NewComputeCollector() *ComputeCollector {
	return &ComputeCollector{factory: NewClients}
}

// NewComputeCollectorWithFactory substitutes a client factory; used in tests.
func NewComputeCollectorWithFactory(f ClientFactory) *ComputeCollector {
	return &ComputeCollector{factory: f}
}

func (c *ComputeCollector) Domain() models.ResourceDomain { return models.DomainCompute }

// Collect pages through running instances in every scoped region, in the
// order the API returns them. CloudWatch enrichment failures leave records
// without metric entries; detectors treat that as missing data.
func (c *ComputeCollector) Collect(ctx context.Context, scope Scope) ([]models.ResourceRecord, error) {
	var records []models.ResourceRecord

	for _, region := range scope.regions() {
		clients := c.factory(scope.Session.ConfigForRegion(region))

		regional, err := collectInstances(ctx, clients.EC2, scope, region)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", region, err)
		}
		if len(regional) == 0 {
			continue
		}

		queries := make([]metricQuery, 0, len(regional)*2)
		for _, r := range regional {
			queries = append(queries,
				metricQuery{
					resourceID: r.ResourceID,
					metric:     models.MetricCPUUtilization,
					namespace:  "AWS/EC2",
					metricName: "CPUUtilization",
					dimName:    "InstanceId",
					dimValue:   r.ResourceID,
				},
				metricQuery{
					resourceID: r.ResourceID,
					metric:     models.MetricNetworkInBytes,
					namespace:  "AWS/EC2",
					metricName: "NetworkIn",
					dimName:    "InstanceId",
					dimValue:   r.ResourceID,
				},
			)
		}

		summaries, _ := fetchMetricSummaries(ctx, clients.CW, scope.Retry, queries, scope.lookbackDays())
		for i := range regional {
			if byMetric, ok := summaries[regional[i].ResourceID]; ok {
				regional[i].Metrics = byMetric
			}
		}

		records = append(records, regional...)
	}

	return records, nil
}

// collectInstances drains the DescribeInstances paginator for one region.
func collectInstances(ctx context.Context, client EC2Client, scope Scope, region string) ([]models.ResourceRecord, error) {
	input := &ec2svc.DescribeInstancesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("instance-state-name"),
			Values: []string{"running"},
		}},
	}

	var records []models.ResourceRecord
	for {
		var page *ec2svc.DescribeInstancesOutput
		err := scope.Retry.Do(ctx, func(ctx context.Context) error {
			var callErr error
			page, callErr = client.DescribeInstances(ctx, input)
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("DescribeInstances: %w", err)
		}

		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				records = append(records, toComputeRecord(inst, region))
			}
		}

		if page.NextToken == nil {
			break
		}
		input.NextToken = page.NextToken
	}
	return records, nil
}

// toComputeRecord normalizes one SDK instance.
func toComputeRecord(inst ec2types.Instance, region string) models.ResourceRecord {
	instanceType := string(inst.InstanceType)

	rec := models.ResourceRecord{
		Domain:        models.DomainCompute,
		ResourceID:    aws.ToString(inst.InstanceId),
		Region:        region,
		ResourceType:  "ec2-instance",
		Configuration: instanceType,
		Architecture:  string(inst.Architecture),
		State:         stateName(inst.State),
		MonthlyCost:   pricing.Round2(pricing.MonthlyCost(instanceType)),
		Tags:          tagsToMap(inst.Tags),
	}
	if inst.LaunchTime != nil {
		rec.LaunchTime = *inst.LaunchTime
	}
	return rec
}

func stateName(s *ec2types.InstanceState) string {
	if s == nil {
		return ""
	}
	return string(s.Name)
}

func tagsToMap(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		if t.Key != nil && t.Value != nil {
			m[*t.Key] = *t.Value
		}
	}
	return m
}
