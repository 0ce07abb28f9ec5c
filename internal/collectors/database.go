package collectors

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/pricing"
)

// DatabaseCollector inventories RDS instances with CPU utilization
// summaries.
type DatabaseCollector struct {
	factory ClientFactory
}

func NewDatabaseCollector() *DatabaseCollector {
	return &DatabaseCollector{factory: NewClients}
}

func NewDatabaseCollectorWithFactory(f ClientFactory) *DatabaseCollector {
	return &DatabaseCollector{factory: f}
}

func (c *DatabaseCollector) Domain() models.ResourceDomain { return models.DomainDatabase }

func (c *DatabaseCollector) Collect(ctx context.Context, scope Scope) ([]models.ResourceRecord, error) {
	var records []models.ResourceRecord

	for _, region := range scope.regions() {
		clients := c.factory(scope.Session.ConfigForRegion(region))

		regional, err := collectDBInstances(ctx, clients.RDS, scope, region)
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
				metric:     models.MetricCPUUtilization,
				namespace:  "AWS/RDS",
				metricName: "CPUUtilization",
				dimName:    "DBInstanceIdentifier",
				dimValue:   r.ResourceID,
			})
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

// collectDBInstances drains the DescribeDBInstances paginator for one region.
// Only available instances are cost-relevant; stopped databases bill for
// storage only and are excluded from compute-style analysis.
func collectDBInstances(ctx context.Context, client RDSClient, scope Scope, region string) ([]models.ResourceRecord, error) {
	input := &rds.DescribeDBInstancesInput{}

	var records []models.ResourceRecord
	for {
		var page *rds.DescribeDBInstancesOutput
		err := scope.Retry.Do(ctx, func(ctx context.Context) error {
			var callErr error
			page, callErr = client.DescribeDBInstances(ctx, input)
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("DescribeDBInstances: %w", err)
		}

		for _, db := range page.DBInstances {
			if aws.ToString(db.DBInstanceStatus) != "available" {
				continue
			}
			records = append(records, toDatabaseRecord(db, region))
		}

		if page.Marker == nil {
			break
		}
		input.Marker = page.Marker
	}
	return records, nil
}

func toDatabaseRecord(db rdstypes.DBInstance, region string) models.ResourceRecord {
	class := aws.ToString(db.DBInstanceClass)

	rec := models.ResourceRecord{
		Domain:        models.DomainDatabase,
		ResourceID:    aws.ToString(db.DBInstanceIdentifier),
		Region:        region,
		ResourceType:  "rds-instance",
		Configuration: class,
		State:         aws.ToString(db.DBInstanceStatus),
		MonthlyCost:   pricing.Round2(pricing.DatabaseMonthlyCost(class)),
	}
	if db.InstanceCreateTime != nil {
		rec.LaunchTime = *db.InstanceCreateTime
	}
	return rec
}
