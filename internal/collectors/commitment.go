package collectors

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/spotsave/spotsave/internal/models"
)

// fullCoveragePercent is the Savings Plans coverage above which the whole
// compute fleet is treated as committed, making further reservation
// recommendations pointless.
const fullCoveragePercent = 95.0

// CommitmentCollector inventories active Reserved Instances and the
// account's Savings Plans coverage. Its records describe existing
// commitments; the coordinator matches them against compute records to
// stamp CoveredByCommitment before the reservation detector runs.
type CommitmentCollector struct {
	factory ClientFactory
}

func NewCommitmentCollector() *CommitmentCollector {
	return &CommitmentCollector{factory: NewClients}
}

func NewCommitmentCollectorWithFactory(f ClientFactory) *CommitmentCollector {
	return &CommitmentCollector{factory: f}
}

func (c *CommitmentCollector) Domain() models.ResourceDomain { return models.DomainCommitment }

func (c *CommitmentCollector) Collect(ctx context.Context, scope Scope) ([]models.ResourceRecord, error) {
	var records []models.ResourceRecord

	for _, region := range scope.regions() {
		clients := c.factory(scope.Session.ConfigForRegion(region))

		regional, err := collectReservedInstances(ctx, clients.EC2, scope, region)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", region, err)
		}
		records = append(records, regional...)
	}

	// Savings Plans coverage is account-level; one call regardless of the
	// region list. A near-fully-covered account contributes a synthetic
	// account-wide commitment record.
	clients := c.factory(scope.Session.Config())
	covered, err := savingsPlansFullyCovered(ctx, clients.CE, scope)
	if err != nil {
		// Coverage is an enrichment; RI inventory alone is still a valid
		// commitment picture. Degrading the whole domain for it would
		// discard good data.
		return records, nil
	}
	if covered {
		records = append(records, models.ResourceRecord{
			Domain:        models.DomainCommitment,
			ResourceID:    "savings-plan-coverage",
			Region:        scope.Session.Region,
			ResourceType:  "savings-plan",
			Configuration: commitmentAllConfigurations,
		})
	}

	return records, nil
}

// commitmentAllConfigurations marks a commitment record as covering every
// configuration (account-wide savings plan).
const commitmentAllConfigurations = "*"

// collectReservedInstances lists active RIs in one region. The API is not
// paginated.
func collectReservedInstances(ctx context.Context, client EC2Client, scope Scope, region string) ([]models.ResourceRecord, error) {
	input := &ec2svc.DescribeReservedInstancesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("state"),
			Values: []string{"active"},
		}},
	}

	var out *ec2svc.DescribeReservedInstancesOutput
	err := scope.Retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = client.DescribeReservedInstances(ctx, input)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("DescribeReservedInstances: %w", err)
	}

	var records []models.ResourceRecord
	for _, ri := range out.ReservedInstances {
		rec := models.ResourceRecord{
			Domain:        models.DomainCommitment,
			ResourceID:    aws.ToString(ri.ReservedInstancesId),
			Region:        region,
			ResourceType:  "reserved-instance",
			Configuration: string(ri.InstanceType),
			State:         string(ri.State),
		}
		if ri.Start != nil {
			rec.LaunchTime = *ri.Start
		}
		records = append(records, rec)
	}
	return records, nil
}

// savingsPlansFullyCovered reports whether the account's Savings Plans
// coverage over the lookback window exceeds fullCoveragePercent.
func savingsPlansFullyCovered(ctx context.Context, client CostExplorerClient, scope Scope) (bool, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -scope.lookbackDays())
	const layout = "2006-01-02"

	input := &ce.GetSavingsPlansCoverageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(start.Format(layout)),
			End:   aws.String(end.Format(layout)),
		},
		Granularity: cetypes.GranularityMonthly,
	}

	var out *ce.GetSavingsPlansCoverageOutput
	err := scope.Retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = client.GetSavingsPlansCoverage(ctx, input)
		return callErr
	})
	if err != nil {
		return false, fmt.Errorf("GetSavingsPlansCoverage: %w", err)
	}

	for _, cov := range out.SavingsPlansCoverages {
		if cov.Coverage == nil || cov.Coverage.CoveragePercentage == nil {
			continue
		}
		pct, err := strconv.ParseFloat(aws.ToString(cov.Coverage.CoveragePercentage), 64)
		if err != nil {
			continue
		}
		if pct >= fullCoveragePercent {
			return true, nil
		}
	}
	return false, nil
}

// CoversConfiguration reports whether commitment record rec applies to a
// compute resource of the given configuration in the given region.
func CoversConfiguration(rec *models.ResourceRecord, configuration, region string) bool {
	if rec.Domain != models.DomainCommitment {
		return false
	}
	if rec.Configuration == commitmentAllConfigurations {
		return true
	}
	return rec.Configuration == configuration && rec.Region == region
}
