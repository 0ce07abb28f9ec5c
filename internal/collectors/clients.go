package collectors

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
)

// ---------------------------------------------------------------------------
// Narrow client interfaces
//
// Each interface lists only the SDK operations this package calls. The real
// *ec2.Client, *rds.Client, etc. satisfy these automatically, which also
// satisfies the SDK v2 paginator client interfaces. Swap any field of
// Clients with a stub in unit tests.
// ---------------------------------------------------------------------------

// EC2Client covers instance inventory and reservation inventory.
type EC2Client interface {
	DescribeInstances(
		ctx context.Context,
		params *ec2svc.DescribeInstancesInput,
		optFns ...func(*ec2svc.Options),
	) (*ec2svc.DescribeInstancesOutput, error)

	DescribeReservedInstances(
		ctx context.Context,
		params *ec2svc.DescribeReservedInstancesInput,
		optFns ...func(*ec2svc.Options),
	) (*ec2svc.DescribeReservedInstancesOutput, error)
}

// RDSClient covers database instance inventory.
type RDSClient interface {
	DescribeDBInstances(
		ctx context.Context,
		params *rds.DescribeDBInstancesInput,
		optFns ...func(*rds.Options),
	) (*rds.DescribeDBInstancesOutput, error)
}

// LambdaClient covers function inventory.
type LambdaClient interface {
	ListFunctions(
		ctx context.Context,
		params *lambdasvc.ListFunctionsInput,
		optFns ...func(*lambdasvc.Options),
	) (*lambdasvc.ListFunctionsOutput, error)
}

// CloudWatchClient covers batched metric retrieval.
type CloudWatchClient interface {
	GetMetricData(
		ctx context.Context,
		params *cloudwatch.GetMetricDataInput,
		optFns ...func(*cloudwatch.Options),
	) (*cloudwatch.GetMetricDataOutput, error)
}

// CostExplorerClient covers the account-level Savings Plans coverage check.
// Cost Explorer is a global service; the factory pins it to us-east-1.
type CostExplorerClient interface {
	GetSavingsPlansCoverage(
		ctx context.Context,
		params *ce.GetSavingsPlansCoverageInput,
		optFns ...func(*ce.Options),
	) (*ce.GetSavingsPlansCoverageOutput, error)
}

// Clients holds the regional service clients for one collection pass.
// All fields are interfaces so tests inject stubs through a ClientFactory.
type Clients struct {
	EC2    EC2Client
	RDS    RDSClient
	Lambda LambdaClient
	CW     CloudWatchClient
	CE     CostExplorerClient // always us-east-1
}

// ClientFactory builds a Clients set from a regional aws.Config.
type ClientFactory func(cfg aws.Config) *Clients

// NewClients is the production ClientFactory.
func NewClients(cfg aws.Config) *Clients {
	ceCfg := cfg
	ceCfg.Region = "us-east-1"
	return &Clients{
		EC2:    ec2svc.NewFromConfig(cfg),
		RDS:    rds.NewFromConfig(cfg),
		Lambda: lambdasvc.NewFromConfig(cfg),
		CW:     cloudwatch.NewFromConfig(cfg),
		CE:     ce.NewFromConfig(ceCfg),
	}
}
