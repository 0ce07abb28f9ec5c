// Package session exchanges an account's delegated role for a short-lived,
// read-only AWS session via STS AssumeRole. Session acquisition is the one
// fatal dependency of a scan: every collector needs the session, so failures
// here are never retried and fail the scan fast.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"

	"github.com/spotsave/spotsave/internal/models"
)

// roleSessionName tags assumed-role sessions in the target account's
// CloudTrail so customers can attribute the scan's read calls.
const roleSessionName = "spotsave-scan"

// sessionDurationSeconds is the requested session lifetime. One hour covers
// a full scan with margin; the provider fails fast rather than returning a
// session too short to finish.
const sessionDurationSeconds = 3600

// Session is a scoped credential session against one target account.
type Session struct {
	// AccountID is the 12-digit target account ID from the role ARN.
	AccountID string

	// Region is the session's home region.
	Region string

	creds aws.Credentials
	base  aws.Config
}

// ConfigForRegion returns an aws.Config carrying the session's static
// credentials, scoped to region. Collectors use it to build regional
// service clients.
func (s *Session) ConfigForRegion(region string) aws.Config {
	cfg := s.base
	cfg.Region = region
	cfg.Credentials = credentials.NewStaticCredentialsProvider(
		s.creds.AccessKeyID, s.creds.SecretAccessKey, s.creds.SessionToken)
	return cfg
}

// Config returns the session's aws.Config in its home region.
func (s *Session) Config() aws.Config {
	return s.ConfigForRegion(s.Region)
}

// STSClient covers the one STS operation the provider needs.
// The real *sts.Client satisfies it; tests substitute a stub.
type STSClient interface {
	AssumeRole(
		ctx context.Context,
		params *sts.AssumeRoleInput,
		optFns ...func(*sts.Options),
	) (*sts.AssumeRoleOutput, error)
}

// Provider acquires delegated sessions for accounts.
type Provider interface {
	// Acquire exchanges account's role ARN and external ID for a Session.
	// All failures are *models.AuthError and terminal for the scan.
	Acquire(ctx context.Context, account *models.Account) (*Session, error)
}

// STSProvider is the production Provider backed by STS AssumeRole.
type STSProvider struct {
	client STSClient
	base   aws.Config
	region string
}

// NewSTSProvider returns a provider using the service's own credentials in
// cfg to assume customer roles. The region of cfg becomes each session's
// home region.
func NewSTSProvider(cfg aws.Config) *STSProvider {
	return &STSProvider{
		client: sts.NewFromConfig(cfg),
		base:   cfg,
		region: cfg.Region,
	}
}

// NewSTSProviderWithClient substitutes a custom STS client; used in tests.
func NewSTSProviderWithClient(client STSClient, cfg aws.Config) *STSProvider {
	return &STSProvider{client: client, base: cfg, region: cfg.Region}
}

// Acquire implements Provider. Input validation failures are reported
// without an API call; upstream denials and connectivity failures map onto
// the AuthError reason taxonomy.
func (p *STSProvider) Acquire(ctx context.Context, account *models.Account) (*Session, error) {
	if !models.ValidRoleARN(account.RoleARN) {
		return nil, &models.AuthError{
			Reason: models.AuthInvalidSecret,
			Err:    fmt.Errorf("malformed role ARN %q", account.RoleARN),
		}
	}
	if account.ExternalID == "" {
		return nil, &models.AuthError{
			Reason: models.AuthInvalidSecret,
			Err:    errors.New("empty external ID"),
		}
	}

	out, err := p.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(account.RoleARN),
		RoleSessionName: aws.String(roleSessionName),
		ExternalId:      aws.String(account.ExternalID),
		DurationSeconds: aws.Int32(sessionDurationSeconds),
	})
	if err != nil {
		return nil, &models.AuthError{Reason: classifyAssumeRoleError(err), Err: err}
	}
	if out.Credentials == nil {
		return nil, &models.AuthError{
			Reason: models.AuthDenied,
			Err:    errors.New("AssumeRole returned no credentials"),
		}
	}

	return &Session{
		AccountID: models.ExtractAccountID(account.RoleARN),
		Region:    p.region,
		creds:     toCredentials(out.Credentials),
		base:      p.base,
	}, nil
}

// classifyAssumeRoleError maps an STS failure onto an AuthReason.
// Access denials (wrong trust policy, wrong external ID, deleted role) are
// Denied; everything else is treated as connectivity.
func classifyAssumeRoleError(err error) models.AuthReason {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "accessdenied"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "invalidclienttokenid"):
		return models.AuthDenied
	default:
		return models.AuthUnreachable
	}
}

// toCredentials converts STS credentials to the SDK's aws.Credentials.
func toCredentials(c *ststypes.Credentials) aws.Credentials {
	creds := aws.Credentials{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretAccessKey),
		SessionToken:    aws.ToString(c.SessionToken),
		Source:          "AssumeRole",
	}
	if c.Expiration != nil {
		creds.CanExpire = true
		creds.Expires = *c.Expiration
	}
	return creds
}
