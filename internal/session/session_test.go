package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"

	"github.com/spotsave/spotsave/internal/models"
)

const testRoleARN = "arn:aws:iam::111122223333:role/SpotSaveReadOnly"

// stubSTS is a canned-response STSClient.
type stubSTS struct {
	out  *sts.AssumeRoleOutput
	err  error
	last *sts.AssumeRoleInput
}

func (s *stubSTS) AssumeRole(
	_ context.Context,
	params *sts.AssumeRoleInput,
	_ ...func(*sts.Options),
) (*sts.AssumeRoleOutput, error) {
	s.last = params
	return s.out, s.err
}

func validOutput() *sts.AssumeRoleOutput {
	exp := time.Now().Add(time.Hour)
	return &sts.AssumeRoleOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     aws.String("AKIAEXAMPLE"),
			SecretAccessKey: aws.String("secret"),
			SessionToken:    aws.String("token"),
			Expiration:      &exp,
		},
	}
}

func testAccount() *models.Account {
	return &models.Account{
		ID:         "acct-1",
		Name:       "prod",
		RoleARN:    testRoleARN,
		ExternalID: "ext-abc123",
	}
}

func newProvider(stub *stubSTS) *STSProvider {
	return NewSTSProviderWithClient(stub, aws.Config{Region: "us-east-1"})
}

func TestAcquire_Success(t *testing.T) {
	stub := &stubSTS{out: validOutput()}
	sess, err := newProvider(stub).Acquire(context.Background(), testAccount())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if sess.AccountID != "111122223333" {
		t.Errorf("AccountID = %q; want 111122223333", sess.AccountID)
	}
	if sess.Region != "us-east-1" {
		t.Errorf("Region = %q; want us-east-1", sess.Region)
	}

	// The request must carry the delegation handshake.
	if got := aws.ToString(stub.last.ExternalId); got != "ext-abc123" {
		t.Errorf("ExternalId = %q; want ext-abc123", got)
	}
	if got := aws.ToString(stub.last.RoleSessionName); got != "spotsave-scan" {
		t.Errorf("RoleSessionName = %q; want spotsave-scan", got)
	}
	if got := aws.ToInt32(stub.last.DurationSeconds); got != 3600 {
		t.Errorf("DurationSeconds = %d; want 3600", got)
	}
}

func TestAcquire_ConfigForRegionCarriesCredentials(t *testing.T) {
	stub := &stubSTS{out: validOutput()}
	sess, err := newProvider(stub).Acquire(context.Background(), testAccount())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	cfg := sess.ConfigForRegion("eu-west-1")
	if cfg.Region != "eu-west-1" {
		t.Errorf("Region = %q; want eu-west-1", cfg.Region)
	}
	creds, err := cfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if creds.AccessKeyID != "AKIAEXAMPLE" || creds.SessionToken != "token" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestAcquire_MalformedARN(t *testing.T) {
	stub := &stubSTS{out: validOutput()}
	acct := testAccount()
	acct.RoleARN = "arn:aws:iam::12345:role/short-account"

	_, err := newProvider(stub).Acquire(context.Background(), acct)
	var authErr *models.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v; want AuthError", err)
	}
	if authErr.Reason != models.AuthInvalidSecret {
		t.Errorf("Reason = %q; want invalid_secret", authErr.Reason)
	}
	if stub.last != nil {
		t.Error("AssumeRole must not be called for a malformed ARN")
	}
}

func TestAcquire_EmptyExternalID(t *testing.T) {
	stub := &stubSTS{out: validOutput()}
	acct := testAccount()
	acct.ExternalID = ""

	_, err := newProvider(stub).Acquire(context.Background(), acct)
	var authErr *models.AuthError
	if !errors.As(err, &authErr) || authErr.Reason != models.AuthInvalidSecret {
		t.Fatalf("err = %v; want AuthError{invalid_secret}", err)
	}
	if stub.last != nil {
		t.Error("AssumeRole must not be called without an external ID")
	}
}

func TestAcquire_DeniedMapsToDenied(t *testing.T) {
	stub := &stubSTS{err: errors.New("api error AccessDenied: not authorized to perform sts:AssumeRole")}
	_, err := newProvider(stub).Acquire(context.Background(), testAccount())

	var authErr *models.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v; want AuthError", err)
	}
	if authErr.Reason != models.AuthDenied {
		t.Errorf("Reason = %q; want denied", authErr.Reason)
	}
}

func TestAcquire_NetworkErrorMapsToUnreachable(t *testing.T) {
	stub := &stubSTS{err: errors.New("dial tcp: i/o timeout")}
	_, err := newProvider(stub).Acquire(context.Background(), testAccount())

	var authErr *models.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v; want AuthError", err)
	}
	if authErr.Reason != models.AuthUnreachable {
		t.Errorf("Reason = %q; want unreachable", authErr.Reason)
	}
}

func TestAcquire_NilCredentials(t *testing.T) {
	stub := &stubSTS{out: &sts.AssumeRoleOutput{}}
	_, err := newProvider(stub).Acquire(context.Background(), testAccount())

	var authErr *models.AuthError
	if !errors.As(err, &authErr) || authErr.Reason != models.AuthDenied {
		t.Fatalf("err = %v; want AuthError{denied}", err)
	}
}
