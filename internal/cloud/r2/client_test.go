package r2

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/r2browser/r2browser/internal/models"
)

func TestNewClientConfiguresForR2(t *testing.T) {
	// The SDK cannot install a custom CA bundle into our pooled HTTP
	// client, so an ambient AWS_CA_BUNDLE makes config loading fail.
	t.Setenv("AWS_CA_BUNDLE", "")

	creds := &models.Credentials{
		AccountID:       "acct",
		AccessKeyID:     "key-id",
		SecretAccessKey: "secret",
		Endpoint:        models.R2Endpoint("acct"),
	}

	client, err := NewClient(context.Background(), creds)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	opts := client.s3c().Options()
	if aws.ToString(opts.BaseEndpoint) != creds.Endpoint {
		t.Errorf("Expected endpoint %q, got %q", creds.Endpoint, aws.ToString(opts.BaseEndpoint))
	}
	if !opts.UsePathStyle {
		t.Error("R2 requires path-style addressing")
	}

	// The client must not retry on its own; the engine and broker own
	// the retry policy.
	if _, ok := opts.Retryer.(aws.NopRetryer); !ok {
		t.Errorf("Expected the no-op retryer, got %T", opts.Retryer)
	}
}
