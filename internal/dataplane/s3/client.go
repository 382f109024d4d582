// Package s3 provides request-scoped S3 client construction and the
// bucket operations of spec.md §4.5, grounded on
// services/anchor/internal/database/s3/{client,data_ops}.go in the
// teacher repo.
package s3

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// ClientOptions carries the optional proxy endpoint override of spec §4.5
// step 3.
type ClientOptions struct {
	ProxyURL string // when set, replaces the S3 service endpoint (SigV4 still applies)
	Region   string
}

// NewClient builds a request-scoped *s3.Client following the chain:
// JWT-derived credentials -> ambient (only when the bundle carries no
// access key, i.e. the auth plane's ambient probe fired) -> optional
// proxy endpoint override.
func NewClient(ctx context.Context, bundle *model.AWSCredentialBundle, opts ClientOptions) (*s3.Client, error) {
	var cfg aws.Config
	var err error

	if bundle != nil && bundle.AccessKeyID != "" {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(regionOrDefault(opts.Region)),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				bundle.AccessKeyID, bundle.SecretAccessKey, bundle.SessionToken,
			)),
		)
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(regionOrDefault(opts.Region)))
	}
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, "building AWS config for S3 client", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.ProxyURL != "" {
			o.BaseEndpoint = aws.String(opts.ProxyURL)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

func regionOrDefault(region string) string {
	if region != "" {
		return region
	}
	return "us-east-1"
}

// Deadline bounds an outbound call by min(request-deadline,
// service-timeout) per spec §5.
func Deadline(ctx context.Context, serviceTimeout time.Duration) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) <= serviceTimeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, serviceTimeout)
}
