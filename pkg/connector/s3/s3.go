// Package s3 reads resources from an S3 bucket, optionally scoped to
// a key prefix. Listing is paginated; throttling and transient server
// errors are retried with jittered backoff.
package s3

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/frontier-framework/fmf/pkg/connector"
	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// API is the subset of the S3 client the connector uses. Satisfied by
// *s3.Client; tests substitute a fake.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type Connector struct {
	name        string
	client      API
	bucket      string
	prefix      string
	kmsRequired bool
}

type Config struct {
	Name        string
	Bucket      string
	Prefix      string
	Region      string
	KMSRequired bool

	// Client overrides the AWS client, for tests.
	Client API
}

func New(ctx context.Context, cfg Config) (*Connector, error) {
	if cfg.Bucket == "" {
		return nil, errdefs.Config("s3 connector %q: bucket is required", cfg.Name)
	}

	client := cfg.Client
	if client == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, errdefs.WrapConfig(err, "s3 connector %q: loading AWS config", cfg.Name)
		}
		client = s3.NewFromConfig(awsCfg)
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Connector{
		name:        cfg.Name,
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      prefix,
		kmsRequired: cfg.KMSRequired,
	}, nil
}

func (c *Connector) Name() string { return c.name }

func (c *Connector) List(ctx context.Context, selector []string) ([]connector.ResourceRef, error) {
	patterns := selector
	if len(patterns) == 0 {
		patterns = connector.DefaultSelector
	}

	var refs []connector.ResourceRef
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.prefix),
	})
	for paginator.HasMorePages() {
		page, err := connector.Retry(ctx, func() (*s3.ListObjectsV2Output, error) {
			return paginator.NextPage(ctx)
		}, retryable)
		if err != nil {
			return nil, errdefs.WrapConnector(err, "s3 connector %q: listing s3://%s/%s", c.name, c.bucket, c.prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, c.prefix)
			if rel == "" || !connector.MatchAny(patterns, rel) {
				continue
			}
			refs = append(refs, connector.ResourceRef{
				ID:   rel,
				URI:  "s3://" + c.bucket + "/" + key,
				Name: rel[strings.LastIndex(rel, "/")+1:],
			})
		}
	}
	return refs, nil
}

func (c *Connector) Open(ctx context.Context, ref connector.ResourceRef) (io.ReadCloser, error) {
	out, err := connector.Retry(ctx, func() (*s3.GetObjectOutput, error) {
		return c.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(c.prefix + ref.ID),
		})
	}, retryable)
	if err != nil {
		return nil, errdefs.WrapConnector(err, "s3 connector %q: reading %s", c.name, ref.ID)
	}
	return out.Body, nil
}

func (c *Connector) Info(ctx context.Context, ref connector.ResourceRef) (connector.ResourceInfo, error) {
	key := c.prefix + ref.ID
	head, err := connector.Retry(ctx, func() (*s3.HeadObjectOutput, error) {
		return c.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
	}, retryable)
	if err != nil {
		return connector.ResourceInfo{}, errdefs.WrapConnector(err, "s3 connector %q: head %s", c.name, ref.ID)
	}

	if c.kmsRequired && head.ServerSideEncryption != types.ServerSideEncryptionAwsKms {
		return connector.ResourceInfo{}, errdefs.Connector("s3 connector %q: KMS encryption required but object %s is not KMS-encrypted", c.name, ref.ID)
	}

	info := connector.ResourceInfo{
		SourceURI: "s3://" + c.bucket + "/" + key,
		ETag:      aws.ToString(head.ETag),
		Size:      head.ContentLength,
		Extra: map[string]any{
			"sse":        string(head.ServerSideEncryption),
			"kms_key_id": aws.ToString(head.SSEKMSKeyId),
		},
	}
	if head.LastModified != nil {
		modified := head.LastModified.UTC()
		info.ModifiedAt = &modified
	}
	return info, nil
}

func retryable(err error) bool {
	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) {
		return connector.RetryableStatus(httpErr.HTTPStatusCode())
	}
	return false
}

var _ connector.Connector = (*Connector)(nil)
