package exporter

import (
	"bytes"
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// S3API is the subset of the S3 client the sink uses. Satisfied by
// *s3.Client; tests substitute a fake.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink puts payloads under a key prefix. Objects are always
// overwritten; S3 has no append.
type S3Sink struct {
	name   string
	client S3API
	bucket string
	prefix string
}

type S3Config struct {
	Name   string
	Bucket string
	Prefix string
	Region string
	Mode   string

	// Client overrides the AWS client, for tests.
	Client S3API
}

func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errdefs.Config("s3 sink %q: bucket is required", cfg.Name)
	}
	switch cfg.Mode {
	case "", "overwrite":
	default:
		return nil, errdefs.Export("s3 sink %q: unsupported mode %q", cfg.Name, cfg.Mode)
	}

	client := cfg.Client
	if client == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, errdefs.WrapConfig(err, "s3 sink %q: loading AWS config", cfg.Name)
		}
		client = s3.NewFromConfig(awsCfg)
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Sink{name: cfg.Name, client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *S3Sink) Name() string { return s.name }

func (s *S3Sink) Export(ctx context.Context, filename string, data []byte) (string, error) {
	key := s.prefix + filename
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: map[string]string{"fmf-write-token": writeToken()},
	})
	if err != nil {
		return "", errdefs.WrapExport(err, "s3 sink %q: putting s3://%s/%s", s.name, s.bucket, key)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

var _ Sink = (*S3Sink)(nil)
