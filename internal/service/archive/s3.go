package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/config"
)

// objectPutter is the part of the S3 client used by S3Archive.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive stores snapshots in an S3-compatible bucket (Supabase storage, MinIO, AWS).
type S3Archive struct {
	client objectPutter
	bucket string
}

// NewS3Archive builds a client with static credentials and an optional custom endpoint.
func NewS3Archive(cfg config.ArchiveConfig) (*S3Archive, error) {
	if !cfg.S3Enabled() {
		return nil, fmt.Errorf("archive bucket and credentials are required")
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Archive{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads body as a JSON object. The upload is conditional on the key
// being absent; a 412 from the bucket maps to ErrKeyExists.
func (a *S3Archive) Put(ctx context.Context, key string, body []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return fmt.Errorf("%w: %s", ErrKeyExists, key)
		}
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
