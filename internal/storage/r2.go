package storage

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/erfianugrah/image-resizer/internal/apperr"
	"github.com/erfianugrah/image-resizer/internal/config"
)

// R2Source reads objects from an S3-compatible bucket (Cloudflare R2)
// using the AWS SDK's S3 client pointed at a custom endpoint.
type R2Source struct {
	bucket string
	svc    *s3.S3
}

func NewR2Source(cfg config.R2Config) (*R2Source, error) {
	awsConf := &aws.Config{
		Region:           aws.String(cfg.Region),
		Endpoint:         aws.String(cfg.Endpoint),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.AccessKeyID != "" {
		awsConf.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsConf)
	if err != nil {
		return nil, err
	}

	return &R2Source{bucket: cfg.Bucket, svc: s3.New(sess)}, nil
}

func (s *R2Source) Type() SourceType { return SourceR2 }

func (s *R2Source) Fetch(ctx context.Context, path string) (Result, error) {
	key := strings.TrimPrefix(path, "/")

	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Result{}, classifyS3Error(err)
	}

	contentType := aws.StringValue(out.ContentType)
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(key))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return Result{
		Body:        out.Body,
		SourceType:  SourceR2,
		ContentType: contentType,
		Size:        aws.Int64Value(out.ContentLength),
		Path:        path,
		Metadata:    stringifyMetadata(out.Metadata),
	}, nil
}

func classifyS3Error(err error) error {
	wrapped := fmt.Errorf("r2: %w", err)

	reqErr, ok := err.(awserr.RequestFailure)
	if !ok {
		return apperr.StorageUnavailable(wrapped)
	}

	switch reqErr.StatusCode() {
	case 404:
		return apperr.StorageNotFound(wrapped)
	case 403, 400:
		return apperr.StorageAuthFailed(wrapped)
	default:
		return apperr.StorageUnavailable(wrapped)
	}
}

func stringifyMetadata(m map[string]*string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = aws.StringValue(v)
	}
	return out
}
