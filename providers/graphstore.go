package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
)

// S3Options configures the object store holding graph patches.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// S3GraphStore stages each tenant's graph patches under its own key prefix.
type S3GraphStore struct {
	s3     *s3.Client
	bucket string
	logger *logrus.Logger
}

func NewS3GraphStore(ctx context.Context, opts S3Options, logger *logrus.Logger) (*S3GraphStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		config.WithRegion(opts.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return &S3GraphStore{s3: client, bucket: opts.Bucket, logger: logger}, nil
}

func (g *S3GraphStore) Prefix(tenantID string) string {
	return "tenants/" + tenantID + "/graph/"
}

// ApplyPatches uploads every file and returns the keys written, in order.
// On error the keys already written are still in the bucket.
func (g *S3GraphStore) ApplyPatches(ctx context.Context, tenantID string, files []models.ModelFile) ([]string, error) {
	prefix := g.Prefix(tenantID)
	keys := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return keys, fmt.Errorf("failed to read patch %s: %w", f.Name, err)
		}
		key := prefix + path.Clean("/" + f.Name)[1:]
		_, err = g.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(g.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			return keys, fmt.Errorf("failed to put patch %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	g.logger.WithFields(logrus.Fields{"tenant": tenantID, "patches": len(keys)}).Info("Graph patches staged")
	return keys, nil
}

// RemovePatches deletes everything under the tenant's prefix. A missing
// bucket counts as already removed.
func (g *S3GraphStore) RemovePatches(ctx context.Context, tenantID string) error {
	prefix := g.Prefix(tenantID)
	paginator := s3.NewListObjectsV2Paginator(g.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNotFoundError(err) {
				return nil
			}
			return fmt.Errorf("failed to list patches under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			_, err := g.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(g.bucket),
				Key:    obj.Key,
			})
			if err != nil && !isNotFoundError(err) {
				return fmt.Errorf("failed to delete patch %s: %w", *obj.Key, err)
			}
		}
	}
	return nil
}

func isNotFoundError(err error) bool {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchBucket" || code == "NoSuchKey"
	}
	return false
}
