// Package s3 stores blobs in AWS S3 or an S3-compatible service.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/felixgeelhaar/apl/infrastructure/storage/objectstore"
)

// Config configures the S3 client.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string // AWS region (default: us-east-1)
	AccessKeyID     string // Optional: uses the default credential chain if empty
	SecretAccessKey string
	SessionToken    string
	Endpoint        string // Optional: custom endpoint for S3-compatible storage
}

// Client implements objectstore.Client with the AWS SDK.
type Client struct {
	client *awss3.Client
}

// NewClient creates an S3 client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Client{client: awss3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// NewStore creates a blob store backed by an S3 bucket.
func NewStore(ctx context.Context, cfg Config) (*objectstore.Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return objectstore.New(objectstore.Config{
		Client: client,
		Scheme: "s3",
		Bucket: cfg.Bucket,
		Prefix: cfg.Prefix,
	})
}

// Upload writes an object.
func (c *Client) Upload(ctx context.Context, bucket, object string, content io.Reader, attrs objectstore.Attrs) error {
	input := &awss3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(object),
		Body:     content,
		Metadata: attrs.Metadata,
	}
	if attrs.ContentType != "" {
		input.ContentType = aws.String(attrs.ContentType)
	}

	if _, err := c.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// Download opens an object for reading.
func (c *Client) Download(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	output, err := c.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return output.Body, nil
}

// Delete removes an object. S3 deletes are idempotent, so a missing object
// is detected with a HEAD request first.
func (c *Client) Delete(ctx context.Context, bucket, object string) error {
	ok, err := c.Exists(ctx, bucket, object)
	if err != nil {
		return err
	}
	if !ok {
		return objectstore.ErrObjectNotFound
	}

	_, err = c.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists checks if an object exists.
func (c *Client) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		if errors.Is(mapError(err), objectstore.ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func mapError(err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", objectstore.ErrObjectNotFound, err)
	}
	return err
}

var _ objectstore.Client = (*Client)(nil)
