package minio

import (
	"context"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// MakeBucketOptions represents options for creating a bucket
type MakeBucketOptions struct {
	// Region is the region where the bucket will be created
	Region string
}

// ObjectInfo represents object information
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified string
	ContentType  string
	Metadata     map[string]string
}

// MakeBucket creates a new bucket
func (c *Client) MakeBucket(ctx context.Context, bucketName string, opts MakeBucketOptions) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	if bucketName == "" {
		return WrapError("MakeBucket", ErrInvalidBucketName, bucketName, "")
	}

	err := c.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: opts.Region})
	if err != nil {
		return WrapError("MakeBucket", err, bucketName, "")
	}

	if c.logger != nil {
		c.logger.Info("bucket created successfully",
			zap.String("bucket", bucketName),
			zap.String("region", opts.Region),
		)
	}

	return nil
}

// BucketExists checks if a bucket exists
func (c *Client) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	if err := c.checkClosed(); err != nil {
		return false, err
	}

	if bucketName == "" {
		return false, WrapError("BucketExists", ErrInvalidBucketName, bucketName, "")
	}

	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return false, WrapError("BucketExists", err, bucketName, "")
	}

	return exists, nil
}

// EnsureBucket creates the bucket if it does not exist yet
func (c *Client) EnsureBucket(ctx context.Context, bucketName string, opts MakeBucketOptions) error {
	exists, err := c.BucketExists(ctx, bucketName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return c.MakeBucket(ctx, bucketName, opts)
}
