// Package objectstore is the gateway to the S3-compatible artifact store. All
// registry blobs and feature exports go through it; keys are structured
// tenant/name/version/{model|metadata|metrics}.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// s3API is the slice of the S3 SDK the gateway depends on. Tests implement it
// with an in-memory mock.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Client implements the gateway over one bucket.
type Client struct {
	api    s3API
	bucket string
	logger logging.Interface
}

// New creates a gateway from the configuration. MinIO and other S3-compatible
// endpoints need path-style addressing, which is the default here.
func New(ctx context.Context, config *Config, logger logging.Interface) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, "")))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 config: %w", err)
	}

	api := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.UsePathStyle
	})

	return NewWithAPI(api, config.Bucket, logger), nil
}

// NewWithAPI wires a gateway over an existing S3 API implementation.
func NewWithAPI(api s3API, bucket string, logger logging.Interface) *Client {
	return &Client{api: api, bucket: bucket, logger: logger}
}

// Bucket returns the bucket this gateway writes to.
func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket if it does not exist. An already-owned or
// already-existing bucket is not an error.
func (c *Client) EnsureBucket(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err == nil {
		return nil
	}

	_, err := c.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return mapError("objectstore.EnsureBucket", c.bucket, err)
	}

	c.logger.WithField("bucket", c.bucket).Info("created object store bucket")
	return nil
}

// Put stores data under the given key.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.api.PutObject(ctx, input); err != nil {
		return mapError("objectstore.Put", key, err)
	}
	return nil
}

// Get retrieves an object's full contents.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError("objectstore.Get", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mapError("objectstore.Get", key, err)
	}
	return data, nil
}

// List returns object keys under the prefix plus common prefixes when a
// delimiter is given. Pagination is followed to exhaustion.
func (c *Client) List(ctx context.Context, prefix, delimiter string) (keys []string, commonPrefixes []string, err error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}

	for {
		resp, err := c.api.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, nil, mapError("objectstore.List", prefix, err)
		}

		for _, obj := range resp.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		for _, cp := range resp.CommonPrefixes {
			commonPrefixes = append(commonPrefixes, aws.ToString(cp.Prefix))
		}

		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		input.ContinuationToken = resp.NextContinuationToken
	}

	return keys, commonPrefixes, nil
}

// Copy duplicates an object within the bucket.
func (c *Client) Copy(ctx context.Context, src, dst string) error {
	_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(c.bucket + "/" + src),
	})
	if err != nil {
		return mapError("objectstore.Copy", src, err)
	}
	return nil
}

// Delete removes a single object. Deleting an absent key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapError("objectstore.Delete", key, err)
	}
	return nil
}

// DeletePrefix removes every object under the prefix and returns the deleted
// keys.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, _, err := c.List(ctx, prefix, "")
	if err != nil {
		return nil, err
	}

	deleted := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			return deleted, err
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}

// Stat returns object metadata.
func (c *Client) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	resp, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError("objectstore.Stat", key, err)
	}

	info := &ObjectInfo{Key: key}
	if resp.ContentLength != nil {
		info.Size = *resp.ContentLength
	}
	if resp.ContentType != nil {
		info.ContentType = *resp.ContentType
	}
	if resp.ETag != nil {
		info.ETag = strings.Trim(*resp.ETag, "\"")
	}
	if resp.LastModified != nil {
		info.LastModified = *resp.LastModified
	}
	return info, nil
}

// Exists reports whether the key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Stat(ctx, key)
	if err != nil {
		if errs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// mapError classifies SDK failures into the shared taxonomy so callers can
// branch on kind instead of SDK error types.
func mapError(op, key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return errs.NotFound(op, "%s", key)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return errs.NotFound(op, "%s", key)
		case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
			return errs.E(op, errs.KindConflict, err)
		case "RequestTimeout":
			return errs.Timeout(op, err)
		}
	}
	return errs.Unavailable(op, err)
}
