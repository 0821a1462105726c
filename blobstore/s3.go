package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client narrows the AWS SDK S3 client down to the operations the
// object-store backend needs, a capability interface extended with
// Delete, CopyObject, and ListObjectsV2 for full object CRUD.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

var _ S3Client = (*s3.Client)(nil)

// S3Backend implements Backend over an S3-compatible object store, each
// bucket argument naming a physical S3 bucket directly (section 4.1).
type S3Backend struct {
	client S3Client
}

// NewS3Backend wraps an S3 SDK client as a Backend.
func NewS3Backend(client S3Client) *S3Backend {
	return &S3Backend{client: client}
}

// NewDefaultS3Backend loads AWS configuration via awsconfig.LoadDefaultConfig
// with an explicit region and wraps the resulting client as a Backend.
func NewDefaultS3Backend(ctx context.Context, region string) (*S3Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3Backend(s3.NewFromConfig(awsCfg)), nil
}

var _ Backend = (*S3Backend)(nil)

func (b *S3Backend) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}

	if _, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &bucket}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func (b *S3Backend) List(ctx context.Context, bucket string) ([]string, error) {
	var names []string
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &bucket,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", bucket, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				names = append(names, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return names, nil
}

func (b *S3Backend) Stat(ctx context.Context, bucket, name string) (ObjectInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &name})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, ErrNotExist
		}
		return ObjectInfo{}, fmt.Errorf("failed to stat %s/%s: %w", bucket, name, err)
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return ObjectInfo{Name: name, Size: size}, nil
}

func (b *S3Backend) Read(ctx context.Context, bucket, name string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &name})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to read %s/%s: %w", bucket, name, err)
	}
	data, err := readCloserBytes(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to drain %s/%s: %w", bucket, name, err)
	}
	return data, nil
}

func (b *S3Backend) Write(ctx context.Context, bucket, name string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &name,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", bucket, name, err)
	}
	return nil
}

func (b *S3Backend) Delete(ctx context.Context, bucket, name string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &name})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, name, err)
	}
	return nil
}

// Move performs a server-side copy then deletes the source, matching
// section 4.1's "read bytes -> write bytes to destination -> delete
// source" move semantics for object-store backends. A destination-write
// failure leaves the source intact; a source-delete failure after a
// successful copy yields a logged duplicate, not a fatal error, per
// section 4.1 "Failure semantics" — the caller is responsible for logging
// and relying on restart recovery to clear the duplicate. A second call
// once the object is already absent from the source and present at the
// destination is a no-op success.
func (b *S3Backend) Move(ctx context.Context, srcBucket, dstBucket, name string) error {
	source := srcBucket + "/" + name
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &dstBucket,
		Key:        &name,
		CopySource: &source,
	})
	if err != nil {
		if isNotFound(err) {
			if _, statErr := b.Stat(ctx, dstBucket, name); statErr == nil {
				return nil
			}
		}
		return fmt.Errorf("failed to copy %s to %s/%s: %w", source, dstBucket, name, err)
	}

	if err := b.Delete(ctx, srcBucket, name); err != nil {
		return fmt.Errorf("copied %s to %s/%s but failed to delete source: %w", source, dstBucket, name, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
