package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the subset of the S3 client the backend needs.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3 stores each batch as a whole object. S3 objects cannot grow in place, so
// append mode is rejected up front via ErrAppendUnsupported.
type S3 struct {
	client s3API

	bucket    string
	bucketPtr *string
	prefix    string
}

func NewS3(client s3API, bucket, prefix string) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	b := &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
	b.bucketPtr = &b.bucket
	return b, nil
}

func (b *S3) Exists(ctx context.Context, path string) (bool, error) {
	key := b.key(path)
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: b.bucketPtr, Key: &key})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("head s3 object key=%q: %w", key, err)
	}
	return true, nil
}

func (b *S3) CreateAppendable(ctx context.Context, path string) error {
	return ErrAppendUnsupported
}

func (b *S3) Append(ctx context.Context, path string, data []byte) error {
	return ErrAppendUnsupported
}

func (b *S3) Write(ctx context.Context, path string, data []byte) error {
	key := b.key(path)
	cl := int64(len(data))

	var body bytes.Reader
	body.Reset(data)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        b.bucketPtr,
		Key:           &key,
		Body:          &body,
		ContentLength: &cl,
	})
	if err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", key, err)
	}
	return nil
}

func (b *S3) key(path string) string {
	key := strings.TrimLeft(path, "/")
	if b.prefix != "" {
		key = b.prefix + "/" + key
	}
	return key
}

var _ Client = (*S3)(nil)
