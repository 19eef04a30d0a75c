package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/bagqueue/internal/common"
)

// S3Options configures an S3 (or S3-compatible, e.g. MinIO) backend.
type S3Options struct {
	Region         string
	AccessKey      string
	SecretKey      string
	BaseEndpoint   string
	Bucket         string
	CapacityBytes  uint64
	CapacityInodes uint64
}

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type presignAPI interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Seams for tests.
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = s3.NewFromConfig
	newS3PresignClient    = func(c *s3.Client) presignAPI { return s3.NewPresignClient(c) }
)

// S3Backend stores objects in one bucket. Bucket capacity is not
// discoverable through the S3 API, so totals come from configuration.
type S3Backend struct {
	name    string
	bucket  string
	client  s3API
	presign presignAPI
	opts    S3Options
}

// NewS3Backend builds a client with static credentials and path-style
// addressing against opts.BaseEndpoint.
func NewS3Backend(ctx context.Context, name string, opts S3Options) (*S3Backend, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Backend{
		name:    name,
		bucket:  opts.Bucket,
		client:  client,
		presign: newS3PresignClient(client),
		opts:    opts,
	}, nil
}

func (b *S3Backend) Name() string { return b.name }

func (b *S3Backend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, key string, w io.Writer) error {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("%w: %s/%s", common.ErrObjectNotFound, b.bucket, key)
		}
		return fmt.Errorf("s3 get %s/%s: %w", b.bucket, key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("s3 read %s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("s3 delete %s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *S3Backend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s/%s", common.ErrObjectNotFound, b.bucket, key)
		}
		return ObjectInfo{}, fmt.Errorf("s3 head %s/%s: %w", b.bucket, key, err)
	}

	info := ObjectInfo{Size: aws.ToInt64(out.ContentLength)}
	// Single-part uploads carry the content MD5 as ETag; multipart ETags contain a dash.
	if etag := strings.Trim(aws.ToString(out.ETag), `"`); etag != "" && !strings.Contains(etag, "-") {
		info.MD5 = etag
	}
	return info, nil
}

func (b *S3Backend) Usage(ctx context.Context) (Usage, error) {
	u := Usage{TotalBytes: b.opts.CapacityBytes, TotalInodes: b.opts.CapacityInodes}

	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{Bucket: aws.String(b.bucket)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return Usage{}, fmt.Errorf("s3 list %s: %w", b.bucket, err)
		}
		for _, obj := range page.Contents {
			u.UsedBytes += uint64(aws.ToInt64(obj.Size))
			u.UsedInodes++
		}
	}
	return u, nil
}

func (b *S3Backend) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := b.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign put %s/%s: %w", b.bucket, key, err)
	}
	return req.URL, nil
}

func isS3NotFound(err error) bool {
	var (
		noKey    *types.NoSuchKey
		notFound *types.NotFound
	)
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

var (
	_ Backend   = (*S3Backend)(nil)
	_ Presigner = (*S3Backend)(nil)
)
