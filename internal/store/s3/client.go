// Package s3 implements the store gateway on the AWS SDK, for AWS S3 and
// S3-compatible services such as Cloudflare R2.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/italolelis/drive_relay/internal/store"
	"github.com/italolelis/drive_relay/internal/transfer"
)

// API is the subset of the S3 client used by the gateway.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CreateMultipartUpload(
		ctx context.Context,
		params *s3.CreateMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(
		ctx context.Context,
		params *s3.CompleteMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(
		ctx context.Context,
		params *s3.AbortMultipartUploadInput,
		optFns ...func(*s3.Options),
	) (*s3.AbortMultipartUploadOutput, error)
}

// Client implements store.Gateway on a single bucket.
type Client struct {
	api    API
	bucket string
}

// NewClient builds an S3 client with static credentials. A non-empty endpoint
// switches to path-style addressing, which R2 and most S3-compatible stores need.
func NewClient(ctx context.Context, cfg store.Config) (*Client, error) {
	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return New(api, cfg.Bucket), nil
}

// New wraps an existing API implementation.
func New(api API, bucket string) *Client {
	return &Client{api: api, bucket: bucket}
}

// Head implements store.Gateway.
func (c *Client) Head(ctx context.Context, key string) (*transfer.ObjectRecord, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("head", key, err)
	}

	return &transfer.ObjectRecord{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// GetRange implements store.Gateway.
func (c *Client) GetRange(ctx context.Context, key string, rng *transfer.RangeSpec) (*store.Object, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}

	if rng != nil {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
	}

	out, err := c.api.GetObject(ctx, input)
	if err != nil {
		return nil, classify("get_object", key, err)
	}

	return &store.Object{
		Body:        out.Body,
		ContentType: aws.ToString(out.ContentType),
		Length:      aws.ToInt64(out.ContentLength),
	}, nil
}

// CreateMultipartUpload implements store.Gateway.
func (c *Client) CreateMultipartUpload(ctx context.Context, key string, opts store.UploadOptions) (store.MultipartUpload, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(opts.ContentType),
	}

	if opts.ContentDisposition != "" {
		input.ContentDisposition = aws.String(opts.ContentDisposition)
	}

	out, err := c.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return nil, classify("create_multipart_upload", key, err)
	}

	return &multipartUpload{
		api:      c.api,
		bucket:   c.bucket,
		key:      key,
		uploadID: aws.ToString(out.UploadId),
	}, nil
}

type multipartUpload struct {
	api      API
	bucket   string
	key      string
	uploadID string
}

func (u *multipartUpload) UploadPart(ctx context.Context, number int32, data []byte) (store.CompletedPart, error) {
	out, err := u.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(u.key),
		UploadId:      aws.String(u.uploadID),
		PartNumber:    aws.Int32(number),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return store.CompletedPart{}, classify("upload_part", u.key, err)
	}

	return store.CompletedPart{
		Number: number,
		ETag:   aws.ToString(out.ETag),
		Size:   int64(len(data)),
	}, nil
}

func (u *multipartUpload) Complete(ctx context.Context, parts []store.CompletedPart) error {
	completed := make([]s3types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		}
	}

	_, err := u.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return classify("complete_multipart_upload", u.key, err)
	}

	return nil
}

func (u *multipartUpload) Abort(ctx context.Context) error {
	_, err := u.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
	if err != nil {
		return classify("abort_multipart_upload", u.key, err)
	}

	return nil
}

// classify maps SDK errors onto transfer.StoreError, marking missing keys with
// transfer.ErrNotFound.
func classify(op, key string, err error) error {
	var (
		noSuchKey *s3types.NoSuchKey
		notFound  *s3types.NotFound
		apiErr    smithy.APIError
	)

	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		err = fmt.Errorf("%w: %v", transfer.ErrNotFound, err)
	case errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey"):
		err = fmt.Errorf("%w: %v", transfer.ErrNotFound, err)
	}

	return &transfer.StoreError{Op: op, Key: key, Err: err}
}
