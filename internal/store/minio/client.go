// Package minio implements the store gateway with minio-go, for MinIO and
// other S3-compatible endpoints addressed by host:port.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/italolelis/drive_relay/internal/store"
	"github.com/italolelis/drive_relay/internal/transfer"
)

// Client implements store.Gateway on a single bucket.
type Client struct {
	core   *minio.Core
	bucket string
}

// NewClient creates a minio-go backed gateway.
func NewClient(cfg store.Config) (*Client, error) {
	endpoint, secure, err := cleanEndpoint(cfg.Endpoint, cfg.Secure)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &Client{core: core, bucket: cfg.Bucket}, nil
}

// cleanEndpoint reduces an endpoint URL to host:port. An explicit scheme
// overrides the secure flag.
func cleanEndpoint(endpoint string, secure bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", false, fmt.Errorf("endpoint contains path but no protocol")
		}

		return endpoint, secure, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsed.Path != "" && parsed.Path != "/" {
		return "", false, fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsed.Path)
	}

	return parsed.Host, parsed.Scheme == "https", nil
}

// Head implements store.Gateway.
func (c *Client) Head(ctx context.Context, key string) (*transfer.ObjectRecord, error) {
	info, err := c.core.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classify("head", key, err)
	}

	return &transfer.ObjectRecord{
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

// GetRange implements store.Gateway.
func (c *Client) GetRange(ctx context.Context, key string, rng *transfer.RangeSpec) (*store.Object, error) {
	opts := minio.GetObjectOptions{}

	if rng != nil {
		if err := opts.SetRange(rng.Start, rng.End); err != nil {
			return nil, classify("get_object", key, err)
		}
	}

	body, info, _, err := c.core.GetObject(ctx, c.bucket, key, opts)
	if err != nil {
		return nil, classify("get_object", key, err)
	}

	return &store.Object{
		Body:        body,
		ContentType: info.ContentType,
		Length:      info.Size,
	}, nil
}

// CreateMultipartUpload implements store.Gateway.
func (c *Client) CreateMultipartUpload(ctx context.Context, key string, opts store.UploadOptions) (store.MultipartUpload, error) {
	uploadID, err := c.core.NewMultipartUpload(ctx, c.bucket, key, minio.PutObjectOptions{
		ContentType:        opts.ContentType,
		ContentDisposition: opts.ContentDisposition,
	})
	if err != nil {
		return nil, classify("create_multipart_upload", key, err)
	}

	return &multipartUpload{core: c.core, bucket: c.bucket, key: key, uploadID: uploadID}, nil
}

type multipartUpload struct {
	core     *minio.Core
	bucket   string
	key      string
	uploadID string
}

func (u *multipartUpload) UploadPart(ctx context.Context, number int32, data []byte) (store.CompletedPart, error) {
	part, err := u.core.PutObjectPart(ctx, u.bucket, u.key, u.uploadID, int(number),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return store.CompletedPart{}, classify("upload_part", u.key, err)
	}

	return store.CompletedPart{Number: number, ETag: part.ETag, Size: int64(len(data))}, nil
}

func (u *multipartUpload) Complete(ctx context.Context, parts []store.CompletedPart) error {
	completeParts := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completeParts[i] = minio.CompletePart{PartNumber: int(p.Number), ETag: p.ETag}
	}

	if _, err := u.core.CompleteMultipartUpload(ctx, u.bucket, u.key, u.uploadID, completeParts, minio.PutObjectOptions{}); err != nil {
		return classify("complete_multipart_upload", u.key, err)
	}

	return nil
}

func (u *multipartUpload) Abort(ctx context.Context) error {
	if err := u.core.AbortMultipartUpload(ctx, u.bucket, u.key, u.uploadID); err != nil {
		return classify("abort_multipart_upload", u.key, err)
	}

	return nil
}

func classify(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
		err = fmt.Errorf("%w: %v", transfer.ErrNotFound, err)
	}

	return &transfer.StoreError{Op: op, Key: key, Err: err}
}
