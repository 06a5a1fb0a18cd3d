// Package store is the object store gateway: existence checks, ranged reads and
// multipart uploads against an S3-compatible bucket.
package store

import (
	"context"
	"io"

	"github.com/italolelis/drive_relay/internal/transfer"
)

// Gateway is the narrow capability the relay needs from an object store.
// Implementations are stateless and safe for concurrent use.
type Gateway interface {
	// Head returns the stored record for key. A missing key yields an error
	// satisfying transfer.IsNotFound.
	Head(ctx context.Context, key string) (*transfer.ObjectRecord, error)

	// GetRange streams the object body. A nil rng streams the whole object.
	// The caller must close the returned body.
	GetRange(ctx context.Context, key string, rng *transfer.RangeSpec) (*Object, error)

	// CreateMultipartUpload starts a multipart upload under key. Nothing is
	// visible under key until Complete succeeds.
	CreateMultipartUpload(ctx context.Context, key string, opts UploadOptions) (MultipartUpload, error)
}

// MultipartUpload is one in-progress multipart upload.
type MultipartUpload interface {
	// UploadPart submits the part with the given 1-based number.
	UploadPart(ctx context.Context, number int32, data []byte) (CompletedPart, error)

	// Complete finalizes the upload from the given parts, in ascending order.
	Complete(ctx context.Context, parts []CompletedPart) error

	// Abort discards every uploaded part.
	Abort(ctx context.Context) error
}

// Object is a streamed object body with the metadata known at read time.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	// Length is the number of bytes in Body.
	Length int64
}

// UploadOptions carries the headers stored with a new object.
type UploadOptions struct {
	ContentType        string
	ContentDisposition string
}

// CompletedPart identifies an uploaded part.
type CompletedPart struct {
	Number int32
	ETag   string
	Size   int64
}

// Config contains client configuration shared by the remote drivers.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
}
