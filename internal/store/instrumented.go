package store

import (
	"context"

	"github.com/italolelis/drive_relay/internal/telemetry"
	"github.com/italolelis/drive_relay/internal/transfer"
)

// InstrumentedGateway wraps Gateway with telemetry.
type InstrumentedGateway struct {
	gateway   Gateway
	telemetry *telemetry.Telemetry
}

// NewInstrumentedGateway creates a new instrumented gateway.
func NewInstrumentedGateway(gateway Gateway, tel *telemetry.Telemetry) *InstrumentedGateway {
	return &InstrumentedGateway{gateway: gateway, telemetry: tel}
}

// Head checks for an object with telemetry.
func (g *InstrumentedGateway) Head(ctx context.Context, key string) (*transfer.ObjectRecord, error) {
	var (
		result  *transfer.ObjectRecord
		headErr error
	)

	err := g.telemetry.InstrumentStoreOperation(ctx, "head", func(ctx context.Context) error {
		result, headErr = g.gateway.Head(ctx, key)

		// Absence is an answer, not a failure.
		if transfer.IsNotFound(headErr) {
			return nil
		}

		return headErr
	})
	if err != nil {
		return nil, err
	}

	if headErr != nil {
		return nil, headErr
	}

	return result, nil
}

// GetRange opens an object body with telemetry. Only the open is timed, not the stream.
func (g *InstrumentedGateway) GetRange(ctx context.Context, key string, rng *transfer.RangeSpec) (*Object, error) {
	var result *Object

	err := g.telemetry.InstrumentStoreOperation(ctx, "get_object", func(ctx context.Context) error {
		var err error

		result, err = g.gateway.GetRange(ctx, key, rng)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CreateMultipartUpload starts an upload with telemetry on every step.
func (g *InstrumentedGateway) CreateMultipartUpload(ctx context.Context, key string, opts UploadOptions) (MultipartUpload, error) {
	var result MultipartUpload

	err := g.telemetry.InstrumentStoreOperation(ctx, "create_multipart_upload", func(ctx context.Context) error {
		var err error

		result, err = g.gateway.CreateMultipartUpload(ctx, key, opts)

		return err
	})
	if err != nil {
		return nil, err
	}

	return &instrumentedUpload{upload: result, telemetry: g.telemetry}, nil
}

type instrumentedUpload struct {
	upload    MultipartUpload
	telemetry *telemetry.Telemetry
}

func (u *instrumentedUpload) UploadPart(ctx context.Context, number int32, data []byte) (CompletedPart, error) {
	var result CompletedPart

	err := u.telemetry.InstrumentStoreOperation(ctx, "upload_part", func(ctx context.Context) error {
		var err error

		result, err = u.upload.UploadPart(ctx, number, data)

		return err
	})

	return result, err
}

func (u *instrumentedUpload) Complete(ctx context.Context, parts []CompletedPart) error {
	return u.telemetry.InstrumentStoreOperation(ctx, "complete_multipart_upload", func(ctx context.Context) error {
		return u.upload.Complete(ctx, parts)
	})
}

func (u *instrumentedUpload) Abort(ctx context.Context) error {
	return u.telemetry.InstrumentStoreOperation(ctx, "abort_multipart_upload", func(ctx context.Context) error {
		return u.upload.Abort(ctx)
	})
}
