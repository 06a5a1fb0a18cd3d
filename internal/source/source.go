// Package source reads objects from the remote service the relay pulls from.
package source

import (
	"context"
	"io"

	"github.com/italolelis/drive_relay/internal/logctx"
	"github.com/italolelis/drive_relay/internal/transfer"
)

// Metadata is what the source knows about an object before reading it.
type Metadata struct {
	Name        string
	Size        int64
	ContentType string
}

// Stream is an open read of a source object. Size is -1 when the source did
// not declare a length.
type Stream struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Fetcher opens streaming reads by source identifier. Failures are
// *transfer.SourceError wrapping ErrNotFound, ErrForbidden or ErrUnavailable.
type Fetcher interface {
	Open(ctx context.Context, id string) (*Stream, error)
}

// Lookup resolves object metadata by source identifier.
type Lookup interface {
	Metadata(ctx context.Context, id string) (*Metadata, error)
}

// Client is a source driver.
type Client interface {
	Fetcher
	Lookup
}

// Describe returns the object's metadata with a sanitized name. A failed
// lookup degrades to the fallback name and size 0.
func Describe(ctx context.Context, lookup Lookup, id string) *Metadata {
	meta, err := lookup.Metadata(ctx, id)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "metadata lookup failed, using fallback name",
			"source_id", id, "err", err)

		meta = &Metadata{}
	}

	name := meta.Name
	if name == "" {
		name = transfer.FallbackName(id)
	}

	return &Metadata{
		Name:        transfer.SanitizeKey(name),
		Size:        max(meta.Size, 0),
		ContentType: meta.ContentType,
	}
}
