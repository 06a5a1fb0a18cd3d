// Package gdrive reads publicly shared Google Drive files through the Drive v3
// API with an API key.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"

	"github.com/italolelis/drive_relay/internal/logctx"
	"github.com/italolelis/drive_relay/internal/source"
	"github.com/italolelis/drive_relay/internal/transfer"
)

// DefaultBaseURL is the Drive v3 API root.
const DefaultBaseURL = "https://www.googleapis.com/drive/v3/"

const metadataTimeout = 15 * time.Second

// Client implements source.Client against the Drive v3 API.
type Client struct {
	service *drive.Service
}

// NewClient creates a Drive client. Media reads have no client timeout; they
// are bounded by the caller's context.
func NewClient(ctx context.Context, baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	// A custom HTTP client disables the SDK's own auth, so the key travels
	// through the APIKey transport.
	httpClient := &http.Client{
		Transport: &transport.APIKey{
			Key:       apiKey,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	service, err := drive.NewService(ctx,
		option.WithHTTPClient(httpClient),
		option.WithEndpoint(strings.TrimSuffix(baseURL, "/")+"/"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &Client{service: service}, nil
}

// Metadata implements source.Lookup.
func (c *Client) Metadata(ctx context.Context, id string) (*source.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	file, err := c.service.Files.Get(id).
		Fields("name", "size", "mimeType").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("metadata", id, err)
	}

	return &source.Metadata{Name: file.Name, Size: file.Size, ContentType: file.MimeType}, nil
}

// Open implements source.Fetcher.
func (c *Client) Open(ctx context.Context, id string) (*source.Stream, error) {
	resp, err := c.service.Files.Get(id).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, classify("open_stream", id, err)
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "source stream opened",
		"source_id", id, "content_type", resp.Header.Get("Content-Type"), "content_length", resp.ContentLength)

	return &source.Stream{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

// classify maps SDK failures onto the source error taxonomy. Anything that is
// not an API error is a transport or decoding failure.
func classify(op, id string, err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return &transfer.SourceError{Op: op, SourceID: id, Err: fmt.Errorf("%w: %v", transfer.ErrUnavailable, err)}
	}

	var kind error

	switch apiErr.Code {
	case http.StatusNotFound:
		kind = transfer.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = transfer.ErrForbidden
	default:
		kind = transfer.ErrUnavailable
	}

	return &transfer.SourceError{Op: op, SourceID: id, StatusCode: apiErr.Code, Err: fmt.Errorf("%w: %s", kind, apiErr.Message)}
}
