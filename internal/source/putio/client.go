// Package putio reads files from a put.io account.
package putio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/putdotio/go-putio"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/italolelis/drive_relay/internal/logctx"
	"github.com/italolelis/drive_relay/internal/source"
	"github.com/italolelis/drive_relay/internal/transfer"
)

// Client implements source.Client for put.io. Source ids are numeric file ids.
type Client struct {
	putioClient *putio.Client
	httpClient  *http.Client
}

// NewClient creates a put.io client authenticated with an OAuth token.
func NewClient(token string) *Client {
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	// oauth2 picks the base client up from the context.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})

	return &Client{
		putioClient: putio.NewClient(oauth2.NewClient(ctx, tokenSource)),
		httpClient:  httpClient,
	}
}

// Authenticate checks the token against the account endpoint.
func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	user, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get account info: %w", err)
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

// Metadata implements source.Lookup.
func (c *Client) Metadata(ctx context.Context, id string) (*source.Metadata, error) {
	fileID, err := parseID("metadata", id)
	if err != nil {
		return nil, err
	}

	file, err := c.putioClient.Files.Get(ctx, fileID)
	if err != nil {
		return nil, classify("metadata", id, err)
	}

	if file.IsDir() {
		return nil, &transfer.SourceError{Op: "metadata", SourceID: id, Err: fmt.Errorf("%w: %s is a folder", transfer.ErrNotFound, id)}
	}

	return &source.Metadata{Name: file.Name, Size: file.Size, ContentType: file.ContentType}, nil
}

// Open implements source.Fetcher.
func (c *Client) Open(ctx context.Context, id string) (*source.Stream, error) {
	fileID, err := parseID("open_stream", id)
	if err != nil {
		return nil, err
	}

	url, err := c.putioClient.Files.URL(ctx, fileID, false)
	if err != nil {
		return nil, classify("open_stream", id, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &transfer.SourceError{Op: "open_stream", SourceID: id, Err: fmt.Errorf("%w: %v", transfer.ErrUnavailable, err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transfer.SourceError{Op: "open_stream", SourceID: id, Err: fmt.Errorf("%w: %v", transfer.ErrUnavailable, err)}
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		resp.Body.Close()

		return nil, &transfer.SourceError{Op: "open_stream", SourceID: id, StatusCode: resp.StatusCode, Err: statusError(resp.StatusCode)}
	}

	return &source.Stream{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

func parseID(op, id string) (int64, error) {
	fileID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, &transfer.SourceError{Op: op, SourceID: id, Err: fmt.Errorf("%w: not a put.io file id", transfer.ErrNotFound)}
	}

	return fileID, nil
}

func classify(op, id string, err error) error {
	var apiErr *putio.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		code := apiErr.Response.StatusCode

		return &transfer.SourceError{Op: op, SourceID: id, StatusCode: code, Err: fmt.Errorf("%w: %v", statusError(code), err)}
	}

	return &transfer.SourceError{Op: op, SourceID: id, Err: fmt.Errorf("%w: %v", transfer.ErrUnavailable, err)}
}

func statusError(code int) error {
	switch code {
	case http.StatusNotFound:
		return transfer.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return transfer.ErrForbidden
	default:
		return transfer.ErrUnavailable
	}
}
