package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/drive_relay/internal/transfer"
)

const fileID = "1AbCdEfGhIjKlMnOpQ"

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), server.URL, "test-key")
	require.NoError(t, err)

	return client
}

func TestClient_Metadata(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/"+fileID, r.URL.Path)
		assert.Equal(t, "name,size,mimeType", r.URL.Query().Get("fields"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"movie.mkv","size":"1073741824","mimeType":"video/x-matroska"}`)
	})

	meta, err := client.Metadata(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, "movie.mkv", meta.Name)
	assert.Equal(t, int64(1073741824), meta.Size)
	assert.Equal(t, "video/x-matroska", meta.ContentType)
}

func TestClient_MetadataWithoutSize(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"name":"doc"}`)
	})

	meta, err := client.Metadata(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), meta.Size)
}

func TestClient_Open(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "media", r.URL.Query().Get("alt"))

		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "11")
		fmt.Fprint(w, "hello world")
	})

	stream, err := client.Open(context.Background(), fileID)
	require.NoError(t, err)

	defer stream.Body.Close()

	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
	assert.Equal(t, "video/mp4", stream.ContentType)
	assert.Equal(t, int64(11), stream.Size)
}

func TestClient_OpenErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, transfer.ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, transfer.ErrForbidden},
		{"forbidden", http.StatusForbidden, transfer.ErrForbidden},
		{"rate limited", http.StatusTooManyRequests, transfer.ErrUnavailable},
		{"server error", http.StatusInternalServerError, transfer.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s"}}`, tt.status, http.StatusText(tt.status))
			})

			_, err := client.Open(context.Background(), fileID)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var srcErr *transfer.SourceError
			require.True(t, errors.As(err, &srcErr))
			assert.Equal(t, tt.status, srcErr.StatusCode)
			assert.Equal(t, "open_stream", srcErr.Op)
			assert.Equal(t, fileID, srcErr.SourceID)
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client, err := NewClient(context.Background(), server.URL, "k")
	require.NoError(t, err)

	_, err = client.Metadata(context.Background(), fileID)
	require.Error(t, err)
	assert.ErrorIs(t, err, transfer.ErrUnavailable)
}

func TestClient_MetadataErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, transfer.ErrNotFound},
		{"forbidden", http.StatusForbidden, transfer.ErrForbidden},
		{"server error", http.StatusInternalServerError, transfer.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"File not found: %s."}}`, tt.status, fileID)
			})

			_, err := client.Metadata(context.Background(), fileID)
			require.ErrorIs(t, err, tt.want)

			var srcErr *transfer.SourceError
			require.ErrorAs(t, err, &srcErr)
			assert.Equal(t, tt.status, srcErr.StatusCode)
			assert.Equal(t, "metadata", srcErr.Op)
		})
	}
}

func TestClient_MalformedMetadata(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":`)
	})

	_, err := client.Metadata(context.Background(), fileID)
	require.ErrorIs(t, err, transfer.ErrUnavailable)
}
