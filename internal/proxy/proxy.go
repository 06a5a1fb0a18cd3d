// Package proxy streams stored objects to HTTP clients with byte-range support.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/italolelis/drive_relay/internal/logctx"
	"github.com/italolelis/drive_relay/internal/resolver"
	"github.com/italolelis/drive_relay/internal/store"
	"github.com/italolelis/drive_relay/internal/telemetry"
	"github.com/italolelis/drive_relay/internal/transfer"
)

const defaultContentType = "application/octet-stream"

// Download request kinds reported to telemetry.
const (
	kindFull          = "full"
	kindPartial       = "partial"
	kindUnsatisfiable = "unsatisfiable"
	kindNotFound      = "not_found"
)

// ErrorResponse is the JSON body of every non-streaming failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Proxy serves objects out of the store.
type Proxy struct {
	store     store.Gateway
	resolver  *resolver.Resolver
	telemetry *telemetry.Telemetry
}

// New creates a proxy.
func New(gw store.Gateway, res *resolver.Resolver, tel *telemetry.Telemetry) *Proxy {
	return &Proxy{store: gw, resolver: res, telemetry: tel}
}

// Serve writes the object stored under key, or the span selected by the
// request's Range header. Once the status line is written a store failure
// can only end the response early.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, key string) {
	ctx, logger := logctx.With(r.Context(), "key", key)

	obj := p.resolver.Resolve(ctx, key)
	if !obj.Present {
		p.notFound(w, r)

		return
	}

	rng, err := ParseRange(r.Header.Get("Range"), obj.Size)
	if err != nil {
		var rangeErr *transfer.RangeError
		if errors.As(err, &rangeErr) {
			logger.DebugContext(ctx, "range not satisfiable", "range", rangeErr.Header, "reason", rangeErr.Reason)
		}

		p.telemetry.RecordDownloadRequest(kindUnsatisfiable, 0)

		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", obj.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)

		return
	}

	body, err := p.store.GetRange(ctx, key, rng)
	if err != nil {
		logger.WarnContext(ctx, "failed to read object from store", "err", err)
		p.notFound(w, r)

		return
	}
	defer body.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = body.ContentType
	}

	if contentType == "" {
		contentType = defaultContentType
	}

	length := obj.Size
	status := http.StatusOK
	kind := kindFull

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", transfer.ContentDisposition(key))
	h.Set("Accept-Ranges", "bytes")

	if rng != nil {
		length = rng.Length()
		status = http.StatusPartialContent
		kind = kindPartial

		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, obj.Size))
	}

	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		p.telemetry.RecordDownloadRequest(kind, 0)

		return
	}

	n, err := io.Copy(w, body.Body)
	p.telemetry.RecordDownloadRequest(kind, n)

	if err != nil {
		// Headers are gone; the client sees a truncated body.
		logger.WarnContext(ctx, "download stream interrupted", "sent", n, "expected", length, "err", err)
	}
}

func (p *Proxy) notFound(w http.ResponseWriter, r *http.Request) {
	p.telemetry.RecordDownloadRequest(kindNotFound, 0)
	WriteJSON(w, r, http.StatusNotFound, ErrorResponse{Error: "File not found"})
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", "err", err)
	}
}
