package rest

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/italolelis/drive_relay/internal/logctx"
	"github.com/italolelis/drive_relay/internal/proxy"
	"github.com/italolelis/drive_relay/internal/resolver"
	"github.com/italolelis/drive_relay/internal/scheduler"
	"github.com/italolelis/drive_relay/internal/source"
	"github.com/italolelis/drive_relay/internal/storage"
	"github.com/italolelis/drive_relay/internal/transfer"
)

const (
	StatusReady      = "ready"
	StatusProcessing = "processing"

	processingMessage = "Upload started. Please refresh after some time."
	recentAttempts    = 50
)

// Scheduler is the part of the transfer scheduler the handlers use.
type Scheduler interface {
	Admit(ctx context.Context, sourceID, targetKey, contentTypeHint string, sizeHint int64) (scheduler.Admission, error)
	Snapshot() scheduler.Snapshot
}

// FileStatusResponse answers GET /{id}.
type FileStatusResponse struct {
	Status        string `json:"status"`
	Filename      string `json:"filename"`
	Size          int64  `json:"size"`
	SizeHuman     string `json:"size_human"`
	DownloadURL   string `json:"download_url,omitempty"`
	QueuePosition *int   `json:"queue_position,omitempty"`
	Message       string `json:"message,omitempty"`
}

// TransfersResponse answers GET /transfers.
type TransfersResponse struct {
	scheduler.Snapshot
	Recent []storage.AttemptRecord `json:"recent,omitempty"`
}

// RelayConfig holds the handler settings.
type RelayConfig struct {
	// PublicBaseURL prefixes download links. When empty the request's scheme
	// and host are used.
	PublicBaseURL string
	IDRule        transfer.IDRule
}

// RelayHandler serves the client facing API.
type RelayHandler struct {
	cfg       RelayConfig
	lookup    source.Lookup
	resolver  *resolver.Resolver
	scheduler Scheduler
	proxy     *proxy.Proxy
	journal   storage.JournalReadRepository
}

// NewRelayHandler creates the handler. journal may be nil when the journal
// is disabled.
func NewRelayHandler(
	cfg RelayConfig,
	lookup source.Lookup,
	res *resolver.Resolver,
	sched Scheduler,
	px *proxy.Proxy,
	journal storage.JournalReadRepository,
) *RelayHandler {
	return &RelayHandler{
		cfg:       cfg,
		lookup:    lookup,
		resolver:  res,
		scheduler: sched,
		proxy:     px,
		journal:   journal,
	}
}

func (h *RelayHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/healthz", h.HandleHealth)
	r.Get("/transfers", h.HandleTransfers)
	r.Get("/download/{key}", h.HandleDownload)
	r.Head("/download/{key}", h.HandleDownload)
	r.Get("/{id}", h.HandleFileStatus)

	return r
}

// HandleFileStatus reports whether the object is ready, starting a transfer
// when it is not.
func (h *RelayHandler) HandleFileStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, logger := logctx.With(r.Context(), "source_id", id)

	if err := transfer.ValidateID(id, h.cfg.IDRule); err != nil {
		logger.DebugContext(ctx, "rejected source id", "err", err)
		proxy.WriteJSON(w, r, http.StatusBadRequest, proxy.ErrorResponse{Error: "Invalid File ID"})

		return
	}

	meta := source.Describe(ctx, h.lookup, id)

	if obj := h.resolver.Resolve(ctx, meta.Name); obj.Present {
		proxy.WriteJSON(w, r, http.StatusOK, FileStatusResponse{
			Status:      StatusReady,
			Filename:    meta.Name,
			Size:        obj.Size,
			SizeHuman:   humanize.IBytes(uint64(obj.Size)),
			DownloadURL: h.downloadURL(r, meta.Name),
		})

		return
	}

	adm, err := h.scheduler.Admit(ctx, id, meta.Name, meta.ContentType, meta.Size)
	if err != nil {
		if errors.Is(err, scheduler.ErrClosed) {
			proxy.WriteJSON(w, r, http.StatusServiceUnavailable, proxy.ErrorResponse{Error: "Service is shutting down"})

			return
		}

		logger.ErrorContext(ctx, "failed to admit transfer", "err", err)
		proxy.WriteJSON(w, r, http.StatusInternalServerError, proxy.ErrorResponse{Error: "internal server error"})

		return
	}

	position := adm.Position

	proxy.WriteJSON(w, r, http.StatusOK, FileStatusResponse{
		Status:        StatusProcessing,
		Filename:      meta.Name,
		Size:          meta.Size,
		SizeHuman:     humanize.IBytes(uint64(meta.Size)),
		QueuePosition: &position,
		Message:       processingMessage,
	})
}

// HandleDownload streams a stored object.
func (h *RelayHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		proxy.WriteJSON(w, r, http.StatusNotFound, proxy.ErrorResponse{Error: "File not found"})

		return
	}

	h.proxy.Serve(w, r, key)
}

// HandleTransfers lists running and queued transfers and recent attempts.
func (h *RelayHandler) HandleTransfers(w http.ResponseWriter, r *http.Request) {
	resp := TransfersResponse{Snapshot: h.scheduler.Snapshot()}

	if h.journal != nil {
		recent, err := h.journal.Recent(r.Context(), recentAttempts)
		if err != nil {
			logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to read journal", "err", err)
		}

		resp.Recent = recent
	}

	proxy.WriteJSON(w, r, http.StatusOK, resp)
}

// HandleHealth reports liveness.
func (h *RelayHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *RelayHandler) downloadURL(r *http.Request, key string) string {
	base := strings.TrimSuffix(h.cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}

		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		}

		base = scheme + "://" + r.Host
	}

	return base + "/download/" + url.PathEscape(key)
}
