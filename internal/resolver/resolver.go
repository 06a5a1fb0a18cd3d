// Package resolver answers whether an object already exists in the store.
package resolver

import (
	"context"

	"github.com/italolelis/drive_relay/internal/logctx"
	"github.com/italolelis/drive_relay/internal/store"
	"github.com/italolelis/drive_relay/internal/transfer"
)

// Result is either Present with the stored size and content type, or absent.
type Result struct {
	Present     bool
	Size        int64
	ContentType string
}

// Resolver looks objects up with a store head request.
type Resolver struct {
	store store.Gateway
}

// New creates a resolver.
func New(gw store.Gateway) *Resolver {
	return &Resolver{store: gw}
}

// Resolve reports whether key exists. Any lookup failure, not only a missing
// key, resolves to absent: a false absent costs a deduplicated transfer
// attempt while a false present would serve an object that does not exist.
func (r *Resolver) Resolve(ctx context.Context, key string) Result {
	rec, err := r.store.Head(ctx, key)
	if err != nil {
		if !transfer.IsNotFound(err) {
			logctx.LoggerFromContext(ctx).WarnContext(ctx, "store lookup failed, treating object as absent",
				"key", key, "err", err)
		}

		return Result{}
	}

	return Result{Present: true, Size: rec.Size, ContentType: rec.ContentType}
}
