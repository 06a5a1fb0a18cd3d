package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/italolelis/drive_relay/internal/store"
	"github.com/italolelis/drive_relay/internal/store/memstore"
	"github.com/italolelis/drive_relay/internal/transfer"
)

// failingGateway embeds a real gateway and overrides Head.
type failingGateway struct {
	store.Gateway
	err error
}

func (g failingGateway) Head(context.Context, string) (*transfer.ObjectRecord, error) {
	return nil, g.err
}

func TestResolve(t *testing.T) {
	st := memstore.New()
	st.Put("movie.mkv", make([]byte, 1234), "video/x-matroska")

	tests := []struct {
		name string
		gw   store.Gateway
		key  string
		want Result
	}{
		{
			name: "present",
			gw:   st,
			key:  "movie.mkv",
			want: Result{Present: true, Size: 1234, ContentType: "video/x-matroska"},
		},
		{
			name: "missing key",
			gw:   st,
			key:  "other.mkv",
			want: Result{},
		},
		{
			name: "transient store failure",
			gw:   failingGateway{Gateway: st, err: &transfer.StoreError{Op: "head", Key: "movie.mkv", Err: errors.New("i/o timeout")}},
			key:  "movie.mkv",
			want: Result{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.gw).Resolve(context.Background(), tt.key))
		})
	}
}
