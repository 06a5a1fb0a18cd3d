// Package memstore is an in-memory store gateway. It backs the "memory" store
// driver for local runs and the tests of every package above the store.
package memstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/italolelis/drive_relay/internal/store"
	"github.com/italolelis/drive_relay/internal/transfer"
)

type object struct {
	data        []byte
	contentType string
	disposition string
}

// Store is a concurrency-safe in-memory bucket.
type Store struct {
	mu       sync.RWMutex
	objects  map[string]*object
	uploads  map[string]*upload
	aborted  int
	complete int

	// PartHook, if set, runs before each part is accepted. A non-nil error
	// fails the part.
	PartHook func(key string, number int32) error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		objects: make(map[string]*object),
		uploads: make(map[string]*upload),
	}
}

// Put stores an object directly, bypassing multipart.
func (s *Store) Put(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = &object{data: append([]byte(nil), data...), contentType: contentType}
}

// Object returns a copy of a stored object body.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), obj.data...), true
}

// Disposition returns the Content-Disposition stored with key.
func (s *Store) Disposition(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if obj, ok := s.objects[key]; ok {
		return obj.disposition
	}

	return ""
}

// Stats reports open, aborted and completed multipart uploads.
func (s *Store) Stats() (open, aborted, completed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.uploads), s.aborted, s.complete
}

// Head implements store.Gateway.
func (s *Store) Head(_ context.Context, key string) (*transfer.ObjectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, &transfer.StoreError{Op: "head", Key: key, Err: transfer.ErrNotFound}
	}

	return &transfer.ObjectRecord{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

// GetRange implements store.Gateway.
func (s *Store) GetRange(_ context.Context, key string, rng *transfer.RangeSpec) (*store.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, &transfer.StoreError{Op: "get_object", Key: key, Err: transfer.ErrNotFound}
	}

	data := obj.data

	if rng != nil {
		if !rng.Valid(int64(len(data))) {
			return nil, &transfer.StoreError{
				Op:  "get_object",
				Key: key,
				Err: fmt.Errorf("invalid range %d-%d for %d bytes", rng.Start, rng.End, len(data)),
			}
		}

		data = data[rng.Start : rng.End+1]
	}

	return &store.Object{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: obj.contentType,
		Length:      int64(len(data)),
	}, nil
}

// CreateMultipartUpload implements store.Gateway.
func (s *Store) CreateMultipartUpload(_ context.Context, key string, opts store.UploadOptions) (store.MultipartUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &upload{
		store: s,
		id:    uuid.NewString(),
		key:   key,
		opts:  opts,
		parts: make(map[int32][]byte),
	}
	s.uploads[u.id] = u

	return u, nil
}

type upload struct {
	store *Store
	id    string
	key   string
	opts  store.UploadOptions

	mu    sync.Mutex
	parts map[int32][]byte
}

func (u *upload) UploadPart(ctx context.Context, number int32, data []byte) (store.CompletedPart, error) {
	if err := ctx.Err(); err != nil {
		return store.CompletedPart{}, &transfer.StoreError{Op: "upload_part", Key: u.key, Err: err}
	}

	if hook := u.store.PartHook; hook != nil {
		if err := hook(u.key, number); err != nil {
			return store.CompletedPart{}, &transfer.StoreError{Op: "upload_part", Key: u.key, Err: err}
		}
	}

	if number < 1 {
		return store.CompletedPart{}, &transfer.StoreError{
			Op:  "upload_part",
			Key: u.key,
			Err: fmt.Errorf("invalid part number %d", number),
		}
	}

	u.mu.Lock()
	u.parts[number] = append([]byte(nil), data...)
	u.mu.Unlock()

	sum := md5.Sum(data)

	return store.CompletedPart{Number: number, ETag: hex.EncodeToString(sum[:]), Size: int64(len(data))}, nil
}

func (u *upload) Complete(_ context.Context, parts []store.CompletedPart) error {
	if !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number }) {
		return &transfer.StoreError{Op: "complete_multipart_upload", Key: u.key, Err: fmt.Errorf("parts not in ascending order")}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	var buf bytes.Buffer

	for _, p := range parts {
		data, ok := u.parts[p.Number]
		if !ok {
			return &transfer.StoreError{
				Op:  "complete_multipart_upload",
				Key: u.key,
				Err: fmt.Errorf("part %d was never uploaded", p.Number),
			}
		}

		buf.Write(data)
	}

	s := u.store

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uploads[u.id]; !ok {
		return &transfer.StoreError{Op: "complete_multipart_upload", Key: u.key, Err: fmt.Errorf("upload %s is gone", u.id)}
	}

	delete(s.uploads, u.id)
	s.complete++
	s.objects[u.key] = &object{
		data:        buf.Bytes(),
		contentType: u.opts.ContentType,
		disposition: u.opts.ContentDisposition,
	}

	return nil
}

func (u *upload) Abort(_ context.Context) error {
	s := u.store

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uploads[u.id]; ok {
		delete(s.uploads, u.id)
		s.aborted++
	}

	return nil
}
