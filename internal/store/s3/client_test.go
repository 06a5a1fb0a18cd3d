package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/drive_relay/internal/store"
	"github.com/italolelis/drive_relay/internal/transfer"
)

type fakeAPI struct {
	headFn     func(*s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
	getFn      func(*s3.GetObjectInput) (*s3.GetObjectOutput, error)
	createFn   func(*s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error)
	partFn     func(*s3.UploadPartInput) (*s3.UploadPartOutput, error)
	completeFn func(*s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error)
	abortFn    func(*s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error)
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return f.headFn(in)
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return f.getFn(in)
}

func (f *fakeAPI) CreateMultipartUpload(
	_ context.Context,
	in *s3.CreateMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.CreateMultipartUploadOutput, error) {
	return f.createFn(in)
}

func (f *fakeAPI) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return f.partFn(in)
}

func (f *fakeAPI) CompleteMultipartUpload(
	_ context.Context,
	in *s3.CompleteMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.CompleteMultipartUploadOutput, error) {
	return f.completeFn(in)
}

func (f *fakeAPI) AbortMultipartUpload(
	_ context.Context,
	in *s3.AbortMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.AbortMultipartUploadOutput, error) {
	return f.abortFn(in)
}

func TestClient_Head(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantNotFound bool
	}{
		{name: "found"},
		{name: "typed not found", err: &s3types.NotFound{}, wantNotFound: true},
		{name: "generic api not found", err: &smithy.GenericAPIError{Code: "NotFound"}, wantNotFound: true},
		{name: "no such key", err: &s3types.NoSuchKey{}, wantNotFound: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{headFn: func(in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
				assert.Equal(t, "relay", aws.ToString(in.Bucket))
				assert.Equal(t, "movie.mkv", aws.ToString(in.Key))

				if tt.err != nil {
					return nil, tt.err
				}

				return &s3.HeadObjectOutput{ContentLength: aws.Int64(1000), ContentType: aws.String("video/x-matroska")}, nil
			}}

			rec, err := New(api, "relay").Head(context.Background(), "movie.mkv")
			if tt.err == nil {
				require.NoError(t, err)
				assert.Equal(t, int64(1000), rec.Size)
				assert.Equal(t, "video/x-matroska", rec.ContentType)

				return
			}

			require.Error(t, err)

			var storeErr *transfer.StoreError
			require.ErrorAs(t, err, &storeErr)
			assert.Equal(t, "head", storeErr.Op)
			assert.Equal(t, tt.wantNotFound, transfer.IsNotFound(err))
		})
	}
}

func TestClient_GetRange(t *testing.T) {
	var gotRange *string

	api := &fakeAPI{getFn: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		gotRange = in.Range

		return &s3.GetObjectOutput{
			Body:          io.NopCloser(strings.NewReader("0123456789")),
			ContentLength: aws.Int64(10),
			ContentType:   aws.String("text/plain"),
		}, nil
	}}

	c := New(api, "relay")

	obj, err := c.GetRange(context.Background(), "a.txt", &transfer.RangeSpec{Start: 10, End: 19})
	require.NoError(t, err)
	assert.Equal(t, "bytes=10-19", aws.ToString(gotRange))
	assert.Equal(t, int64(10), obj.Length)
	require.NoError(t, obj.Body.Close())

	_, err = c.GetRange(context.Background(), "a.txt", nil)
	require.NoError(t, err)
	assert.Nil(t, gotRange)
}

func TestClient_MultipartUpload(t *testing.T) {
	var (
		created   *s3.CreateMultipartUploadInput
		completed *s3.CompleteMultipartUploadInput
		aborted   bool
	)

	api := &fakeAPI{
		createFn: func(in *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
			created = in

			return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
		},
		partFn: func(in *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
			assert.Equal(t, "upload-1", aws.ToString(in.UploadId))

			if aws.ToInt32(in.PartNumber) == 3 {
				return nil, errors.New("connection reset")
			}

			return &s3.UploadPartOutput{ETag: aws.String("etag-" + string(rune('0'+aws.ToInt32(in.PartNumber))))}, nil
		},
		completeFn: func(in *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			completed = in

			return &s3.CompleteMultipartUploadOutput{}, nil
		},
		abortFn: func(in *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error) {
			aborted = aws.ToString(in.UploadId) == "upload-1"

			return &s3.AbortMultipartUploadOutput{}, nil
		},
	}

	ctx := context.Background()

	upload, err := New(api, "relay").CreateMultipartUpload(ctx, "movie.mkv", store.UploadOptions{
		ContentType:        "video/x-matroska",
		ContentDisposition: transfer.ContentDisposition("movie.mkv"),
	})
	require.NoError(t, err)
	assert.Equal(t, "video/x-matroska", aws.ToString(created.ContentType))
	assert.Equal(t, `attachment; filename="movie.mkv"`, aws.ToString(created.ContentDisposition))

	p1, err := upload.UploadPart(ctx, 1, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, store.CompletedPart{Number: 1, ETag: "etag-1", Size: 5}, p1)

	p2, err := upload.UploadPart(ctx, 2, []byte("world"))
	require.NoError(t, err)

	_, err = upload.UploadPart(ctx, 3, []byte("!"))
	require.Error(t, err)

	var storeErr *transfer.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "upload_part", storeErr.Op)

	require.NoError(t, upload.Complete(ctx, []store.CompletedPart{p1, p2}))
	require.Len(t, completed.MultipartUpload.Parts, 2)
	assert.Equal(t, int32(2), aws.ToInt32(completed.MultipartUpload.Parts[1].PartNumber))
	assert.Equal(t, "etag-2", aws.ToString(completed.MultipartUpload.Parts[1].ETag))

	require.NoError(t, upload.Abort(ctx))
	assert.True(t, aborted)
}
