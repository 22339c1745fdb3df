package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/blob/options"
	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3Client struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{store: make(map[string][]byte)}
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.store[aws.ToString(input.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	if input.Range != nil {
		var start, end int64

		end = -1

		if _, err := fmt.Sscanf(aws.ToString(input.Range), "bytes=%d-%d", &start, &end); err != nil {
			end = int64(len(data)) - 1
		}

		if start >= int64(len(data)) {
			return nil, fmt.Errorf("InvalidRange: the requested range is not satisfiable")
		}

		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}

		data = data[start : end+1]
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) HeadObject(_ context.Context, input *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.store[aws.ToString(input.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}

	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.store, aws.ToString(input.Key))

	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) Upload(_ context.Context, input *s3.PutObjectInput) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.store[aws.ToString(input.Key)] = data

	return &manager.UploadOutput{}, nil
}

func (m *mockS3Client) PresignGetObject(_ context.Context, input *s3.GetObjectInput, expires time.Duration) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		Method: "GET",
		URL:    fmt.Sprintf("https://s3.test/%s/%s?X-Amz-Expires=%d", aws.ToString(input.Bucket), aws.ToString(input.Key), int(expires.Seconds())),
	}, nil
}

func (m *mockS3Client) PresignPutObject(_ context.Context, input *s3.PutObjectInput, expires time.Duration) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		Method: "PUT",
		URL:    fmt.Sprintf("https://s3.test/%s/%s?X-Amz-Expires=%d", aws.ToString(input.Bucket), aws.ToString(input.Key), int(expires.Seconds())),
	}, nil
}

func setupTestS3(_ *testing.T) (*S3, *mockS3Client) {
	mock := newMockS3Client()

	return NewWithClient(ulogger.TestLogger{}, mock, "test-bucket", options.WithDefaultSubDirectory("objects")), mock
}

func TestS3_SetAndGet(t *testing.T) {
	ctx := context.Background()
	store, mock := setupTestS3(t)

	require.NoError(t, store.Set(ctx, []byte("a/b"), []byte("hello world"), options.WithFileExtension("blob")))
	assert.Contains(t, mock.store, "objects/a/b.blob")

	data, err := store.Get(ctx, []byte("a/b"), options.WithFileExtension("blob"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	data, err = store.Get(ctx, []byte("a/b"), options.WithFileExtension("blob"), options.WithRange(6, 5))
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), data)

	data, err = store.Get(ctx, []byte("a/b"), options.WithFileExtension("blob"), options.WithRange(50, 0))
	require.NoError(t, err)
	assert.Empty(t, data)

	size, err := store.GetSize(ctx, []byte("a/b"), options.WithFileExtension("blob"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)
}

func TestS3_NotFound(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestS3(t)

	_, err := store.Get(ctx, []byte("missing"))
	assert.True(t, errors.IsNotFound(err))

	_, err = store.GetSize(ctx, []byte("missing"))
	assert.True(t, errors.IsNotFound(err))

	exists, err := store.Exists(ctx, []byte("missing"))
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Del(ctx, []byte("missing")))
}

func TestS3_Redirects(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestS3(t)

	assert.True(t, store.SupportsRedirects())

	u, err := store.GetReadRedirect(ctx, []byte("a/b"), options.WithFileExtension("blob"), options.WithRedirectTTL(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "/test-bucket/objects/a/b.blob", u.Path)
	assert.Equal(t, "60", u.Query().Get("X-Amz-Expires"))

	u, err = store.GetWriteRedirect(ctx, []byte("a/c"))
	require.NoError(t, err)
	assert.Equal(t, "/test-bucket/objects/a/c", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
}

func TestS3_DefaultRedirectTTL(t *testing.T) {
	ctx := context.Background()
	store := NewWithClient(ulogger.TestLogger{}, newMockS3Client(), "test-bucket", options.WithDefaultRedirectTTL(5*time.Minute))

	u, err := store.GetReadRedirect(ctx, []byte("a/b"))
	require.NoError(t, err)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))

	// a per call ttl still wins
	u, err = store.GetReadRedirect(ctx, []byte("a/b"), options.WithRedirectTTL(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "60", u.Query().Get("X-Amz-Expires"))
}

func TestRangeHeader(t *testing.T) {
	assert.Equal(t, "bytes=5-", rangeHeader(5, 0))
	assert.Equal(t, "bytes=0-9", rangeHeader(0, 10))
}
