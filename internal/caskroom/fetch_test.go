package caskroom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/conn-castle/keg/internal/upgrade"
)

func newTestFetcher(retries uint64, getter ObjectGetter) *Fetcher {
	return NewFetcher(FetcherOptions{
		Retries:       retries,
		RetryInterval: time.Millisecond,
		Timeout:       5 * time.Second,
		S3:            getter,
	})
}

func TestFetchHTTP_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	data, err := newTestFetcher(3, nil).Fetch(context.Background(), server.URL+"/demo.zip")
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchHTTP_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestFetcher(1, nil).Fetch(context.Background(), server.URL+"/demo.zip")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
	require.Equal(t, int32(2), calls.Load())
}

func TestFetchHTTP_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := newTestFetcher(3, nil).Fetch(context.Background(), server.URL+"/missing.zip")
	require.ErrorIs(t, err, ErrDownloadNotFound)
	require.Equal(t, int32(1), calls.Load())
}

func TestFetch_UnsupportedScheme(t *testing.T) {
	_, err := newTestFetcher(0, nil).Fetch(context.Background(), "ftp://example.com/demo.zip")
	require.Error(t, err)
	require.Contains(t, err.Error(), `unsupported url scheme "ftp"`)
}

type fakeObjectGetter struct {
	bucket string
	key    string
	body   string
	err    error
}

func (f *fakeObjectGetter) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket = aws.ToString(params.Bucket)
	f.key = aws.ToString(params.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestFetchS3(t *testing.T) {
	getter := &fakeObjectGetter{body: "from s3"}
	data, err := newTestFetcher(0, getter).Fetch(context.Background(), "s3://releases/demo/demo-2.0.tar.gz")
	require.NoError(t, err)
	require.Equal(t, "from s3", string(data))
	require.Equal(t, "releases", getter.bucket)
	require.Equal(t, "demo/demo-2.0.tar.gz", getter.key)
}

func TestFetchS3_NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "typed", err: &types.NoSuchKey{}},
		{name: "api error code", err: &smithy.GenericAPIError{Code: "NoSuchKey", Message: "gone"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getter := &fakeObjectGetter{err: fmt.Errorf("operation error S3: GetObject: %w", tt.err)}
			_, err := newTestFetcher(0, getter).Fetch(context.Background(), "s3://releases/demo.zip")
			require.ErrorIs(t, err, ErrDownloadNotFound)
		})
	}

	getter := &fakeObjectGetter{err: &smithy.GenericAPIError{Code: "AccessDenied"}}
	_, err := newTestFetcher(0, getter).Fetch(context.Background(), "s3://releases/demo.zip")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDownloadNotFound)
}

func TestFetchS3_RequiresBucketAndKey(t *testing.T) {
	_, err := newTestFetcher(0, &fakeObjectGetter{}).Fetch(context.Background(), "s3://releases")
	require.Error(t, err)
	require.Contains(t, err.Error(), "s3://bucket/key")
}

func TestVerifySHA256(t *testing.T) {
	data := []byte("payload")
	require.NoError(t, verifySHA256(data, sha256Hex(data)))
	require.ErrorIs(t, verifySHA256(data, strings.Repeat("0", 64)), ErrChecksumMismatch)
}

func TestSessionFetch_UsesCache(t *testing.T) {
	payload := tarball(t, map[string]string{"Demo.app/version.txt": "1.0", "bin/demo": "x"})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	room, err := New(t.TempDir(), Options{Fetcher: newTestFetcher(0, nil)})
	require.NoError(t, err)
	writeTestFile(t, filepath.Join(room.Layout().DefinitionsDir(), "demo.toml"), []byte(fmt.Sprintf(`name = "demo"
version = "1.0"
url = %q
sha256 = %q
`, server.URL+"/demo-1.0.tar.gz", sha256Hex(payload))))

	for i := 0; i < 2; i++ {
		sess, err := room.openSession(upgrade.Ref{Name: "demo", Version: "1.0"}, nil, upgrade.SessionOptions{})
		require.NoError(t, err)
		require.NoError(t, sess.Fetch())
		require.Equal(t, payload, sess.download)
		require.Equal(t, "demo-1.0.tar.gz", sess.downloadName)
	}
	require.Equal(t, int32(1), calls.Load())
	_, err = room.sys.Stat(filepath.Join(room.Layout().CacheDir(), "demo--1.0--demo-1.0.tar.gz"))
	require.NoError(t, err)
}

func TestDownloadName(t *testing.T) {
	require.Equal(t, "demo.dmg", downloadName("https://example.com/releases/demo.dmg?token=abc"))
	require.Equal(t, "tool", downloadName("payloads/tool"))
	require.Equal(t, "download", downloadName("https://example.com/"))
}
