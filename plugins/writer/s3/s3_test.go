package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luabundle/pkg/contract"
)

// fakeS3 记录请求，HEAD/PUT 一律成功。
type fakeS3 struct {
	mu   sync.Mutex
	reqs []string
	body map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.reqs = append(f.reqs, r.Method+" "+r.URL.Path)
	if r.Method == http.MethodPut {
		f.body[r.URL.Path] = string(b)
	}
	f.mu.Unlock()
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func newStore(t *testing.T, srv *httptest.Server, opts Options) *Store {
	t.Helper()
	opts.Endpoint = strings.TrimPrefix(srv.URL, "http://")
	if opts.AccessKey == "" {
		opts.AccessKey, opts.SecretKey = "ak", "sk"
	}
	if opts.Bucket == "" {
		opts.Bucket = "bundles"
	}
	s, err := New(&opts)
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	cases := []*Options{
		nil,
		{AccessKey: "a", SecretKey: "b", Bucket: "c"},
		{Endpoint: "localhost:9000", Bucket: "c"},
		{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"},
	}
	for i, o := range cases {
		_, err := New(o)
		assert.ErrorIs(t, err, contract.ErrInvalidInput, "case %d", i)
	}
}

func TestKey(t *testing.T) {
	s, err := New(&Options{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "c", Prefix: "/scripts/dev/"})
	require.NoError(t, err)
	k, err := s.Key("LuaBundler/bundled.lua")
	require.NoError(t, err)
	assert.Equal(t, "scripts/dev/LuaBundler/bundled.lua", k)

	_, err = s.Key("../x.lua")
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
	_, err = s.Key("")
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
}

func TestWritePutsObject(t *testing.T) {
	fake := &fakeS3{body: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := newStore(t, srv, Options{Prefix: "dev"})
	require.NoError(t, s.Write(context.Background(), "bundled.lua", strings.NewReader("print(1)")))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.reqs, "PUT /bundles/dev/bundled.lua")
}

func TestWriteEnsuresBucketOnce(t *testing.T) {
	fake := &fakeS3{body: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := newStore(t, srv, Options{CreateBucket: true})
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, "a.lua", strings.NewReader("a")))
	require.NoError(t, s.Write(ctx, "a.lua", strings.NewReader("b")))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	heads := 0
	for _, r := range fake.reqs {
		if strings.HasPrefix(r, "HEAD ") {
			heads++
		}
	}
	assert.Equal(t, 1, heads)
}

func TestWriteCanceled(t *testing.T) {
	s, err := New(&Options{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "c"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Write(ctx, "a.lua", strings.NewReader("x")), context.Canceled)
}
