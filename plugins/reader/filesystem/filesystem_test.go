package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luabundle/pkg/contract"
)

// TestReadSingleFile 读取单文件
func TestReadSingleFile(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "main.lua")
	require.NoError(t, os.WriteFile(fp, []byte("print('hi')\n"), 0o644))
	r, err := New(nil)
	require.NoError(t, err)
	got, err := r.ReadSource(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", got)
}

func TestReadSmallBuffer(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "big.lua")
	content := make([]byte, 10000)
	for i := range content {
		content[i] = 'a' + byte(i%26)
	}
	require.NoError(t, os.WriteFile(fp, content, 0o644))
	r, err := New(&Options{BufSize: 16})
	require.NoError(t, err)
	got, err := r.ReadSource(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, string(content), got)
}

func TestReadMissing(t *testing.T) {
	r, _ := New(nil)
	_, err := r.ReadSource(context.Background(), filepath.Join(t.TempDir(), "nope.lua"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestReadDirectoryRejected(t *testing.T) {
	r, _ := New(nil)
	_, err := r.ReadSource(context.Background(), t.TempDir())
	require.Error(t, err)
	var perr *os.PathError
	assert.True(t, errors.As(err, &perr))
}

func TestReadCanceled(t *testing.T) {
	r, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ReadSource(ctx, "whatever.lua")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfine(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	in := filepath.Join(root, "a.lua")
	out := filepath.Join(outside, "b.lua")
	require.NoError(t, os.WriteFile(in, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(out, []byte("b"), 0o644))

	r, err := New(&Options{Confine: true, Root: root})
	require.NoError(t, err)
	_, err = r.ReadSource(context.Background(), in)
	require.NoError(t, err)
	_, err = r.ReadSource(context.Background(), out)
	assert.ErrorIs(t, err, contract.ErrPathInvalid)

	_, err = New(&Options{Confine: true})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
