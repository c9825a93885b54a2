package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"luabundle/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// Confine: 为 true 时拒绝读取（符号链接解析后）位于 Root 之外的文件。
	Confine bool `json:"confine"`
	// Root: Confine 的边界目录；由装配层注入项目根，通常无需手写。
	Root string `json:"root,omitempty"`
}

// FileSystem 基于本地文件系统读取源文件。
type FileSystem struct {
	bufSize int
	root    string // 绝对且已解析符号链接；空表示不限制
}

// New 创建 FileSystem Reader。Confine 开启但 Root 无法解析时返回错误。
func New(opts *Options) (*FileSystem, error) {
	const defaultBuf = 64 * 1024
	r := &FileSystem{bufSize: defaultBuf}
	if opts == nil {
		return r, nil
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	if opts.Confine {
		if strings.TrimSpace(opts.Root) == "" {
			return nil, fmt.Errorf("reader: confine requires root: %w", contract.ErrInvalidInput)
		}
		abs, err := filepath.Abs(opts.Root)
		if err != nil {
			return nil, err
		}
		abs, err = filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, err
		}
		r.root = abs
	}
	return r, nil
}

var _ contract.SourceReader = (*FileSystem)(nil)

// ReadSource 读取 path 的完整文本。仅接受常规文件（允许指向常规文件的符号链接）。
func (r *FileSystem) ReadSource(ctx context.Context, path string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if r.root != "" {
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return "", err
		}
		if !hasPathPrefix(real, r.root) {
			return "", fmt.Errorf("%w: %s is outside %s", contract.ErrPathInvalid, real, r.root)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", &os.PathError{Op: "read", Path: path, Err: errors.New("not a regular file")}
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	sb.Grow(int(info.Size()))
	if _, err := io.Copy(&sb, bufio.NewReaderSize(f, r.bufSize)); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func hasPathPrefix(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if path == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path, root)
}
