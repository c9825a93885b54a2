package filesystem

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"luabundle/pkg/contract"
)

// Options: 文件系统输出/部署目标。
type Options struct {
	// Dir: 目标根目录（必需）。输出文件模式下为项目根，部署副本模式下为部署目录。
	Dir string `json:"dir"`
	// Atomic: 同目录临时文件 + rename。nil 视为 true。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 仅保留文件名（部署到执行器工作区时常用）。默认 false。
	Flat bool `json:"flat,omitempty"`
	// SkipUnchanged: 目标内容与待写内容一致时跳过写入，避免触发下游的文件监听。
	SkipUnchanged bool `json:"skip_unchanged,omitempty"`
	// PermFile/PermDir: 为 0 表示 0o644 / 0o755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 为 64KiB。
	BufSize int `json:"buf_size,omitempty"`
}

// FS 将工件写入本地目录。
type FS struct {
	root    string
	atomic  bool
	flat    bool
	skip    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Writer。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.Dir) == "" {
		return nil, contract.ErrInvalidInput
	}
	w := &FS{
		root:    filepath.Clean(opts.Dir),
		atomic:  true,
		flat:    opts.Flat,
		skip:    opts.SkipUnchanged,
		permF:   opts.PermFile,
		permD:   opts.PermDir,
		bufSize: opts.BufSize,
	}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if w.permF == 0 {
		w.permF = 0o644
	}
	if w.permD == 0 {
		w.permD = 0o755
	}
	if w.bufSize <= 0 {
		w.bufSize = 64 * 1024
	}
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// Root 返回目标根目录。
func (w *FS) Root() string { return w.root }

// Path 返回 id 映射到的目标文件路径（越界时 ErrPathInvalid）。
func (w *FS) Path(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if w.flat {
		rel = filepath.Base(rel)
	}
	switch {
	case rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator):
		return "", contract.ErrPathInvalid
	case filepath.IsAbs(rel) || filepath.VolumeName(rel) != "":
		return "", contract.ErrPathInvalid
	case strings.HasPrefix(rel, ".."+string(filepath.Separator)):
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// Write 将 r 的全部字节写入 id 对应的文件；父目录按需创建。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.Path(id)
	if err != nil {
		return err
	}
	if w.skip {
		data, err := io.ReadAll(readerWithCtx(ctx, r))
		if err != nil {
			return err
		}
		if same(dest, data) {
			return nil
		}
		r = bytes.NewReader(data)
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	if w.atomic {
		return w.writeAtomic(ctx, dest, r)
	}
	return w.writeInPlace(ctx, dest, r)
}

// same 报告 dest 是否已存在且内容等于 data。
func same(dest string, data []byte) bool {
	old, err := os.ReadFile(dest)
	if err != nil {
		return false
	}
	return bytes.Equal(old, data)
}

func (w *FS) writeInPlace(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) (err error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(dest)+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()
	_ = tmp.Chmod(w.permF)
	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err = io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	// Windows 上 os.Rename 以 MOVEFILE_REPLACE_EXISTING 覆盖既有目标
	if err = os.Rename(tmpPath, dest); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir 尽力持久化目录项；Windows 不支持目录 fsync。
func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}

// readerWithCtx: 每次 Read 前检查 ctx。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
