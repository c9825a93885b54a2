package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// 日志文件名前缀。
const logPrefix = "luabundle"

// RotatingFile 将日志行追加到 <dir>/luabundle-current.txt，超过 maxBytes 时
// 重命名为 luabundle-<UTC 时间戳>.txt 并重新创建当前文件。
type RotatingFile struct {
	dir      string
	maxBytes int64

	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewRotatingFile 创建轮转 sink；maxBytes<=0 为 10 MiB。文件在首次写入时打开。
func NewRotatingFile(dir string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes}
}

// CurrentPath 返回当前日志文件路径。
func (w *RotatingFile) CurrentPath() string {
	return filepath.Join(w.dir, logPrefix+"-current.txt")
}

func (w *RotatingFile) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.open(); err != nil {
		return err
	}
	n := int64(len(b) + 1)
	// 空文件不轮转，超长单行也要写得进去
	if w.size > 0 && w.size+n > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	written, err := w.f.Write(append(b, '\n'))
	w.size += int64(written)
	return err
}

func (w *RotatingFile) open() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.CurrentPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	// 纳秒时间戳避免同秒覆盖
	ts := time.Now().UTC().Format("20060102-150405.000000000")
	rotated := filepath.Join(w.dir, fmt.Sprintf("%s-%s.txt", logPrefix, ts))
	if err := os.Rename(w.CurrentPath(), rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename rotated file: %w", err)
	}
	return w.open()
}

// Close 关闭当前文件句柄；之后的写入会重新打开。
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
