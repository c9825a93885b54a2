package contract

import "context"

// SourceReader: 源文件读取抽象。
// 约束：
// 1) 按绝对路径读取完整文本，不做解码/清洗；
// 2) 目标不存在或不是常规文件时返回的错误应可被 errors.Is(err, fs.ErrNotExist) 识别；
// 3) 不在内部起并发。
type SourceReader interface {
	ReadSource(ctx context.Context, path string) (string, error)
}
