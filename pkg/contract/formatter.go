package contract

import "context"

// Formatter: 输出后处理协作方（压缩/美化）。
// 唯一契约：接收文件路径，按风格原地重写。
type Formatter interface {
	Format(ctx context.Context, path string, mode StyleMode) error
}
