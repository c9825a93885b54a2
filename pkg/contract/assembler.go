package contract

import (
	"context"
	"io"
)

// Assembler: 将入口文件完全内联后的文本装配为最终输出（例如加 banner）。
// 约束：完整物化后返回，不做流式/部分输出。
type Assembler interface {
	Assemble(ctx context.Context, entry ModuleID, body string) (io.Reader, error)
}
