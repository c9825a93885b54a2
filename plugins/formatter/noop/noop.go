package noop

import (
	"context"

	"luabundle/pkg/contract"
)

// Formatter 不做任何处理（未安装 darklua 或只需原始输出时使用）。
type Formatter struct{}

var _ contract.Formatter = Formatter{}

func (Formatter) Format(ctx context.Context, path string, mode contract.StyleMode) error {
	return ctx.Err()
}
