package banner

import (
	"context"
	"io"
	"strings"

	"luabundle/pkg/contract"
)

// DefaultBanner 输出首行标识。
const DefaultBanner = "-- Bundled with LuaBundle"

// Options: 头部横幅配置。
type Options struct {
	// Banner: 横幅文本；为空时使用 DefaultBanner。
	Banner string `json:"banner"`
	// Omit: 为 true 时不输出横幅与空行，仅保留正文。
	Omit bool `json:"omit"`
}

type assembler struct {
	head string
}

// New 创建横幅装配器；opts 为 nil 时使用默认横幅。
func New(opts *Options) contract.Assembler {
	a := &assembler{head: DefaultBanner + "\n\n"}
	if opts == nil {
		return a
	}
	switch {
	case opts.Omit:
		a.head = ""
	case strings.TrimSpace(opts.Banner) != "":
		a.head = strings.TrimRight(opts.Banner, "\r\n") + "\n\n"
	}
	return a
}

// Assemble 横幅 + 空行 + 正文；正文原样，不追加结尾换行。
func (a *assembler) Assemble(ctx context.Context, entry contract.ModuleID, body string) (io.Reader, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	var b strings.Builder
	b.Grow(len(a.head) + len(body))
	b.WriteString(a.head)
	b.WriteString(body)
	return strings.NewReader(b.String()), nil
}

var _ contract.Assembler = (*assembler)(nil)
