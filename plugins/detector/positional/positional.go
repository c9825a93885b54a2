package positional

import (
	"strings"

	"luabundle/pkg/contract"
)

// Options 为位置启发式注释判定的可选配置。
type Options struct {
	// Comment: 行注释引导符；默认 "--"（Lua）。
	Comment string `json:"comment"`
}

// Detector 以“注释引导符首次出现位置 < token 首次出现位置”判定注释。
// 这是刻意保留的近似：字符串字面量中的 "--" 会错误地抑制其后的调用。
type Detector struct {
	comment string
}

// New 创建 Detector。
func New(opts *Options) *Detector {
	c := "--"
	if opts != nil && strings.TrimSpace(opts.Comment) != "" {
		c = strings.TrimSpace(opts.Comment)
	}
	return &Detector{comment: c}
}

// Comment 返回使用的注释引导符。
func (d *Detector) Comment() string { return d.comment }

// Commented 实现 contract.CommentDetector。
func (d *Detector) Commented(line, token string) bool {
	cp := strings.Index(line, d.comment)
	tp := strings.Index(line, token)
	if cp < 0 || tp < 0 {
		return false
	}
	return cp < tp
}

var _ contract.CommentDetector = (*Detector)(nil)
