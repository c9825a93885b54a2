package inline

import (
	"strings"

	"luabundle/pkg/contract"
)

// Scanner 判定一行是否包含需要解析的 require 调用。
// 注释判定委托给可替换的 CommentDetector（默认位置启发式）。
type Scanner struct {
	Token    string
	Detector contract.CommentDetector
}

// Contains 报告行内是否出现 token 子串（不区分是否被注释）。
func (s Scanner) Contains(line string) bool {
	return s.Token != "" && strings.Contains(line, s.Token)
}

// Commented 报告该行的 token 出现是否被视为注释掉。
func (s Scanner) Commented(line string) bool {
	if s.Detector == nil {
		return false
	}
	return s.Detector.Commented(line, s.Token)
}

// IsCall 报告该行是否含有未注释的调用形式 token(。
// 仅出现 token 而无 '(' 紧随（例如同名局部变量）不算调用，原样透传。
func (s Scanner) IsCall(line string) bool {
	if !s.Contains(line) || s.Commented(line) {
		return false
	}
	return strings.Contains(line, s.Token+"(")
}
