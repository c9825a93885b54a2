package inline

import (
	"strings"

	"luabundle/pkg/contract"
)

// AbsSigil 路径字面量的保留前缀：强制该次调用相对项目根解析。
const AbsSigil = "@"

// ParseCall 从已确认含未注释调用的行中提取路径字面量与透传实参。
// 纯文本、单行、仅取首个匹配；不处理嵌套括号与跨行调用。
// 缺少闭合 ')' 或路径为空时返回 ErrMalformedCall。
func ParseCall(line, token string) (contract.RequireCall, error) {
	open := token + "("
	_, after, ok := strings.Cut(line, open)
	if !ok {
		return contract.RequireCall{}, contract.ErrMalformedCall
	}
	argText, _, ok := strings.Cut(after, ")")
	if !ok {
		return contract.RequireCall{}, contract.ErrMalformedCall
	}
	lit, args, _ := strings.Cut(argText, ",")

	lit = strings.TrimSpace(lit)
	lit = strings.Trim(lit, `"',`)
	lit = strings.Trim(lit, `"'`)

	call := contract.RequireCall{
		Line:     line,
		CallText: open + argText + ")",
		Args:     args,
	}
	if strings.HasPrefix(lit, AbsSigil) {
		lit = strings.TrimPrefix(lit, AbsSigil)
		call.Absolute = true
	}
	if lit == "" {
		return contract.RequireCall{}, contract.ErrMalformedCall
	}
	call.Path = lit
	return call, nil
}
