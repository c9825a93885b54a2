package inline

import (
	"strings"

	"luabundle/pkg/contract"
)

// 识别的行级宏标记（字面子串匹配，非结构化语法）。
// 顺序固定，保证剥离结果确定。
var markers = []struct {
	text  string
	macro contract.Macro
}{
	{"[abs_path]", contract.MacroAbsPath},
	{"[no_invoke]", contract.MacroNoInvoke},
}

// ExtractMacros 扫描行内宏标记，返回 行号→宏集合 的映射与修订后的行序列。
// 命中标记的行被替换为注释引导符之前的内容（去空白），标记文本本身被丢弃；
// 未命中的行原样透传。行数与顺序始终不变。
// 标记只作用于所在行：写在调用上一行的标记不会生效（Inliner 通过 OnStrayMacro 报告）。
func ExtractMacros(lines []string, comment string) (map[contract.LineIndex]contract.MacroSet, []string) {
	macros := make(map[contract.LineIndex]contract.MacroSet)
	out := make([]string, len(lines))
	for i, line := range lines {
		var set contract.MacroSet
		for _, m := range markers {
			if strings.Contains(line, m.text) {
				if set == nil {
					set = contract.MacroSet{}
				}
				set.Add(m.macro)
			}
		}
		if set == nil {
			out[i] = line
			continue
		}
		macros[contract.LineIndex(i)] = set
		stripped := line
		if comment != "" {
			stripped, _, _ = strings.Cut(stripped, comment)
		}
		// 无注释引导符时标记仍可能留在行内
		for _, m := range markers {
			stripped = strings.ReplaceAll(stripped, m.text, "")
		}
		out[i] = strings.TrimSpace(stripped)
	}
	return macros, out
}
