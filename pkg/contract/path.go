package contract

import (
	"path"
	"strings"
)

// NormalizeModuleID 规范化路径，统一为跨平台稳定的 ModuleID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeModuleID(p string) ModuleID {
	return ModuleID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// RelModuleID 返回 abs 相对 root 的 ModuleID；abs 不在 root 之下时返回规范化的 abs。
func RelModuleID(root, abs string) ModuleID {
	r := string(NormalizeModuleID(root))
	a := string(NormalizeModuleID(abs))
	if r == "." || r == "" {
		return ModuleID(a)
	}
	if a == r {
		return "."
	}
	prefix := strings.TrimSuffix(r, "/") + "/"
	if strings.HasPrefix(a, prefix) {
		return ModuleID(strings.TrimPrefix(a, prefix))
	}
	return ModuleID(a)
}
