package inline

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"luabundle/pkg/contract"
)

// Resolve 计算 require 目标的绝对路径。
// 基准目录：调用带 '@' 或该行带 AbsPath 宏时为项目根，否则为当前文件所在目录。
// 目标不是已存在的常规文件时返回 ErrModuleNotFound；此时第一个返回值仍为尝试的路径，供诊断使用。
func Resolve(call contract.RequireCall, dir, root string, macros contract.MacroSet) (string, error) {
	base := dir
	if call.Absolute || macros.Has(contract.MacroAbsPath) {
		base = root
	}
	p := filepath.Join(base, filepath.FromSlash(call.Path))
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, contract.ErrModuleNotFound
		}
		return p, err
	}
	if !info.Mode().IsRegular() {
		return p, contract.ErrModuleNotFound
	}
	return p, nil
}
