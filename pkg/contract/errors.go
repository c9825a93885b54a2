package contract

import (
	"errors"
	"fmt"
)

// 打包核心的最小错误分类；所有错误均不可恢复，出现即中止整次打包。
var (
	// ErrModuleNotFound: require 目标解析后的路径不是已存在的常规文件。
	ErrModuleNotFound = errors.New("module not found")
	// ErrEntryNotFound: 入口文件不存在。
	ErrEntryNotFound = errors.New("entry file not found")
	// ErrMalformedCall: 检测到未注释的 require 调用，但同一行缺少参数闭合 ')' 或路径为空。
	ErrMalformedCall = errors.New("malformed require call")
	// ErrCyclicRequire: 目标文件已在当前内联栈上（require 成环）。
	ErrCyclicRequire = errors.New("cyclic require")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvalidInput: 调用参数非法（通用哨兵）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrBudgetExceeded: 部署配额不足（单次字节数超过上限）。
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// ResolveError 携带出错的文件与行，用于向操作者输出唯一一行诊断。
type ResolveError struct {
	// File: 正在解析的文件（绝对路径）。
	File string
	// Line: 出错行在清洗后序列中的位置。
	Line LineIndex
	// Path: 尝试解析的目标路径（ModuleNotFound 时为绝对路径）。
	Path string
	Err  error
}

func (e *ResolveError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%v: %s (required from %s, line %d)", e.Err, e.Path, e.File, int(e.Line)+1)
	}
	return fmt.Sprintf("%v (in %s, line %d)", e.Err, e.File, int(e.Line)+1)
}

func (e *ResolveError) Unwrap() error { return e.Err }
