package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"time"

	"luabundle/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNotFound  Code = "not_found"
	CodeMalformed Code = "malformed"
	CodeCycle     Code = "cycle"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
	CodeNetwork   Code = "network"
	CodeTool      Code = "tool"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrModuleNotFound), errors.Is(err, contract.ErrEntryNotFound):
		return CodeNotFound
	case errors.Is(err, contract.ErrMalformedCall):
		return CodeMalformed
	case errors.Is(err, contract.ErrCyclicRequire):
		return CodeCycle
	case errors.Is(err, contract.ErrBudgetExceeded):
		return CodeBudget
	case errors.Is(err, contract.ErrInvalidInput), errors.Is(err, contract.ErrPathInvalid):
		return CodeInvariant
	}
	// 外部格式化工具
	var eerr *exec.Error
	var xerr *exec.ExitError
	if errors.As(err, &eerr) || errors.As(err, &xerr) {
		return CodeTool
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
