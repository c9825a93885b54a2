package darklua

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"luabundle/pkg/contract"
)

// Options: darklua 外部命令配置。
type Options struct {
	// Command: 可执行文件名或路径，缺省 "darklua"。
	Command string `json:"command,omitempty"`
	// Config: 传给 --config 的规则文件（可选）。
	Config string `json:"config,omitempty"`
	// TimeoutMs: 单次处理超时；<=0 为 60s。
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// Formatter 调用 `darklua process <in> <out> --format <mode>` 原地重写输出文件。
type Formatter struct {
	cmd     string
	config  string
	timeout time.Duration
}

var _ contract.Formatter = (*Formatter)(nil)

// New 创建 darklua 格式化器；不检查命令是否存在（首次 Format 时报告）。
func New(opts *Options) *Formatter {
	f := &Formatter{cmd: "darklua", timeout: 60 * time.Second}
	if opts == nil {
		return f
	}
	if c := strings.TrimSpace(opts.Command); c != "" {
		f.cmd = c
	}
	f.config = strings.TrimSpace(opts.Config)
	if opts.TimeoutMs > 0 {
		f.timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	return f
}

// Args 返回一次处理的命令行参数。
func (f *Formatter) Args(path string, mode contract.StyleMode) []string {
	args := []string{"process", path, path, "--format", string(mode)}
	if f.config != "" {
		args = append(args, "--config", f.config)
	}
	return args
}

// Format 以 mode 重写 path；StyleNone 为空操作。
func (f *Formatter) Format(ctx context.Context, path string, mode contract.StyleMode) error {
	switch mode {
	case contract.StyleNone:
		return nil
	case contract.StyleDense, contract.StyleReadable:
	default:
		return fmt.Errorf("%w: unknown style %q", contract.ErrInvalidInput, mode)
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.cmd, f.Args(path, mode)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("darklua %s: %w", mode, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("darklua %s %s: %w", mode, path, err)
		}
		return fmt.Errorf("darklua %s %s: %w: %s", mode, path, err, msg)
	}
	return nil
}
