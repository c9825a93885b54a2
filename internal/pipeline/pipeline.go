package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"luabundle/internal/diag"
	"luabundle/internal/inline"
	"luabundle/internal/rate"
	"luabundle/pkg/contract"
)

// - 单次运行同步、深度优先；失败即中止，主输出不落盘。
// - 主输出写出后才做格式化与部署；部署失败不回滚主输出。

// Components 聚合运行所需的组件。
type Components struct {
	Reader    contract.SourceReader
	Detector  contract.CommentDetector
	Assembler contract.Assembler
	// Writer 写主输出文件；格式化需要其实现 Locator。
	Writer    contract.Writer
	Formatter contract.Formatter
	Deploy    []Target
}

// Close 关闭实现了 io.Closer 的 Writer（主输出与部署目标），例如 websocket 监听。
func (c Components) Close() error {
	var errs []error
	closeIf := func(w contract.Writer) {
		if cl, ok := w.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	closeIf(c.Writer)
	for _, t := range c.Deploy {
		closeIf(t.Writer)
	}
	return errors.Join(errs...)
}

// Target 一个部署目标：最终输出字节原样交给 Writer。
type Target struct {
	Name     string
	Artifact contract.ArtifactID
	Writer   contract.Writer
}

// Locator 由写本地文件的 Writer 实现，返回工件在磁盘上的路径。
type Locator interface {
	Path(id contract.ArtifactID) (string, error)
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// Root 项目根（绝对路径）：'@' 与 [abs_path] 的解析基准。
	Root string
	// Entry 入口文件（相对 Root 或绝对路径）。
	Entry string
	// Output 主输出工件标识（相对 Writer 根）。
	Output contract.ArtifactID
	// Token require 函数名。
	Token string
	// Comment 行注释引导符（宏剥离用）。
	Comment string
	// Style 输出风格；StyleNone 不调用 Formatter。
	Style contract.StyleMode
	// CacheSize 单次运行的源文本缓存条目数。
	CacheSize int
	// Gate 部署限流（可选）；分组键为 Target.Name。
	Gate rate.Gate
}

// Result 一次运行的产出摘要。
type Result struct {
	Output   string // 主输出的磁盘路径（Writer 不支持 Locator 时为工件标识）
	Bytes    int
	Stats    inline.Stats
	Deployed []string
}

// DeployError 汇总部署失败；主输出已成功写出。
type DeployError struct {
	Failed map[string]error
	Err    error
}

func (e *DeployError) Error() string { return "deploy: " + e.Err.Error() }
func (e *DeployError) Unwrap() error { return e.Err }

// Run 执行 Inline → Assemble → Write → Format → Deploy。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Result, error) {
	var res Result
	if err := sanity(comp, set); err != nil {
		return res, fmt.Errorf("sanity: %w", err)
	}
	entry := set.Entry
	if !filepath.IsAbs(entry) {
		entry = filepath.Join(set.Root, filepath.FromSlash(entry))
	}
	entryID := contract.RelModuleID(set.Root, entry)
	runStart := time.Now()
	term := diag.GetTerminal()
	term.RunStart(string(entryID), set.Token)
	ok := false
	defer func() {
		term.RunFinish(ok, string(set.Output), time.Since(runStart))
		result := "error"
		if ok {
			result = "success"
		}
		diag.IncOp("pipeline", "finish", result)
		diag.ObserveDuration("pipeline", "finish", time.Since(runStart).Milliseconds())
		logger.Debug("pipeline", "metrics", "", diag.Snapshot().KV())
	}()

	// 内联
	itimer := logger.StartWithKV("inline", "inline", string(entryID), map[string]string{"token": set.Token})
	in, err := inline.New(comp.Reader, comp.Detector, inline.Options{
		Token:     set.Token,
		Root:      set.Root,
		Comment:   set.Comment,
		CacheSize: set.CacheSize,
		OnModule: func(id contract.ModuleID, depth int) {
			term.Module(string(id), depth)
			logger.Debug("inline", "module", string(id), map[string]string{"depth": strconv.Itoa(depth)})
		},
		OnStrayMacro: func(id contract.ModuleID, line contract.LineIndex) {
			logger.Warn("inline", string(diag.CodeMalformed), "macro on a line without call ignored",
				map[string]string{"file": string(id), "line": strconv.Itoa(int(line) + 1)})
		},
	})
	if err != nil {
		return res, fail(logger, "inline", "init failed", itimer, string(entryID), err)
	}
	body, st, err := in.Inline(ctx, entry)
	res.Stats = st
	if err != nil {
		return res, fail(logger, "inline", "inline failed", itimer, string(entryID), err)
	}
	itimer.Finish("inline", int64(st.Modules))
	diag.IncOp("inline", "finish", "success")

	// 装配
	atimer := logger.StartWith("assembler", "assemble", string(entryID))
	r, err := comp.Assembler.Assemble(ctx, entryID, body)
	if err != nil {
		return res, fail(logger, "assembler", "assemble failed", atimer, string(entryID), err)
	}
	final, err := io.ReadAll(r)
	if err != nil {
		return res, fail(logger, "assembler", "assemble failed", atimer, string(entryID), err)
	}
	atimer.Finish("assemble", int64(len(final)))
	diag.IncOp("assembler", "finish", "success")

	// 写主输出
	out := string(set.Output)
	wtimer := logger.StartWith("writer", "write", out)
	if err := comp.Writer.Write(ctx, set.Output, bytes.NewReader(final)); err != nil {
		return res, fail(logger, "writer", "write failed", wtimer, out, err)
	}
	path := out
	if loc, ok := comp.Writer.(Locator); ok {
		if p, err := loc.Path(set.Output); err == nil {
			path = p
		}
	}
	res.Output = path
	wtimer.Finish("write", int64(len(final)))
	diag.IncOp("writer", "finish", "success")

	// 格式化后回读，部署的是格式化后的字节
	if set.Style != contract.StyleNone {
		ftimer := logger.StartWithKV("formatter", "format", out, map[string]string{"style": string(set.Style)})
		if _, ok := comp.Writer.(Locator); !ok {
			return res, fail(logger, "formatter", "format failed", ftimer, out,
				fmt.Errorf("%w: writer cannot locate %s on disk", contract.ErrInvalidInput, out))
		}
		if err := comp.Formatter.Format(ctx, path, set.Style); err != nil {
			return res, fail(logger, "formatter", "format failed", ftimer, out, err)
		}
		text, err := comp.Reader.ReadSource(ctx, path)
		if err != nil {
			return res, fail(logger, "formatter", "read back failed", ftimer, out, err)
		}
		final = []byte(text)
		ftimer.Finish("format", int64(len(final)))
		diag.IncOp("formatter", "finish", "success")
	}
	res.Bytes = len(final)

	// 部署：逐个目标，失败不影响其余目标
	failed := map[string]error{}
	var errs []error
	for _, t := range comp.Deploy {
		art := t.Artifact
		if art == "" {
			art = set.Output
		}
		dtimer := logger.StartWith("deploy", t.Name, string(art))
		w := rate.Limit(t.Writer, set.Gate, rate.LimitKey(t.Name))
		err := w.Write(ctx, art, bytes.NewReader(final))
		term.Deploy(t.Name, err)
		if err != nil {
			_ = fail(logger, "deploy", t.Name+" failed", dtimer, string(art), err)
			failed[t.Name] = err
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		dtimer.Finish(t.Name, int64(len(final)))
		if set.Gate != nil {
			reqs, byts := set.Gate.Available(rate.LimitKey(t.Name))
			logger.Debug("deploy", "budget", t.Name, map[string]string{
				"requests": strconv.Itoa(reqs),
				"bytes":    strconv.Itoa(byts),
			})
		}
		diag.IncOp("deploy", "finish", "success")
		res.Deployed = append(res.Deployed, t.Name)
	}
	if len(errs) > 0 {
		return res, &DeployError{Failed: failed, Err: errors.Join(errs...)}
	}

	ok = true
	logger.InfoFinish("pipeline", "run", runStart, int64(st.Modules))
	return res, nil
}

// fail 记录错误事件与计数并原样返回 err（加阶段前缀）。
func fail(logger *diag.Logger, comp, msg string, t *diag.Timer, fileID string, err error) error {
	code := diag.Classify(err)
	logger.ErrorWithKV(comp, string(code), msg, t.Since(), fileID, map[string]string{"err": err.Error()})
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	return fmt.Errorf("%s: %w", comp, err)
}

func sanity(comp Components, set Settings) error {
	if comp.Reader == nil || comp.Detector == nil || comp.Assembler == nil || comp.Writer == nil {
		return contract.ErrInvalidInput
	}
	if set.Style != contract.StyleNone && comp.Formatter == nil {
		return fmt.Errorf("%w: style %q requires a formatter", contract.ErrInvalidInput, set.Style)
	}
	if set.Root == "" || !filepath.IsAbs(set.Root) {
		return fmt.Errorf("%w: root must be absolute", contract.ErrInvalidInput)
	}
	if set.Entry == "" || set.Output == "" || set.Token == "" {
		return fmt.Errorf("%w: entry, output and token are required", contract.ErrInvalidInput)
	}
	for _, t := range comp.Deploy {
		if t.Writer == nil || t.Name == "" {
			return fmt.Errorf("%w: deploy target %q incomplete", contract.ErrInvalidInput, t.Name)
		}
	}
	return nil
}
