package inline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"luabundle/pkg/contract"
)

// Options 为 Inliner 的最小必要配置。
type Options struct {
	// Token: require 函数名（例如 "loadmodule"）。
	Token string
	// Root: 项目根目录（绝对路径），'@' 与 AbsPath 宏的解析基准。
	Root string
	// Comment: 行注释引导符，用于宏剥离；空则使用 "--"。
	Comment string
	// CacheSize: 单次打包内源文本缓存的条目上限；<=0 使用默认 256。
	CacheSize int
	// OnModule: 每次进入一个依赖文件时回调（进度提示用，可为 nil）。
	OnModule func(id contract.ModuleID, depth int)
	// OnStrayMacro: 宏标记所在行没有调用时回调（标记只作用于本行，可为 nil）。
	OnStrayMacro func(id contract.ModuleID, line contract.LineIndex)
}

// Stats 汇总一次内联的规模。
type Stats struct {
	// Modules: 被内联的 require 调用数（同一文件多处 require 各计一次）。
	Modules int
	// Files: 不同文件数（含入口）。
	Files int
	// Reads: 实际经 SourceReader 读取的次数（缓存命中不计）。
	Reads int
	// MaxDepth: 最大内联深度（入口为 0）。
	MaxDepth int
}

// Inliner 以显式工作栈执行递归内联：深度只受堆大小限制，不依赖调用栈。
type Inliner struct {
	reader  contract.SourceReader
	scanner Scanner
	root    string
	comment string
	cache   int
	onMod   func(contract.ModuleID, int)
	onStray func(contract.ModuleID, contract.LineIndex)
}

// New 创建 Inliner。
func New(reader contract.SourceReader, detector contract.CommentDetector, opts Options) (*Inliner, error) {
	if reader == nil || detector == nil {
		return nil, contract.ErrInvalidInput
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("%w: empty require token", contract.ErrInvalidInput)
	}
	if opts.Root == "" || !filepath.IsAbs(opts.Root) {
		return nil, fmt.Errorf("%w: root must be absolute, got %q", contract.ErrInvalidInput, opts.Root)
	}
	c := opts.Comment
	if c == "" {
		c = "--"
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 256
	}
	return &Inliner{
		reader:  reader,
		scanner: Scanner{Token: opts.Token, Detector: detector},
		root:    filepath.Clean(opts.Root),
		comment: c,
		cache:   size,
		onMod:   opts.OnModule,
		onStray: opts.OnStrayMacro,
	}, nil
}

// frame: 一个待完成的文件解析帧。
type frame struct {
	file   *contract.SourceFile
	key    string // 规范路径（环检测键）
	macros map[contract.LineIndex]contract.MacroSet
	next   int
	out    []string
	// 等待子帧结果的调用
	pending  *contract.RequireCall
	noInvoke bool
}

// run: 单次 Inline 的可变状态；不跨次保留。
type run struct {
	in      *Inliner
	cache   *lru.Cache[string, string]
	onStack map[string]struct{}
	seen    map[string]struct{}
	stats   Stats
}

// Inline 从入口文件开始深度优先内联全部依赖，返回入口文件完全展开后的文本。
// 任何解析失败立即中止并返回错误，不产生部分结果。
func (in *Inliner) Inline(ctx context.Context, entry string) (string, Stats, error) {
	entry = filepath.Clean(entry)
	if !filepath.IsAbs(entry) {
		entry = filepath.Join(in.root, entry)
	}
	info, err := os.Stat(entry)
	if err != nil || !info.Mode().IsRegular() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", Stats{}, err
		}
		return "", Stats{}, fmt.Errorf("%w: %s", contract.ErrEntryNotFound, entry)
	}

	cache, err := lru.New[string, string](in.cache)
	if err != nil {
		return "", Stats{}, err
	}
	r := &run{in: in, cache: cache, onStack: map[string]struct{}{}, seen: map[string]struct{}{}}

	top, err := r.load(ctx, entry)
	if err != nil {
		return "", r.stats, err
	}
	stack := []*frame{top}
	r.onStack[top.key] = struct{}{}

	for {
		if err := ctx.Err(); err != nil {
			return "", r.stats, err
		}
		cur := stack[len(stack)-1]
		child, err := r.advance(ctx, cur, stack)
		if err != nil {
			return "", r.stats, err
		}
		if child != nil {
			stack = append(stack, child)
			r.onStack[child.key] = struct{}{}
			if d := len(stack) - 1; d > r.stats.MaxDepth {
				r.stats.MaxDepth = d
			}
			r.stats.Modules++
			if in.onMod != nil {
				in.onMod(contract.RelModuleID(in.root, child.file.Path), len(stack)-1)
			}
			continue
		}

		// 当前帧完成：出栈并拼回父帧调用点
		body := strings.Join(cur.out, "\n")
		stack = stack[:len(stack)-1]
		delete(r.onStack, cur.key)
		if len(stack) == 0 {
			return body, r.stats, nil
		}
		stack[len(stack)-1].splice(body)
	}
}

// load 读取并预处理一个文件，返回新帧。
func (r *run) load(ctx context.Context, path string) (*frame, error) {
	key := canonical(path)
	text, ok := r.cache.Get(key)
	if !ok {
		t, err := r.in.reader.ReadSource(ctx, path)
		if err != nil {
			return nil, err
		}
		r.stats.Reads++
		r.cache.Add(key, t)
		text = t
	}
	if _, ok := r.seen[key]; !ok {
		r.seen[key] = struct{}{}
		r.stats.Files++
	}
	name := filepath.Base(path)
	lines := Preprocess(text, name)
	macros, lines := ExtractMacros(lines, r.in.comment)
	return &frame{
		file: &contract.SourceFile{
			Path:  path,
			Dir:   filepath.Dir(path),
			Name:  name,
			Text:  text,
			Lines: lines,
		},
		key:    key,
		macros: macros,
		out:    make([]string, 0, len(lines)),
	}, nil
}

// advance 推进帧 f 直到遇到需要内联的调用（返回子帧）或文件结束（返回 nil）。
func (r *run) advance(ctx context.Context, f *frame, stack []*frame) (*frame, error) {
	lines := f.file.Lines
	for f.next < len(lines) {
		i := f.next
		line := lines[i]
		if !r.in.scanner.IsCall(line) {
			if line != "" {
				f.out = append(f.out, line)
			}
			if _, stray := f.macros[contract.LineIndex(i)]; stray && r.in.onStray != nil {
				r.in.onStray(contract.RelModuleID(r.in.root, f.file.Path), contract.LineIndex(i))
			}
			f.next++
			continue
		}

		idx := contract.LineIndex(i)
		call, err := ParseCall(line, r.in.scanner.Token)
		if err != nil {
			return nil, &contract.ResolveError{File: f.file.Path, Line: idx, Err: err}
		}
		call.Index = idx
		call.Semicolon = endsWithCall(lines, i) && !strings.Contains(line, "=")

		set := f.macros[idx]
		target, err := Resolve(call, f.file.Dir, r.in.root, set)
		if err != nil {
			return nil, &contract.ResolveError{File: f.file.Path, Line: idx, Path: target, Err: err}
		}
		key := canonical(target)
		if _, cyc := r.onStack[key]; cyc {
			return nil, &contract.ResolveError{
				File: f.file.Path,
				Line: idx,
				Path: target,
				Err:  fmt.Errorf("%w: %s", contract.ErrCyclicRequire, r.chain(stack, target)),
			}
		}

		child, err := r.load(ctx, target)
		if err != nil {
			return nil, &contract.ResolveError{File: f.file.Path, Line: idx, Path: target, Err: err}
		}
		f.pending = &call
		f.noInvoke = set.Has(contract.MacroNoInvoke)
		f.next++
		return child, nil
	}
	return nil, nil
}

// endsWithCall 判断第 i 行之前最近的非空行是否以 ')' 结尾。
// 宏剥离后留下的空行不会输出，因此不参与判断。
func endsWithCall(lines []string, i int) bool {
	j := i - 1
	for j >= 0 && strings.TrimSpace(lines[j]) == "" {
		j--
	}
	return j >= 0 && strings.HasSuffix(strings.TrimSpace(lines[j]), ")")
}

// splice 用子帧文本构造包装并替换调用点。
func (f *frame) splice(body string) {
	call := f.pending
	f.pending = nil
	var b strings.Builder
	if call.Semicolon {
		b.WriteByte(';')
	}
	b.WriteString("(function(...) ")
	b.WriteString(body)
	b.WriteString(" end)")
	if !f.noInvoke {
		b.WriteString("(")
		b.WriteString(call.Args)
		b.WriteString(")")
	}
	f.out = append(f.out, strings.Replace(call.Line, call.CallText, b.String(), 1))
	f.noInvoke = false
}

// chain 渲染 “a.lua -> b.lua -> a.lua” 形式的环路径。
func (r *run) chain(stack []*frame, target string) string {
	parts := make([]string, 0, len(stack)+1)
	for _, f := range stack {
		parts = append(parts, string(contract.RelModuleID(r.in.root, f.file.Path)))
	}
	parts = append(parts, string(contract.RelModuleID(r.in.root, target)))
	return strings.Join(parts, " -> ")
}

// canonical 返回用于去重/环检测的规范路径；符号链接解析失败时退化为 Clean 结果。
func canonical(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real
	}
	return filepath.Clean(p)
}
