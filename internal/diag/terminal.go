package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Terminal: 终端信息提示（非日志）。
// TTY 下内联进度以 \r 单行覆盖；非 TTY 只在关键节点分行打印。
// 写失败后进入禁用态。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	entry    string
	token    string
	modules  int
	depth    int
	runStart time.Time
	runs     int

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端（nil 清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器；enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				t.isTTY = fi.Mode()&os.ModeCharDevice != 0
			}
		}
	}
	return t
}

// RunStart 一次打包开始。
func (t *Terminal) RunStart(entry, token string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.entry = shortenBase(entry, 48)
	t.token = token
	t.modules = 0
	t.depth = 0
	t.runStart = time.Now()
	t.runs++
	t.println(fmt.Sprintf("[bundle] 入口=%s | require=%s", t.entry, safe(token)))
}

// Module 每内联一个依赖调用一次（TTY 下 100ms 节流刷新）。
func (t *Terminal) Module(id string, depth int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.modules++
	if depth > t.depth {
		t.depth = depth
	}
	if !t.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[bundle] %s | 模块 %d | 深度 %d | 用时 %s",
		shortenBase(id, 48), t.modules, t.depth, formatSince(t.runStart)))
}

// Deploy 报告一个部署目标的结果。
func (t *Terminal) Deploy(name string, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.clearInline()
	if err != nil {
		t.println(fmt.Sprintf("[deploy] %s | 失败: %s", safe(name), safe(err.Error())))
		return
	}
	t.println(fmt.Sprintf("[deploy] %s | ok", safe(name)))
}

// RunFinish 一次打包结束。
func (t *Terminal) RunFinish(ok bool, output string, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.clearInline()
	if !ok {
		t.println(fmt.Sprintf("[fail] %s | 模块 %d | 用时 %s", t.entry, t.modules, formatDur(dur)))
		return
	}
	t.println(fmt.Sprintf("[ok] %s -> %s | 模块 %d | 深度 %d | 用时 %s",
		t.entry, output, t.modules, t.depth, formatDur(dur)))
}

// WatchReady 监听模式等待下一次触发。
func (t *Terminal) WatchReady() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.println(fmt.Sprintf("[watch] 第 %d 次完成；回车重新打包，Ctrl-C 退出", t.runs))
}

func (t *Terminal) clearInline() {
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
}

func (t *Terminal) println(s string) {
	if !t.enabled {
		return
	}
	if t.lastLen > 0 {
		s = "\n" + s
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

// printInline: \r + 内容，短于上一行时补空格覆盖残留。
func (t *Terminal) printInline(s string) {
	if !t.enabled {
		return
	}
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	line := "\r" + s + strings.Repeat(" ", pad)
	if s == "" {
		// 清行后回到行首
		line += "\r"
	}
	if _, err := io.WriteString(t.w, line); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if visLen(base) <= max {
		return base
	}
	rs := []rune(base)
	return string(rs[:max-1]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

// safe 去掉换行，避免污染终端。
func safe(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", max(d.Milliseconds(), 0))
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
