package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luabundle/pkg/contract"
)

// 轮转：超过上限后出现历史文件
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	defer w.Close()
	require.NoError(t, w.WriteLine([]byte("first line that is very long")))
	require.NoError(t, w.WriteLine([]byte("second")))

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	var current, rotated bool
	for _, e := range ents {
		switch {
		case e.Name() == "luabundle-current.txt":
			current = true
		case strings.HasPrefix(e.Name(), "luabundle-") && strings.HasSuffix(e.Name(), ".txt"):
			rotated = true
		}
	}
	assert.True(t, current)
	assert.True(t, rotated)

	b, err := os.ReadFile(w.CurrentPath())
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(b))
}

// 单行超过上限也能写入；空文件不轮转
func TestRotatingFileOversizedLine(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 4)
	defer w.Close()
	require.NoError(t, w.WriteLine([]byte("0123456789")))
	ents, _ := os.ReadDir(dir)
	assert.Len(t, ents, 1)
}

// Close 后再写会重新打开
func TestRotatingFileReopen(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 0)
	require.NoError(t, w.WriteLine([]byte("a")))
	require.NoError(t, w.Close())
	require.NoError(t, w.WriteLine([]byte("b")))
	require.NoError(t, w.Close())
	b, _ := os.ReadFile(filepath.Join(dir, "luabundle-current.txt"))
	assert.Equal(t, "a\nb\n", string(b))
}

func TestMetrics(t *testing.T) {
	ResetMetrics()
	IncOp("inline", "finish", "success")
	IncOp("inline", "finish", "success")
	IncError("inline", string(CodeNotFound))
	ObserveDuration("inline", "finish", 5)
	ObserveDuration("inline", "finish", 7)

	m := Snapshot()
	assert.Equal(t, int64(2), m.Ops["inline/finish/success"])
	assert.Equal(t, int64(1), m.Errors["inline/not_found"])
	assert.Equal(t, int64(12), m.DurMS["inline/finish"])

	// 快照与内部状态隔离
	m.Ops["inline/finish/success"] = 100
	assert.Equal(t, int64(2), Snapshot().Ops["inline/finish/success"])
}

func TestMetricsKV(t *testing.T) {
	m := Metrics{
		Ops:    map[string]int64{"deploy/finish/success": 3},
		Errors: map[string]int64{"deploy/budget": 1},
		DurMS:  map[string]int64{"pipeline/finish": 42},
	}
	assert.Equal(t, map[string]string{
		"op:deploy/finish/success": "3",
		"err:deploy/budget":        "1",
		"ms:pipeline/finish":       "42",
	}, m.KV())
	assert.Empty(t, Metrics{}.KV())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{context.Canceled, CodeCancel},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), CodeCancel},
		{&contract.ResolveError{File: "main.lua", Path: "/p/missing.lua", Err: contract.ErrModuleNotFound}, CodeNotFound},
		{fmt.Errorf("%w: main.lua", contract.ErrEntryNotFound), CodeNotFound},
		{&contract.ResolveError{File: "main.lua", Err: contract.ErrMalformedCall}, CodeMalformed},
		{fmt.Errorf("%w: a -> b -> a", contract.ErrCyclicRequire), CodeCycle},
		{contract.ErrBudgetExceeded, CodeBudget},
		{contract.ErrPathInvalid, CodeInvariant},
		{contract.ErrInvalidInput, CodeInvariant},
		{&exec.Error{Name: "darklua", Err: exec.ErrNotFound}, CodeTool},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{errors.New("other"), CodeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "%v", c.err)
	}
}

// 事件为单行 JSON，字段齐全
func TestLoggerEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo("corr", "debug", &buf)
	tm := l.StartWith("inline", "bundle", "main.lua")
	tm.Finish("ok", 3)
	l.Debug("inline", "module", "lib/a.lua", map[string]string{"depth": "1"})
	l.ErrorWith("inline", string(CodeNotFound), "missing", tm.Since(), "main.lua")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	var evs []Event
	for _, ln := range lines {
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(ln), &ev))
		evs = append(evs, ev)
	}
	assert.Equal(t, "start", evs[0].Stage)
	assert.Equal(t, "corr", evs[0].CorrID)
	assert.Equal(t, "main.lua", evs[0].FileID)
	assert.Equal(t, "finish", evs[1].Stage)
	assert.Equal(t, int64(3), evs[1].Count)
	assert.Equal(t, "debug", evs[2].Level)
	assert.Equal(t, "1", evs[2].KV["depth"])
	assert.Equal(t, "error", evs[3].Level)
	assert.Equal(t, "not_found", evs[3].Code)
}

// 级别过滤
func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo("c", "warn", &buf)
	l.Debug("x", "d", "", nil)
	l.Info("x", "i", nil)
	l.Start("x", "s").Finish("f", 0)
	assert.Empty(t, buf.String())
	l.Warn("deploy", "network", "w", nil)
	l.Error("x", "unknown", "e", nil)
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	assert.Equal(t, Warn, ParseLevel(" WARN "))
	assert.Equal(t, Info, ParseLevel("verbose"))
	assert.Equal(t, "info", Level(12345).String())

	var tnil *Timer
	tnil.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
	assert.Nil(t, tnil.Since())
}

// 文件 sink
func TestLoggerDir(t *testing.T) {
	dir := t.TempDir()
	l := NewLoggerDir("corr", "info", dir)
	l.Start("pipeline", "run").Finish("ok", 1)
	require.NoError(t, l.Close())
	b, err := os.ReadFile(filepath.Join(dir, "luabundle-current.txt"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(b), "\n"))
}

func TestNowUTC(t *testing.T) {
	_, err := time.Parse(time.RFC3339, NowUTC())
	assert.NoError(t, err)
}

// 非 TTY：关键节点分行输出，无回车
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	require.False(t, term.isTTY)

	term.RunStart("/proj/main.lua", "loadmodule")
	term.Module("lib/a.lua", 1)
	term.Module("lib/b.lua", 2)
	term.Deploy("workspace", nil)
	term.Deploy("s3", errors.New("dial tcp: refused"))
	term.RunFinish(true, "LuaBundler/bundled.lua", 1500*time.Millisecond)
	term.WatchReady()

	out := sb.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "[bundle] 入口=main.lua | require=loadmodule")
	assert.Contains(t, out, "[deploy] workspace | ok")
	assert.Contains(t, out, "[deploy] s3 | 失败: dial tcp: refused")
	assert.Contains(t, out, "[ok] main.lua -> LuaBundler/bundled.lua | 模块 2 | 深度 2 | 用时 1.5s")
	assert.Contains(t, out, "[watch] 第 1 次完成")
}

// TTY：进度节流与清尾
func TestTerminalTTYProgress(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart("main.lua", "loadmodule")

	term.Module("a/very/long/path/module_with_long_name.lua", 1)
	first := sb.String()
	assert.Contains(t, first, "\r[bundle] module_with_long_name.lua")

	term.Module("b.lua", 2)
	assert.Equal(t, first, sb.String(), "100ms 内应节流")

	time.Sleep(120 * time.Millisecond)
	term.Module("c.lua", 3)
	assert.Greater(t, len(sb.String()), len(first))

	term.RunFinish(false, "", 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	require.Greater(t, idx, 0)
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	require.GreaterOrEqual(t, cr, 0)
	assert.Contains(t, final, "[fail] main.lua | 模块 3 | 用时 2.2s")
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// 写失败后禁用
func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true)
	term.RunStart("main.lua", "x")
	assert.False(t, term.enabled)
	term.Module("a", 1)
	term.Deploy("d", nil)
	term.RunFinish(true, "out", 0)
	term.WatchReady()
}

func TestTerminalNilAndDisabled(t *testing.T) {
	var tn *Terminal
	tn.RunStart("a", "b")
	tn.Module("a", 1)
	tn.Deploy("a", nil)
	tn.RunFinish(true, "o", 0)
	tn.WatchReady()

	var sb strings.Builder
	off := NewTerminal(&sb, false)
	off.RunStart("a", "b")
	off.RunFinish(true, "o", 0)
	assert.Empty(t, sb.String())

	SetTerminal(nil)
	assert.Nil(t, GetTerminal())
	SetTerminal(off)
	assert.Same(t, off, GetTerminal())
	SetTerminal(nil)
}

func TestNewTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	assert.False(t, NewTerminal(os.Stderr, true).isTTY)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "", shortenBase("x", 0))
	s := shortenBase("/x/y/这是一个很长的文件名用于截断测试abcdefghijk.lua", 10)
	assert.Equal(t, 10, visLen(s))
	assert.True(t, strings.HasSuffix(s, "…"))
	assert.Equal(t, "a b c", safe("a\nb\rc"))
	assert.Equal(t, "0ms", formatDur(0))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))
}
