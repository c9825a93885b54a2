package testdata

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "luabundle/internal/config"
	"luabundle/internal/pipeline"
	"luabundle/pkg/contract"
	wws "luabundle/plugins/writer/websocket"
)

// copyProject 把 testdata/project 复制到临时目录，避免输出污染仓库。
func copyProject(t *testing.T) string {
	t.Helper()
	dst := t.TempDir()
	err := filepath.WalkDir("project", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel("project", p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, b, 0o644)
	})
	require.NoError(t, err)
	return dst
}

func golden(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("golden", "project.lua"))
	require.NoError(t, err)
	return strings.TrimRight(string(b), "\n")
}

func baseConfig(root string) cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Root = root
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config) (pipeline.Components, pipeline.Result, error) {
	t.Helper()
	require.NoError(t, cfgpkg.Validate(cfg))
	comp, set, err := cfgpkg.Assemble(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = comp.Close() })
	res, err := pipeline.Run(context.Background(), comp, set, nil)
	return comp, res, err
}

// 完整项目：绝对/相对/嵌套 require、注释跳过、分号注入、no_invoke、{{filename}}
func TestE2EGolden(t *testing.T) {
	root := copyProject(t)
	_, res, err := runPipeline(t, baseConfig(root))
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(root, "LuaBundler", "bundled.lua"))
	require.NoError(t, err)
	assert.Equal(t, golden(t), string(b))
	assert.Equal(t, len(b), res.Bytes)
	assert.Equal(t, 5, res.Stats.Modules)
	assert.Equal(t, 6, res.Stats.Files)
	assert.Equal(t, 2, res.Stats.MaxDepth)
}

// 部署：fs 工作区副本 + websocket 推送到已连接客户端
func TestE2EDeploy(t *testing.T) {
	root := copyProject(t)
	workspace := t.TempDir()
	cfg := baseConfig(root)
	cfg.Deploy = []cfgpkg.Deploy{
		{Name: "workspace", Writer: "fs", Options: json.RawMessage(`{"dir":` + quote(workspace) + `,"flat":true}`)},
		{Name: "executor", Writer: "websocket", Options: json.RawMessage(`{"addr":"127.0.0.1:0"}`)},
	}
	cfg.DeployLimits = cfgpkg.Limits{RPM: 60, BPM: 1 << 20}

	require.NoError(t, cfgpkg.Validate(cfg))
	comp, set, err := cfgpkg.Assemble(cfg)
	require.NoError(t, err)
	defer comp.Close()

	hub, ok := comp.Deploy[1].Writer.(*wws.Hub)
	require.True(t, ok)
	conn, _, err := gws.DefaultDialer.Dial(hub.URL(), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	res, err := pipeline.Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"workspace", "executor"}, res.Deployed)

	b, err := os.ReadFile(filepath.Join(workspace, "bundled.lua"))
	require.NoError(t, err)
	assert.Equal(t, golden(t), string(b))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "bundle", msg.Type)
	assert.Equal(t, "LuaBundler/bundled.lua", msg.Name)
	assert.Equal(t, golden(t), msg.Source)
}

// 格式化：外部命令改写主输出后，部署收到的是格式化后的字节
func TestE2EFormatThenDeploy(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script formatter")
	}
	root := copyProject(t)
	script := filepath.Join(t.TempDir(), "darklua")
	// darklua process <in> <out> --format <mode>
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nprintf -- '-- formatted %s' \"$5\" > \"$3\"\n"), 0o755))
	workspace := t.TempDir()

	cfg := baseConfig(root)
	cfg.Minify = cfgpkg.Flag(true)
	cfg.Options.Formatter = json.RawMessage(`{"command":` + quote(script) + `}`)
	cfg.Deploy = []cfgpkg.Deploy{
		{Name: "workspace", Writer: "fs", Artifact: "out.lua", Options: json.RawMessage(`{"dir":` + quote(workspace) + `}`)},
	}
	_, _, err := runPipeline(t, cfg)
	require.NoError(t, err)

	out, err := os.ReadFile(filepath.Join(root, "LuaBundler", "bundled.lua"))
	require.NoError(t, err)
	assert.Equal(t, "-- formatted dense", string(out))
	copied, err := os.ReadFile(filepath.Join(workspace, "out.lua"))
	require.NoError(t, err)
	assert.Equal(t, string(out), string(copied))
}

// 缺失模块：整次失败，不写出主输出
func TestE2EMissingModule(t *testing.T) {
	root := copyProject(t)
	require.NoError(t, os.Remove(filepath.Join(root, "util", "format.lua")))
	_, _, err := runPipeline(t, baseConfig(root))
	require.ErrorIs(t, err, contract.ErrModuleNotFound)
	assert.Contains(t, err.Error(), filepath.Join(root, "util", "format.lua"))
	assert.NoFileExists(t, filepath.Join(root, "LuaBundler", "bundled.lua"))
}

// 成环：错误给出完整链路
func TestE2ECycle(t *testing.T) {
	root := copyProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "util", "side.lua"), []byte("loadmodule(\"@main.lua\")"), 0o644))
	_, _, err := runPipeline(t, baseConfig(root))
	require.ErrorIs(t, err, contract.ErrCyclicRequire)
	assert.Contains(t, err.Error(), "main.lua -> util/side.lua -> main.lua")
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
