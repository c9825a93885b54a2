package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 入口 main.lua，输出 LuaBundler/bundled.lua，require 函数 loadmodule；
// - 不压缩不美化（无需安装 darklua 即可运行）；
// - 选项包含全部键，值为安全中性默认；
// - 部署列表为空，按需追加 fs/s3/websocket 目标。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "confine": false
}`)
	cfg.Options.Detector = json.RawMessage(`{
  "comment": "--"
}`)
	cfg.Options.Assembler = json.RawMessage(`{
  "banner": "-- Bundled with LuaBundle",
  "omit": false
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "dir": "",
  "atomic": true,
  "flat": false,
  "skip_unchanged": false
}`)
	cfg.Options.Formatter = json.RawMessage(`{
  "command": "darklua",
  "config": "",
  "timeout_ms": 30000
}`)
	return cfg
}

// Save 以缩进 JSON 写出 cfg；父目录不存在时创建。
func Save(path string, cfg Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
