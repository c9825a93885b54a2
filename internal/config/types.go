package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// RequireFunction: 触发内联的 require 函数名。
	RequireFunction string `json:"require_function"`
	EntryFile       string `json:"entry_file"`
	OutputFile      string `json:"output_file"`
	// Root: 项目根；空则为当前工作目录。
	Root string `json:"root,omitempty"`
	// Minify/Beautify: nil 表示未设置，以便 Merge 区分“未覆盖”和“显式 false”。
	Minify   *bool `json:"minify,omitempty"`
	Beautify *bool `json:"beautify,omitempty"`
	// CacheSize: 单次打包的源文本缓存条目数（0 使用默认）。
	CacheSize int     `json:"cache_size,omitempty"`
	Logging   Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`

	// Deploy: 主输出完成后的复制目标。
	Deploy []Deploy `json:"deploy,omitempty"`
	// DeployLimits: 未单独配置 limits 的部署目标所用的默认限额。
	DeployLimits Limits `json:"deploy_limits"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader    string `json:"reader"`
	Detector  string `json:"detector"`
	Assembler string `json:"assembler"`
	Writer    string `json:"writer"`
	Formatter string `json:"formatter"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader    json.RawMessage `json:"reader,omitempty"`
	Detector  json.RawMessage `json:"detector,omitempty"`
	Assembler json.RawMessage `json:"assembler,omitempty"`
	Writer    json.RawMessage `json:"writer,omitempty"`
	Formatter json.RawMessage `json:"formatter,omitempty"`
}

// Deploy: 命名部署目标（writer 实现 + options + 限额）。
type Deploy struct {
	Name   string `json:"name"`
	Writer string `json:"writer"`
	// Artifact: 目标内的工件名；空则沿用 output_file。
	Artifact string          `json:"artifact,omitempty"`
	Options  json.RawMessage `json:"options,omitempty"`
	Limits   *Limits         `json:"limits,omitempty"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM            int `json:"rpm"`
	BPM            int `json:"bpm"`
	MaxBytesPerReq int `json:"max_bytes_per_req"`
}

// Flag 返回指向 v 的指针，便于构造 Minify/Beautify。
func Flag(v bool) *bool { return &v }

func isSet(p *bool) bool { return p != nil && *p }
