package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix 所有环境变量键的前缀。
const EnvPrefix = "LUABUNDLE_"

// DefaultPath 默认配置文件位置（相对工作目录）。
const DefaultPath = "LuaBundler/config.json"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		RequireFunction: "loadmodule",
		EntryFile:       "main.lua",
		OutputFile:      "LuaBundler/bundled.lua",
		Minify:          Flag(false),
		Beautify:        Flag(false),
		Logging:         Logging{Level: "info"},
		Components: Components{
			Reader:    "fs",
			Detector:  "positional",
			Assembler: "banner",
			Writer:    "fs",
			Formatter: "darklua",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		if path != "" && len(raw) == 0 {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if s := strings.TrimSpace(over.RequireFunction); s != "" {
		out.RequireFunction = s
	}
	if s := strings.TrimSpace(over.EntryFile); s != "" {
		out.EntryFile = s
	}
	if s := strings.TrimSpace(over.OutputFile); s != "" {
		out.OutputFile = s
	}
	if s := strings.TrimSpace(over.Root); s != "" {
		out.Root = s
	}
	if over.Minify != nil {
		out.Minify = Flag(*over.Minify)
	}
	if over.Beautify != nil {
		out.Beautify = Flag(*over.Beautify)
	}
	if over.CacheSize != 0 {
		out.CacheSize = over.CacheSize
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Detector != "" {
		out.Components.Detector = over.Components.Detector
	}
	if over.Components.Assembler != "" {
		out.Components.Assembler = over.Components.Assembler
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.Formatter != "" {
		out.Components.Formatter = over.Components.Formatter
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Detector) > 0 {
		out.Options.Detector = cloneRaw(over.Options.Detector)
	}
	if len(over.Options.Assembler) > 0 {
		out.Options.Assembler = cloneRaw(over.Options.Assembler)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Formatter) > 0 {
		out.Options.Formatter = cloneRaw(over.Options.Formatter)
	}

	// 部署目标列表整体替换
	if len(over.Deploy) > 0 {
		out.Deploy = cloneDeploy(over.Deploy)
	}
	if over.DeployLimits.RPM != 0 {
		out.DeployLimits.RPM = over.DeployLimits.RPM
	}
	if over.DeployLimits.BPM != 0 {
		out.DeployLimits.BPM = over.DeployLimits.BPM
	}
	if over.DeployLimits.MaxBytesPerReq != 0 {
		out.DeployLimits.MaxBytesPerReq = over.DeployLimits.MaxBytesPerReq
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 LUABUNDLE_；集合之外的键忽略，值无法解析时报错。
// 支持：REQUIRE_FUNCTION, ENTRY_FILE, OUTPUT_FILE, ROOT, MINIFY, BEAUTIFY, CACHE_SIZE, LOG_LEVEL,
// COMPONENTS_*, OPTIONS_*_JSON, DEPLOY_JSON, DEPLOY_LIMITS_{RPM,BPM,MAX_BYTES_PER_REQ}
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[:eq]
		val := kv[eq+1:]
		tv := strings.TrimSpace(val)
		nk := strings.TrimPrefix(key, EnvPrefix)
		var err error
		switch nk {
		case "REQUIRE_FUNCTION":
			over.RequireFunction = tv
		case "ENTRY_FILE":
			over.EntryFile = tv
		case "OUTPUT_FILE":
			over.OutputFile = tv
		case "ROOT":
			over.Root = tv
		case "MINIFY":
			over.Minify, err = parseFlag(tv)
		case "BEAUTIFY":
			over.Beautify, err = parseFlag(tv)
		case "CACHE_SIZE":
			over.CacheSize, err = atoi(tv)
		case "LOG_LEVEL":
			over.Logging.Level = tv
		case "COMPONENTS_READER":
			over.Components.Reader = tv
		case "COMPONENTS_DETECTOR":
			over.Components.Detector = tv
		case "COMPONENTS_ASSEMBLER":
			over.Components.Assembler = tv
		case "COMPONENTS_WRITER":
			over.Components.Writer = tv
		case "COMPONENTS_FORMATTER":
			over.Components.Formatter = tv
		case "OPTIONS_READER_JSON":
			over.Options.Reader = rawOrNil(tv)
		case "OPTIONS_DETECTOR_JSON":
			over.Options.Detector = rawOrNil(tv)
		case "OPTIONS_ASSEMBLER_JSON":
			over.Options.Assembler = rawOrNil(tv)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = rawOrNil(tv)
		case "OPTIONS_FORMATTER_JSON":
			over.Options.Formatter = rawOrNil(tv)
		case "DEPLOY_JSON":
			// 空值视为未设置，避免清空 config.json 中的目标
			if tv != "" {
				dec := json.NewDecoder(strings.NewReader(tv))
				dec.DisallowUnknownFields()
				err = dec.Decode(&over.Deploy)
			}
		case "DEPLOY_LIMITS_RPM":
			over.DeployLimits.RPM, err = atoi(tv)
		case "DEPLOY_LIMITS_BPM":
			over.DeployLimits.BPM, err = atoi(tv)
		case "DEPLOY_LIMITS_MAX_BYTES_PER_REQ":
			over.DeployLimits.MaxBytesPerReq, err = atoi(tv)
		default:
			// CONFIG_FILE/CONFIG_JSON 由 CLI 处理；其余键忽略
		}
		if err != nil {
			return Config{}, fmt.Errorf("env %s: %w", key, err)
		}
	}
	return over, nil
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func cloneDeploy(in []Deploy) []Deploy {
	out := make([]Deploy, len(in))
	for i, d := range in {
		out[i] = d
		out[i].Options = cloneRaw(d.Options)
		if d.Limits != nil {
			l := *d.Limits
			out[i].Limits = &l
		}
	}
	return out
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func parseFlag(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
