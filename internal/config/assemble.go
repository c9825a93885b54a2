package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"luabundle/internal/pipeline"
	"luabundle/internal/rate"
	"luabundle/pkg/contract"
	"luabundle/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	tok := strings.TrimSpace(cfg.RequireFunction)
	if tok == "" {
		return errors.New("config: require_function empty")
	}
	if strings.ContainsAny(tok, " \t()\"'") {
		return fmt.Errorf("config: require_function %q must be a bare function name", tok)
	}
	if strings.TrimSpace(cfg.EntryFile) == "" {
		return errors.New("config: entry_file empty")
	}
	if strings.TrimSpace(cfg.OutputFile) == "" {
		return errors.New("config: output_file empty")
	}
	if !filepath.IsAbs(cfg.OutputFile) && escapes(cfg.OutputFile) {
		return fmt.Errorf("config: output_file %q escapes the project root", cfg.OutputFile)
	}
	if cfg.CacheSize < 0 {
		return errors.New("config: cache_size must be >= 0")
	}
	if err := checkLimits("deploy_limits", cfg.DeployLimits); err != nil {
		return err
	}

	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Detector, d.Components.Detector); registry.Detector[name] == nil {
		return fmt.Errorf("config: detector %q not registered", name)
	}
	if name := effName(cfg.Components.Assembler, d.Components.Assembler); registry.Assembler[name] == nil {
		return fmt.Errorf("config: assembler %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if name := effName(cfg.Components.Formatter, d.Components.Formatter); registry.Formatter[name] == nil {
		return fmt.Errorf("config: formatter %q not registered", name)
	}

	seen := map[string]bool{}
	for i, t := range cfg.Deploy {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("config: deploy[%d] missing name", i)
		}
		if seen[name] {
			return fmt.Errorf("config: deploy %q defined twice", name)
		}
		seen[name] = true
		if registry.Writer[t.Writer] == nil {
			return fmt.Errorf("config: deploy %q writer %q not registered", name, t.Writer)
		}
		if t.Artifact != "" && (filepath.IsAbs(t.Artifact) || escapes(t.Artifact)) {
			return fmt.Errorf("config: deploy %q artifact %q must stay inside the target", name, t.Artifact)
		}
		if t.Limits != nil {
			if err := checkLimits("deploy "+name+" limits", *t.Limits); err != nil {
				return err
			}
		}
	}
	return nil
}

// Style 返回有效输出风格：beautify 优先于 minify。
func (c Config) Style() contract.StyleMode {
	switch {
	case isSet(c.Beautify):
		return contract.StyleReadable
	case isSet(c.Minify):
		return contract.StyleDense
	default:
		return contract.StyleNone
	}
}

// Assemble 构造 Components 与 Settings（含部署限流 Gate）。
// 严格 Options 解析在 registry （工厂）层进行；此处只补齐与项目根相关的默认键。
// 失败时已构造的部署目标会被关闭。
func Assemble(cfg Config) (comp pipeline.Components, set pipeline.Settings, err error) {
	if err := Validate(cfg); err != nil {
		return comp, set, err
	}
	root, err := resolveRoot(cfg.Root)
	if err != nil {
		return comp, set, err
	}
	defer func() {
		if err != nil {
			_ = comp.Close()
			comp = pipeline.Components{}
		}
	}()

	// 有效名称
	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	dn := effName(cfg.Components.Detector, d.Components.Detector)
	an := effName(cfg.Components.Assembler, d.Components.Assembler)
	wn := effName(cfg.Components.Writer, d.Components.Writer)
	fn := effName(cfg.Components.Formatter, d.Components.Formatter)

	// 主输出：绝对路径拆成目录与基名
	out := cfg.OutputFile
	outDir := root
	if filepath.IsAbs(out) {
		outDir, out = filepath.Dir(out), filepath.Base(out)
	}

	ropts := cfg.Options.Reader
	if rn == "fs" {
		if ropts, err = withDefault(ropts, "root", root); err != nil {
			return comp, set, fmt.Errorf("config: options.reader: %w", err)
		}
	}
	wopts := cfg.Options.Writer
	if wn == "fs" {
		if wopts, err = rootedDir(wopts, outDir, false); err != nil {
			return comp, set, fmt.Errorf("config: options.writer: %w", err)
		}
	}

	// 构造实例
	if comp.Reader, err = registry.Reader[rn](ropts); err != nil {
		return comp, set, fmt.Errorf("config: reader %q: %w", rn, err)
	}
	if comp.Detector, err = registry.Detector[dn](cfg.Options.Detector); err != nil {
		return comp, set, fmt.Errorf("config: detector %q: %w", dn, err)
	}
	if comp.Assembler, err = registry.Assembler[an](cfg.Options.Assembler); err != nil {
		return comp, set, fmt.Errorf("config: assembler %q: %w", an, err)
	}
	if comp.Writer, err = registry.Writer[wn](wopts); err != nil {
		return comp, set, fmt.Errorf("config: writer %q: %w", wn, err)
	}
	if comp.Formatter, err = registry.Formatter[fn](cfg.Options.Formatter); err != nil {
		return comp, set, fmt.Errorf("config: formatter %q: %w", fn, err)
	}

	// 部署目标与限流（分组键为目标名）
	gmap := map[rate.LimitKey]rate.Limits{}
	for _, t := range cfg.Deploy {
		name := strings.TrimSpace(t.Name)
		opts := t.Options
		if t.Writer == "fs" {
			if opts, err = rootedDir(opts, root, true); err != nil {
				return comp, set, fmt.Errorf("config: deploy %q: %w", name, err)
			}
		}
		w, err := registry.Writer[t.Writer](opts)
		if err != nil {
			return comp, set, fmt.Errorf("config: deploy %q: %w", name, err)
		}
		comp.Deploy = append(comp.Deploy, pipeline.Target{
			Name:     name,
			Artifact: artifact(t.Artifact),
			Writer:   w,
		})
		lim := cfg.DeployLimits
		if t.Limits != nil {
			lim = *t.Limits
		}
		if l := toRate(lim); l.Enabled() {
			gmap[rate.LimitKey(name)] = l
		}
	}

	set = pipeline.Settings{
		Root:      root,
		Entry:     filepath.FromSlash(strings.TrimSpace(cfg.EntryFile)),
		Output:    contract.NormalizeModuleID(out),
		Token:     strings.TrimSpace(cfg.RequireFunction),
		Style:     cfg.Style(),
		CacheSize: cfg.CacheSize,
	}
	if c, ok := comp.Detector.(interface{ Comment() string }); ok {
		set.Comment = c.Comment()
	}
	if len(gmap) > 0 {
		set.Gate = rate.NewGate(gmap, nil)
	}
	return comp, set, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return wd, nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("config: root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("config: root %q is not a directory", abs)
	}
	return abs, nil
}

// escapes 报告相对路径清理后是否跳出所在目录。
func escapes(p string) bool {
	c := filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
	return c == ".." || strings.HasPrefix(c, "../")
}

func artifact(s string) contract.ArtifactID {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return contract.NormalizeModuleID(s)
}

func checkLimits(what string, l Limits) error {
	if l.RPM < 0 || l.BPM < 0 || l.MaxBytesPerReq < 0 {
		return fmt.Errorf("config: %s must be >= 0", what)
	}
	return nil
}

func toRate(l Limits) rate.Limits {
	return rate.Limits{RPM: l.RPM, BPM: l.BPM, MaxBytesPerReq: l.MaxBytesPerReq}
}

// withDefault 在 JSON 对象中补齐缺失的键，已有键保持原样。
func withDefault(raw json.RawMessage, key string, val any) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if m == nil {
			m = map[string]json.RawMessage{}
		}
	}
	if _, ok := m[key]; ok {
		return raw, nil
	}
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	m[key] = b
	return json.Marshal(m)
}

// rootedDir 保证 fs writer 的 "dir" 为绝对路径：缺失时取 def（required 时报错），相对路径基于 def。
func rootedDir(raw json.RawMessage, def string, required bool) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if m == nil {
			m = map[string]json.RawMessage{}
		}
	}
	var dir string
	if v, ok := m["dir"]; ok {
		if err := json.Unmarshal(v, &dir); err != nil {
			return nil, fmt.Errorf("dir: %w", err)
		}
	}
	switch {
	case strings.TrimSpace(dir) == "" && required:
		return nil, fmt.Errorf("%w: fs target requires \"dir\"", contract.ErrInvalidInput)
	case strings.TrimSpace(dir) == "":
		dir = def
	case !filepath.IsAbs(dir):
		dir = filepath.Join(def, filepath.FromSlash(dir))
	}
	b, err := json.Marshal(dir)
	if err != nil {
		return nil, err
	}
	m["dir"] = b
	return json.Marshal(m)
}
