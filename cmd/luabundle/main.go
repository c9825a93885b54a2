package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	cfgpkg "luabundle/internal/config"
	"luabundle/internal/diag"
	"luabundle/internal/pipeline"
	"luabundle/internal/watch"
)

var pipelineRun = pipeline.Run

// 退出码：0 成功；1 运行失败；3 配置/装配失败。
const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stderr)
	stop()
	os.Exit(code)
}

// cliFlags 命令行覆盖项；布尔覆盖仅在显式出现时生效。
type cliFlags struct {
	config   string
	initDir  string
	active   bool
	setup    bool
	status   bool
	require  string
	entry    string
	output   string
	root     string
	logLevel string
	minify   bool
	beautify bool
	set      map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, error) {
	f := &cliFlags{set: map[string]bool{}}
	fset := flag.NewFlagSet("luabundle", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.StringVar(&f.config, "config", "", "配置文件路径（JSON）；缺省读取 ./"+cfgpkg.DefaultPath+"（若存在）")
	fset.StringVar(&f.initDir, "init-config", "", "在指定目录生成默认 config.json 与 .env 模板（已存在则跳过）；不带值时默认当前目录")
	fset.BoolVar(&f.active, "active", false, "持续模式：每次在终端按回车重新打包，Ctrl-C 退出")
	fset.BoolVar(&f.setup, "setup", false, "交互式生成配置文件后退出")
	fset.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	fset.StringVar(&f.require, "require", "", "require 函数名（覆盖配置）")
	fset.StringVar(&f.entry, "entry", "", "入口文件（覆盖配置）")
	fset.StringVar(&f.output, "output", "", "输出文件（覆盖配置）")
	fset.StringVar(&f.root, "root", "", "项目根目录（覆盖配置；默认当前目录）")
	fset.StringVar(&f.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	fset.BoolVar(&f.minify, "minify", false, "压缩输出（覆盖配置）")
	fset.BoolVar(&f.beautify, "beautify", false, "美化输出（覆盖配置）")
	if err := fset.Parse(normalizeInitArg(args)); err != nil {
		return nil, err
	}
	fset.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	if fset.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fset.Args(), " "))
	}
	return f, nil
}

// overlay 把显式给出的旗标转成最高优先级的覆盖层。
func (f *cliFlags) overlay() cfgpkg.Config {
	var c cfgpkg.Config
	c.RequireFunction = f.require
	c.EntryFile = f.entry
	c.OutputFile = f.output
	c.Root = f.root
	c.Logging.Level = f.logLevel
	if f.set["minify"] {
		c.Minify = cfgpkg.Flag(f.minify)
	}
	if f.set["beautify"] {
		c.Beautify = cfgpkg.Flag(f.beautify)
	}
	return c
}

func run(ctx context.Context, args []string, stdin io.Reader, stderr io.Writer) int {
	start := time.Now()
	corrID := genCorrID()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fprintf(stderr, "提示：.env 解析失败（已跳过）：%v\n", err)
	}
	logger := diag.NewLogger(corrID, "info")
	defer func() { _ = logger.Close() }()

	flags, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fprintf(stderr, "参数错误: %v\n", err)
		return exitConfig
	}

	// --init-config: 生成模板并退出
	if dir := strings.TrimSpace(flags.initDir); dir != "" {
		if err := initConfig(dir); err != nil {
			fprintf(stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "init failed", &start)
			return exitConfig
		}
		return exitOK
	}

	// JSON 配置来源：--config > LUABUNDLE_CONFIG_FILE > LUABUNDLE_CONFIG_JSON > 默认路径
	cfgPath := flags.config
	if cfgPath == "" {
		cfgPath = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	var cfgJSON []byte
	if cfgPath == "" {
		if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
			cfgJSON = []byte(s)
		}
	}
	if cfgPath == "" && len(cfgJSON) == 0 {
		_, statErr := os.Stat(cfgpkg.DefaultPath)
		switch {
		case statErr == nil:
			cfgPath = cfgpkg.DefaultPath
		case flags.setup || (errors.Is(statErr, fs.ErrNotExist) && isInteractive(stdin)):
			return setup(stdin, stderr, cfgpkg.DefaultPath)
		}
	} else if flags.setup {
		target := cfgPath
		if target == "" {
			target = cfgpkg.DefaultPath
		}
		return setup(stdin, stderr, target)
	}

	cfg := cfgpkg.Defaults()
	if cfgPath != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.LoadJSON(cfgPath, cfgJSON)
		if err != nil {
			fprintf(stderr, "配置解析失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "first error", &start)
			return exitConfig
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	// ENV 覆盖
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(stderr, "环境变量解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	// CLI 覆盖
	cfg = cfgpkg.Merge(cfg, flags.overlay())

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		// 提示打印有效配置，便于诊断
		dumpConfig(stderr, cfg)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	// 使用最终配置中的日志级别重建 logger
	_ = logger.Close()
	logger = diag.NewLogger(corrID, cfg.Logging.Level)

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	defer func() { _ = comp.Close() }()

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(stderr, flags.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	logger.Debug("config", "effective", "", map[string]string{
		"root":      set.Root,
		"entry":     set.Entry,
		"output":    string(set.Output),
		"token":     set.Token,
		"style":     string(set.Style),
		"reader":    cfg.Components.Reader,
		"detector":  cfg.Components.Detector,
		"assembler": cfg.Components.Assembler,
		"writer":    cfg.Components.Writer,
		"formatter": cfg.Components.Formatter,
		"deploy":    strconv.Itoa(len(comp.Deploy)),
	})

	for _, t := range comp.Deploy {
		if u, ok := t.Writer.(interface{ URL() string }); ok && u.URL() != "" {
			fprintf(stderr, "[deploy] %s 监听 %s\n", t.Name, u.URL())
			logger.Info("deploy", "listening", map[string]string{"target": t.Name, "url": u.URL()})
		}
	}

	once := func(ctx context.Context) error {
		_, err := pipelineRun(ctx, comp, set, logger)
		return err
	}

	if !flags.active {
		if err := once(ctx); err != nil {
			report(stderr, err)
			return exitRun
		}
		return exitOK
	}

	logger.Info("watch", "active", map[string]string{"entry": set.Entry})
	fprintf(stderr, "持续打包已开启：按回车打包，Ctrl-C 退出\n")
	err = watch.Loop(ctx, stdin, once, func(n int, err error) {
		if err != nil {
			report(stderr, err)
		}
		term.WatchReady()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fprintf(stderr, "读取输入失败: %v\n", err)
		return exitRun
	}
	return exitOK
}

// report 输出一行致命诊断；取消不视为错误输出。
func report(w io.Writer, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	var de *pipeline.DeployError
	if errors.As(err, &de) {
		fprintf(w, "部署失败（主输出已保留）: %v\n", err)
		return
	}
	fprintf(w, "运行失败: %v\n", err)
}

func setup(stdin io.Reader, stderr io.Writer, path string) int {
	if _, err := runSetup(stdin, stderr, path); err != nil {
		fprintf(stderr, "初始化失败: %v\n", err)
		return exitConfig
	}
	return exitOK
}

// isInteractive 报告 r 是否为终端（字符设备）。
func isInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	fprintf(w, "有效配置:\n%s\n", b)
}

// initConfig 在 dir 下生成 config.json 与 .env 模板；已存在的文件保持不动。
func initConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	cfgPath := filepath.Join(dir, "config.json")
	if _, err := os.Stat(cfgPath); errors.Is(err, fs.ErrNotExist) {
		if err := cfgpkg.Save(cfgPath, cfgpkg.DefaultTemplateConfig()); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return writeDotEnv(filepath.Join(dir, ".env"))
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	p := cfgpkg.EnvPrefix
	env := map[string]string{}
	for _, k := range []string{
		"CONFIG_FILE", "CONFIG_JSON",
		"REQUIRE_FUNCTION", "ENTRY_FILE", "OUTPUT_FILE", "ROOT", "MINIFY", "BEAUTIFY", "CACHE_SIZE", "LOG_LEVEL",
		"COMPONENTS_READER", "COMPONENTS_DETECTOR", "COMPONENTS_ASSEMBLER", "COMPONENTS_WRITER", "COMPONENTS_FORMATTER",
		"OPTIONS_READER_JSON", "OPTIONS_DETECTOR_JSON", "OPTIONS_ASSEMBLER_JSON", "OPTIONS_WRITER_JSON", "OPTIONS_FORMATTER_JSON",
		"DEPLOY_JSON", "DEPLOY_LIMITS_RPM", "DEPLOY_LIMITS_BPM", "DEPLOY_LIMITS_MAX_BYTES_PER_REQ",
	} {
		env[p+k] = ""
	}
	return godotenv.Write(env, path)
}

func genCorrID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用当前目录 "."。
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
func normalizeInitArg(args []string) []string {
	out := make([]string, 0, len(args)+1)
	for i, a := range args {
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	return out
}
