package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	cfgpkg "luabundle/internal/config"
)

// runSetup 首次运行的交互式配置：逐项询问（回车取默认值），回显后确认写出。
// 返回 false 表示用户取消，未写任何文件。
func runSetup(in io.Reader, out io.Writer, path string) (bool, error) {
	r := bufio.NewReader(in)
	d := cfgpkg.Defaults()

	fmt.Fprintln(out, "未找到配置文件，开始初始化："+path)
	token, err := ask(r, out, "Require 函数", d.RequireFunction)
	if err != nil {
		return false, err
	}
	entry, err := ask(r, out, "入口文件", d.EntryFile)
	if err != nil {
		return false, err
	}
	output, err := ask(r, out, "输出文件", d.OutputFile)
	if err != nil {
		return false, err
	}
	minify, err := confirm(r, out, "压缩输出（minify）?", false)
	if err != nil {
		return false, err
	}
	beautify, err := confirm(r, out, "美化输出（beautify）?", true)
	if err != nil {
		return false, err
	}

	fmt.Fprintf(out, "\n请确认以下设置：\n  Require 函数: %s\n  入口文件: %s\n  输出文件: %s\n  压缩: %t\n  美化: %t\n\n",
		token, entry, output, minify, beautify)
	ok, err := confirm(r, out, "确认?", true)
	if err != nil {
		return false, err
	}
	if !ok {
		fmt.Fprintln(out, "已取消初始化。")
		return false, nil
	}

	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.RequireFunction = token
	cfg.EntryFile = entry
	cfg.OutputFile = output
	cfg.Minify = cfgpkg.Flag(minify)
	cfg.Beautify = cfgpkg.Flag(beautify)
	if err := cfgpkg.Validate(cfg); err != nil {
		return false, err
	}
	if err := cfgpkg.Save(path, cfg); err != nil {
		return false, err
	}
	fmt.Fprintln(out, "初始化完成，再次运行即可打包。")
	return true, nil
}

// ask 读取一行；空行或 EOF 取默认值。
func ask(r *bufio.Reader, out io.Writer, label, def string) (string, error) {
	fmt.Fprintf(out, "%s [%s]: ", label, def)
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if s := strings.TrimSpace(line); s != "" {
		return s, nil
	}
	return def, nil
}

func confirm(r *bufio.Reader, out io.Writer, label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		s, err := ask(r, out, label, hint)
		if err != nil {
			return false, err
		}
		if s == hint {
			return def, nil
		}
		switch strings.ToLower(s) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(out, "请输入 y 或 n")
	}
}
