package registry

import (
	"bytes"
	"encoding/json"

	"luabundle/pkg/contract"
	"luabundle/plugins/assembler/banner"
	"luabundle/plugins/detector/positional"
	"luabundle/plugins/formatter/darklua"
	"luabundle/plugins/formatter/noop"
	rfs "luabundle/plugins/reader/filesystem"
	wfs "luabundle/plugins/writer/filesystem"
	ws3 "luabundle/plugins/writer/s3"
	wws "luabundle/plugins/writer/websocket"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.SourceReader, error)

// NewDetector 工厂签名。
type NewDetector func(raw json.RawMessage) (contract.CommentDetector, error)

// NewAssembler 工厂签名。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewWriter 工厂签名。主输出与部署目标共用。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewFormatter 工厂签名。
type NewFormatter func(raw json.RawMessage) (contract.Formatter, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 本地文件系统，可选锁定在项目根内
	"fs": func(raw json.RawMessage) (contract.SourceReader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts)
	},
}

// Detector 注释判定注册表。
var Detector = map[string]NewDetector{
	// positional: 首个注释引导符位于首个 token 之前即视为注释
	"positional": func(raw json.RawMessage) (contract.CommentDetector, error) {
		var opts positional.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return positional.New(&opts), nil
	},
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	"banner": func(raw json.RawMessage) (contract.Assembler, error) {
		var opts banner.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return banner.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 本地目录（原子替换，可扁平化）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
	// s3: S3 兼容对象存储
	"s3": func(raw json.RawMessage) (contract.Writer, error) {
		var opts ws3.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ws3.New(&opts)
	},
	// websocket: 向已连接的执行器客户端广播；配置 addr 时立即开始监听
	"websocket": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wws.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		h, err := wws.New(&opts)
		if err != nil {
			return nil, err
		}
		if opts.Addr != "" {
			if _, err := h.Start(); err != nil {
				return nil, err
			}
		}
		return h, nil
	},
}

// Formatter 工厂注册表。
var Formatter = map[string]NewFormatter{
	"darklua": func(raw json.RawMessage) (contract.Formatter, error) {
		var opts darklua.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return darklua.New(&opts), nil
	},
	"none": func(raw json.RawMessage) (contract.Formatter, error) {
		return noop.Formatter{}, nil
	},
}
