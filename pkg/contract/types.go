package contract

// ModuleID: 逻辑模块标识（通常为相对项目根的路径，规范化为 '/' 分隔）。
type ModuleID string

// LineIndex: 单文件清洗后行序列中的位置（0..n-1），仅在该文件的一次处理内稳定。
type LineIndex int

// Macro: 行级注解，改变该行 require 的解析行为。
type Macro int

const (
	// MacroAbsPath: 该行 require 相对项目根解析。
	MacroAbsPath Macro = iota + 1
	// MacroNoInvoke: 内联为函数字面量但不立即调用。
	MacroNoInvoke
)

func (m Macro) String() string {
	switch m {
	case MacroAbsPath:
		return "abs_path"
	case MacroNoInvoke:
		return "no_invoke"
	default:
		return "unknown"
	}
}

// MacroSet: 一行上出现的宏集合（一行可以有零个、一个或多个）。
type MacroSet map[Macro]struct{}

// Has 报告集合中是否包含 m；nil 集合安全。
func (s MacroSet) Has(m Macro) bool {
	_, ok := s[m]
	return ok
}

// Add 向集合加入 m。
func (s MacroSet) Add(m Macro) { s[m] = struct{}{} }

// SourceFile: 已加载的源文件。加载后只读。
type SourceFile struct {
	// Path: 绝对路径（身份）。
	Path string
	// Dir: 所在目录，作为相对 require 的解析基准。
	Dir string
	// Name: 基名，用于 {{filename}} 模板。
	Name string
	// Text: 原始文本。
	Text string
	// Lines: 预处理后的逻辑行（非空、已去首尾空白）。
	Lines []string
}

// RequireCall: 一次 require 调用的解析结果，仅在解析该调用期间存在。
type RequireCall struct {
	// Line: 调用所在行（宏已剥离）。
	Line string
	// CallText: 行内原始调用文本 token(...)，用于精确替换。
	CallText string
	// Path: 去除引号与 '@' 之后的模块路径字面量。
	Path string
	// Absolute: 路径带有 '@' 前缀，强制相对项目根解析。
	Absolute bool
	// Args: 透传给内联模块的实参文本（原样保留）。
	Args string
	// Index: 所在行位置。
	Index LineIndex
	// Semicolon: 替换文本前是否需要补 ';'。
	Semicolon bool
}

// StyleMode: 格式化风格。
type StyleMode string

const (
	StyleNone     StyleMode = ""
	StyleDense    StyleMode = "dense"
	StyleReadable StyleMode = "readable"
)
