package inline

import "strings"

// FilenameTemplate 在源文本中代表“当前文件名”的保留模板。
const FilenameTemplate = "{{filename}}"

// Preprocess 将原始文本转为清洗后的逻辑行序列：
// 替换 {{filename}} → 文件基名；按 '\n' 切分；逐行去首尾空白（含 '\r'）；丢弃空行。
// 返回的下标在该文件本次处理内稳定。
func Preprocess(text, name string) []string {
	text = strings.ReplaceAll(text, FilenameTemplate, name)
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if t := strings.TrimSpace(l); t != "" {
			out = append(out, t)
		}
	}
	return out
}
