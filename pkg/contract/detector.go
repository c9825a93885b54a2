package contract

// CommentDetector: 判定一行中 require token 的出现是否处于注释内。
// 仅需回答“是否被注释”，不要求真正的词法分析；实现可替换为完整 tokenizer。
type CommentDetector interface {
	Commented(line, token string) bool
}
