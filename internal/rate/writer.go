package rate

import (
	"bytes"
	"context"
	"io"

	"luabundle/pkg/contract"
)

// limited 在转发前向闸门申请一次推送额度。
type limited struct {
	key  LimitKey
	gate Gate
	next contract.Writer
}

// Limit 为部署目标包一层限流；g 为 nil 时原样返回 w。
func Limit(w contract.Writer, g Gate, key LimitKey) contract.Writer {
	if g == nil {
		return w
	}
	return &limited{key: key, gate: g, next: w}
}

func (l *limited) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := l.gate.Wait(ctx, Ask{Key: l.key, Requests: 1, Bytes: len(data)}); err != nil {
		return err
	}
	return l.next.Write(ctx, id, bytes.NewReader(data))
}
