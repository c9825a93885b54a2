// Package watch 驱动“按回车重新打包”模式：每读到一行输入触发一次独立的完整运行。
package watch

import (
	"bufio"
	"context"
	"io"
)

// Func 一次触发执行的工作；返回的错误交给 Report，不终止循环。
type Func func(ctx context.Context) error

// Loop 从 in 逐行读取，每行触发一次 fn（串行，前一次结束后才读取下一次触发）。
// ctx 取消时返回 ctx.Err()；输入结束（EOF）时返回 nil；读取失败时返回该错误。
// report 可为 nil，收到每次运行的序号（从 1 开始）与结果。
func Loop(ctx context.Context, in io.Reader, fn Func, report func(n int, err error)) error {
	lines := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		s := bufio.NewScanner(in)
		for s.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
		errc <- s.Err()
	}()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case <-lines:
		}
		n++
		err := fn(ctx)
		if report != nil {
			report(n, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
