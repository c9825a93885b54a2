package rate

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luabundle/pkg/contract"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// 超过 RPM 拒绝，时间推进后回填
func TestGateTryRPM(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	g := NewGate(map[LimitKey]Limits{"fs": {RPM: 2}}, clk.Now)
	assert.True(t, g.Try(Ask{Key: "fs", Requests: 1}))
	assert.True(t, g.Try(Ask{Key: "fs", Requests: 1}))
	assert.False(t, g.Try(Ask{Key: "fs", Requests: 1}))

	clk.Add(30 * time.Second)
	assert.True(t, g.Try(Ask{Key: "fs", Requests: 1}))
}

// 字节维度
func TestGateTryBPM(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	g := NewGate(map[LimitKey]Limits{"s3": {BPM: 600}}, clk.Now)
	assert.True(t, g.Try(Ask{Key: "s3", Requests: 1, Bytes: 500}))
	assert.False(t, g.Try(Ask{Key: "s3", Requests: 1, Bytes: 200}))
	clk.Add(10 * time.Second) // +100
	assert.True(t, g.Try(Ask{Key: "s3", Requests: 1, Bytes: 200}))

	r, b := g.Available("s3")
	assert.Equal(t, -1, r)
	assert.Equal(t, 0, b)
}

// 单次上限
func TestGateMaxBytes(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"ws": {MaxBytesPerReq: 10}}, nil)
	err := g.Wait(context.Background(), Ask{Key: "ws", Requests: 1, Bytes: 11})
	assert.ErrorIs(t, err, contract.ErrBudgetExceeded)
	assert.False(t, g.Try(Ask{Key: "ws", Requests: 1, Bytes: 11}))
	assert.NoError(t, g.Wait(context.Background(), Ask{Key: "ws", Requests: 1, Bytes: 10}))
}

// 非法申请
func TestGateInvalid(t *testing.T) {
	g := NewGate(nil, nil)
	assert.ErrorIs(t, g.Wait(context.Background(), Ask{Key: "x"}), contract.ErrInvalidInput)
	assert.ErrorIs(t, g.Wait(context.Background(), Ask{Key: "x", Requests: 1, Bytes: -1}), contract.ErrInvalidInput)
	// 未配置的 key 不限额
	for i := 0; i < 100; i++ {
		require.True(t, g.Try(Ask{Key: "x", Requests: 1, Bytes: 1 << 20}))
	}
}

// 取消上下文
func TestGateWaitCancel(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1}}, clk.Now)
	require.True(t, g.Try(Ask{Key: "k", Requests: 1}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx, Ask{Key: "k", Requests: 1}), context.DeadlineExceeded)
}

// Wait 在回填后放行
func TestGateWaitRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1}}, clk.Now)
	require.True(t, g.Try(Ask{Key: "k", Requests: 1}))
	go func() {
		time.Sleep(20 * time.Millisecond)
		clk.Add(time.Minute)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, g.Wait(ctx, Ask{Key: "k", Requests: 1}))
}

// 时钟回拨不回填
func TestGateClockBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1}}, clk.Now)
	require.True(t, g.Try(Ask{Key: "k", Requests: 1}))
	clk.Add(-time.Hour)
	assert.False(t, g.Try(Ask{Key: "k", Requests: 1}))
}

type sink struct {
	got []string
}

func (s *sink) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.got = append(s.got, string(id)+"="+string(b))
	return nil
}

// Limit 包装：额度内转发，超限返回错误且不转发
func TestLimitWriter(t *testing.T) {
	s := &sink{}
	g := NewGate(map[LimitKey]Limits{"dev": {MaxBytesPerReq: 5}}, nil)
	w := Limit(s, g, "dev")
	require.NoError(t, w.Write(context.Background(), "a.lua", strings.NewReader("12345")))
	assert.ErrorIs(t, w.Write(context.Background(), "a.lua", strings.NewReader("123456")), contract.ErrBudgetExceeded)
	assert.Equal(t, []string{"a.lua=12345"}, s.got)

	assert.Same(t, contract.Writer(s), Limit(s, nil, "dev"))
}
