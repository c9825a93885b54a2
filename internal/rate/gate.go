package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"luabundle/pkg/contract"
)

// LimitKey: 限流分组键（部署目标名称）。
type LimitKey string

// Limits: 每个部署目标的限额。0 表示该维度不启用。
type Limits struct {
	RPM            int // 每分钟推送次数
	BPM            int // 每分钟推送字节数
	MaxBytesPerReq int // 单次推送字节上限
}

// Enabled 报告是否配置了任一维度。
func (l Limits) Enabled() bool { return l.RPM > 0 || l.BPM > 0 || l.MaxBytesPerReq > 0 }

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // >=1
	Bytes    int // >=0
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait 阻塞直到额度可用或 ctx 取消；超过单次上限时立即返回 ErrBudgetExceeded。
	Wait(ctx context.Context, a Ask) error
	// Try 非阻塞尝试。
	Try(a Ask) bool
	// Available 返回当前可用次数/字节的向下取整估值（未启用的维度为 -1）。
	Available(key LimitKey) (requests, bytes int)
}

// NewGate 从静态配置构造闸门；clk 为空则使用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	now := clk()
	for k, lim := range m {
		g.m[k] = newEntry(lim, now)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu   sync.Mutex
	lim  Limits
	reqs bucket
	byts bucket
}

// bucket: 容量为每分钟额度、匀速回填的令牌桶。
type bucket struct {
	cap   int
	level float64
	rate  float64 // 每秒回填量
	last  time.Time
}

func newEntry(lim Limits, now time.Time) *entry {
	return &entry{lim: lim, reqs: newBucket(lim.RPM, now), byts: newBucket(lim.BPM, now)}
}

func newBucket(perMin int, now time.Time) bucket {
	if perMin <= 0 {
		return bucket{}
	}
	return bucket{cap: perMin, level: float64(perMin), rate: float64(perMin) / 60.0, last: now}
}

func (b *bucket) on() bool { return b.cap > 0 }

func (b *bucket) refill(now time.Time) {
	if !b.on() || !now.After(b.last) {
		// 时钟回拨视为无时间流逝
		return
	}
	b.level += now.Sub(b.last).Seconds() * b.rate
	if b.level > float64(b.cap) {
		b.level = float64(b.cap)
	}
	b.last = now
}

// need 返回消费 n 前仍需等待的时长；0 表示可立即消费。
func (b *bucket) need(n int) time.Duration {
	if !b.on() || n <= 0 {
		return 0
	}
	// 超过容量的申请只要求桶满，避免永远等不到
	want := float64(n)
	if want > float64(b.cap) {
		want = float64(b.cap)
	}
	deficit := want - b.level
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / b.rate * float64(time.Second))
}

func (b *bucket) take(n int) {
	if !b.on() || n <= 0 {
		return
	}
	b.level -= float64(n)
	if b.level < 0 {
		b.level = 0
	}
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 不限额
		e = newEntry(Limits{}, g.clk())
		g.m[key] = e
	}
	return e
}

func (g *gate) check(a Ask) (*entry, error) {
	if a.Requests <= 0 || a.Bytes < 0 {
		return nil, contract.ErrInvalidInput
	}
	e := g.get(a.Key)
	if e.lim.MaxBytesPerReq > 0 && a.Bytes > e.lim.MaxBytesPerReq {
		return nil, fmt.Errorf("%w: %s: %d bytes > max %d", contract.ErrBudgetExceeded, a.Key, a.Bytes, e.lim.MaxBytesPerReq)
	}
	return e, nil
}

// acquire 在锁内尝试扣减；失败时返回需要等待的时长。
func (g *gate) acquire(e *entry, a Ask) (bool, time.Duration) {
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs.refill(now)
	e.byts.refill(now)
	wait := e.reqs.need(a.Requests)
	if w := e.byts.need(a.Bytes); w > wait {
		wait = w
	}
	if wait > 0 {
		return false, wait
	}
	e.reqs.take(a.Requests)
	e.byts.take(a.Bytes)
	return true, 0
}

func (g *gate) Try(a Ask) bool {
	e, err := g.check(a)
	if err != nil {
		return false
	}
	ok, _ := g.acquire(e, a)
	return ok
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e, err := g.check(a)
	if err != nil {
		return err
	}
	// 每次至多睡 200ms 后重新计算，及时响应取消与时钟变化
	const minSleep, maxSleep = 10 * time.Millisecond, 200 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, wait := g.acquire(e, a)
		if ok {
			return nil
		}
		if err := sleepCtx(ctx, min(max(wait, minSleep), maxSleep)); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *gate) Available(key LimitKey) (requests, bytes int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs.refill(now)
	e.byts.refill(now)
	requests, bytes = -1, -1
	if e.reqs.on() {
		requests = int(e.reqs.level)
	}
	if e.byts.on() {
		bytes = int(e.byts.level)
	}
	return requests, bytes
}

var _ Gate = (*gate)(nil)
