package diag

import (
	"strconv"
	"sync"
)

// 进程内计数器：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计）
var metrics = struct {
	mu    sync.Mutex
	ops   map[string]int64
	errs  map[string]int64
	durMS map[string]int64
}{
	ops:   map[string]int64{},
	errs:  map[string]int64{},
	durMS: map[string]int64{},
}

// Metrics 为计数器快照。键形如 "comp/stage/result"、"comp/code"、"comp/stage"。
type Metrics struct {
	Ops    map[string]int64
	Errors map[string]int64
	DurMS  map[string]int64
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	metrics.mu.Lock()
	metrics.ops[comp+"/"+stage+"/"+result]++
	metrics.mu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metrics.mu.Lock()
	metrics.errs[comp+"/"+code]++
	metrics.mu.Unlock()
}

// ObserveDuration 累计阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metrics.mu.Lock()
	metrics.durMS[comp+"/"+stage] += durMS
	metrics.mu.Unlock()
}

// Snapshot 返回当前计数的副本。
func Snapshot() Metrics {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	return Metrics{Ops: clone(metrics.ops), Errors: clone(metrics.errs), DurMS: clone(metrics.durMS)}
}

// KV 把快照展平为日志键值："op:"、"err:"、"ms:" 前缀区分三类计数。
func (m Metrics) KV() map[string]string {
	kv := make(map[string]string, len(m.Ops)+len(m.Errors)+len(m.DurMS))
	for k, v := range m.Ops {
		kv["op:"+k] = strconv.FormatInt(v, 10)
	}
	for k, v := range m.Errors {
		kv["err:"+k] = strconv.FormatInt(v, 10)
	}
	for k, v := range m.DurMS {
		kv["ms:"+k] = strconv.FormatInt(v, 10)
	}
	return kv
}

// ResetMetrics 清零（watch 模式下不使用；测试用）。
func ResetMetrics() {
	metrics.mu.Lock()
	metrics.ops = map[string]int64{}
	metrics.errs = map[string]int64{}
	metrics.durMS = map[string]int64{}
	metrics.mu.Unlock()
}

func clone(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
