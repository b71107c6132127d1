// Package rate 提供按服务分组的请求节流。
package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"handprint/pkg/contract"
)

// LimitKey: 限流分组键（服务短名）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM int // requests per minute
	// Burst: 桶容量；0 时等于 RPM。
	Burst int
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (avail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	g := &gate{clk: clk, real: clk == nil, m: make(map[LimitKey]*entry, len(m))}
	if g.real {
		g.clk = time.Now
	}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

// Unlimited 返回一律放行的闸门。
func Unlimited() Gate { return NewGate(nil, nil) }

type gate struct {
	clk  func() time.Time
	real bool
	mu   sync.Mutex
	m    map[LimitKey]*entry
}

// entry: req 为 nil 表示该分组不限额。
type entry struct {
	req *rate.Limiter
}

func newEntry(lim Limits) *entry {
	if lim.RPM <= 0 {
		return &entry{}
	}
	burst := lim.Burst
	if burst <= 0 {
		burst = lim.RPM
	}
	return &entry{req: rate.NewLimiter(rate.Limit(float64(lim.RPM)/60.0), burst)}
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 不限额
		e = &entry{}
		g.m[key] = e
	}
	return e
}

func (g *gate) Try(a Ask) bool {
	if a.Requests <= 0 {
		return false
	}
	e := g.get(a.Key)
	if e.req == nil {
		return true
	}
	return e.req.AllowN(g.clk(), a.Requests)
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	if a.Requests <= 0 {
		return contract.ErrInvalidInput
	}
	e := g.get(a.Key)
	if e.req == nil {
		return ctx.Err()
	}
	if a.Requests > e.req.Burst() {
		// 永远无法满足
		return contract.ErrInvalidInput
	}
	if g.real {
		return e.req.WaitN(ctx, a.Requests)
	}
	// 注入时钟：按时钟轮询，每次最多睡 200ms
	const step = 200 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := g.clk()
		if e.req.AllowN(now, a.Requests) {
			return nil
		}
		r := e.req.ReserveN(now, a.Requests)
		d := r.DelayFrom(now)
		r.CancelAt(now)
		if err := sleepCtx(ctx, min(max(d, 10*time.Millisecond), step)); err != nil {
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

// Snapshot: 当前可用请求数的向下取整估值（仅诊断）；未启用返回 -1。
func (g *gate) Snapshot(key LimitKey) int {
	e := g.get(key)
	if e.req == nil {
		return -1
	}
	return int(e.req.TokensAt(g.clk()))
}

var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
