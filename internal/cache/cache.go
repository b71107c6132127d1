// Package cache 提供按图像路径记忆服务结果的存储。
package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"handprint/pkg/contract"
)

type entry struct {
	res contract.Result
	err error
}

// Store: 单个服务实例的结果缓存。
// 键为规范化绝对路径；失败同样缓存，取消/超时除外。
// Do 在持锁状态下调用 fn，同一实例内对后端的调用串行。
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	calls   int
}

func New() *Store { return &Store{entries: make(map[string]entry)} }

// Key 规范化路径：绝对化并清理。
func Key(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Do 返回 path 的缓存结果；未命中时调用 fn 并记录。
func (s *Store) Do(ctx context.Context, path string, fn func(ctx context.Context) (contract.Result, error)) (contract.Result, error) {
	k := Key(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok {
		return e.res, e.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.calls++
	res, err := fn(ctx)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, err
	}
	s.entries[k] = entry{res: res, err: err}
	return res, err
}

// Len 返回已记录的条目数。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Calls 返回 fn 实际被调用的次数。
func (s *Store) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
