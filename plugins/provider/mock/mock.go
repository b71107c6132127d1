// Package mock 提供离线服务实现，用于调试与测试。
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"handprint/internal/cache"
	"handprint/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	// Name: 服务短名，默认 "mock"。
	Name string `json:"name,omitempty"`
	// Prefix: 文本前缀，默认 "MOCK"。
	Prefix string `json:"prefix,omitempty"`
	// MaxBytes: 大小上限，默认 20 MiB。
	MaxBytes int64 `json:"max_bytes,omitempty"`
}

// Client 读取图像并返回确定性结果，不访问网络。
type Client struct {
	name     string
	prefix   string
	maxBytes int64
	ready    atomic.Bool
	results  *cache.Store
}

func New(opts *Options) *Client {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.Name == "" {
		o.Name = "mock"
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = 20 << 20
	}
	return &Client{name: o.Name, prefix: o.Prefix, maxBytes: o.MaxBytes, results: cache.New()}
}

var _ contract.Provider = (*Client)(nil)

func (c *Client) Name() string { return c.name }

// InitCredentials: 凭据文件可选；存在时须为合法 JSON 对象。
func (c *Client) InitCredentials(ctx context.Context, dir string) error {
	b, err := os.ReadFile(contract.CredentialsPath(dir, c.name))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("%w: %v", contract.ErrCredentials, err)
	default:
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return fmt.Errorf("%w: %s: %v", contract.ErrCredentials, contract.CredentialsPath(dir, c.name), err)
		}
	}
	c.ready.Store(true)
	return nil
}

func (c *Client) AllResults(ctx context.Context, path string) (contract.Result, error) {
	if !c.ready.Load() {
		return nil, contract.ErrNotInitialized
	}
	return c.results.Do(ctx, path, func(ctx context.Context) (contract.Result, error) {
		return c.Extract(ctx, path)
	})
}

func (c *Client) DocumentText(ctx context.Context, path string) (string, error) {
	res, err := c.AllResults(ctx, path)
	if err != nil {
		return "", err
	}
	return res.TextAt("mock", "text")
}

// Extract 不经缓存直接生成结果。
func (c *Client) Extract(ctx context.Context, path string) (contract.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := contract.ReadImage(path, c.maxBytes)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	base := filepath.Base(path)
	return contract.Result{
		"mock": map[string]any{
			"file":   base,
			"bytes":  float64(len(data)),
			"sha256": hex.EncodeToString(sum[:]),
			"text":   fmt.Sprintf("%s: %s", c.prefix, base),
		},
	}, nil
}

// Calls 返回实际提取次数（缓存未命中数）。
func (c *Client) Calls() int { return c.results.Calls() }
