// Package flaky 在 mock 之上按规则注入失败，用于验证逐项失败与服务级失败的处理。
package flaky

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"

	"handprint/internal/cache"
	"handprint/pkg/contract"
	"handprint/plugins/provider/mock"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix,omitempty"`
	// FailPatterns: 文件基名匹配任一 doublestar 模式时返回响应错误。
	FailPatterns []string `json:"fail_patterns,omitempty"`
	// NoTextPatterns: 匹配时结果中不含文本字段。
	NoTextPatterns []string `json:"no_text_patterns,omitempty"`
	// AuthFailAfter: >0 时，成功提取该数量后一律返回认证失败。
	AuthFailAfter int `json:"auth_fail_after,omitempty"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的服务实现。
type Client struct {
	inner     *mock.Client
	fail      []string
	noText    []string
	authAfter int32
	logPath   string
	ok        atomic.Int32
	ready     atomic.Bool
	results   *cache.Store
}

// New 构造 Client；非法模式返回 ErrInvalidInput。
func New(opts *Options) (*Client, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	for _, p := range append(append([]string{}, o.FailPatterns...), o.NoTextPatterns...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("flaky: %w: bad pattern %q", contract.ErrInvalidInput, p)
		}
	}
	if o.AuthFailAfter < 0 {
		return nil, fmt.Errorf("flaky: %w: auth_fail_after %d", contract.ErrInvalidInput, o.AuthFailAfter)
	}
	return &Client{
		inner:     mock.New(&mock.Options{Name: "flaky", Prefix: o.Prefix}),
		fail:      o.FailPatterns,
		noText:    o.NoTextPatterns,
		authAfter: int32(o.AuthFailAfter),
		logPath:   o.LogPath,
		results:   cache.New(),
	}, nil
}

var _ contract.Provider = (*Client)(nil)

func (c *Client) Name() string { return "flaky" }

func (c *Client) InitCredentials(ctx context.Context, dir string) error {
	if err := c.inner.InitCredentials(ctx, dir); err != nil {
		return err
	}
	c.ready.Store(true)
	return nil
}

func (c *Client) AllResults(ctx context.Context, path string) (contract.Result, error) {
	if !c.ready.Load() {
		return nil, contract.ErrNotInitialized
	}
	return c.results.Do(ctx, path, func(ctx context.Context) (contract.Result, error) {
		return c.extract(ctx, path)
	})
}

func (c *Client) DocumentText(ctx context.Context, path string) (string, error) {
	res, err := c.AllResults(ctx, path)
	if err != nil {
		return "", err
	}
	return res.TextAt("mock", "text")
}

func (c *Client) extract(ctx context.Context, path string) (contract.Result, error) {
	base := filepath.Base(path)
	if c.authAfter > 0 && c.ok.Load() >= c.authAfter {
		c.log("auth " + base)
		return nil, contract.AuthFailure("flaky", errors.New("PERMISSION_DENIED: credentials revoked"))
	}
	if match(c.fail, base) {
		c.log("fail " + base)
		return nil, fmt.Errorf("flaky: %w: injected failure for %s", contract.ErrResponseInvalid, base)
	}
	res, err := c.inner.Extract(ctx, path)
	if err != nil {
		c.log("error " + base)
		return nil, err
	}
	if match(c.noText, base) {
		if m, ok := res["mock"].(map[string]any); ok {
			delete(m, "text")
		}
	}
	c.ok.Add(1)
	c.log("ok " + base)
	return res, nil
}

func match(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}
