// Package microsoft 对接 Azure Computer Vision Read v3.2（提交 + 轮询）。
package microsoft

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"handprint/internal/cache"
	"handprint/pkg/contract"
)

const (
	Name            = "microsoft"
	analyzePath     = "/vision/v3.2/read/analyze"
	defaultMaxBytes = 4 << 20
	keyHeader       = "Ocp-Apim-Subscription-Key"
)

// Options: Read API 最小必需。
type Options struct {
	// Language: 可选 BCP-47 语言提示。
	Language string `json:"language,omitempty"`
	// PollIntervalMillis: 默认 1000。
	PollIntervalMillis int `json:"poll_interval_ms,omitempty"`
	// MaxPolls: 默认 60。
	MaxPolls int `json:"max_polls,omitempty"`
	// MaxBytes: 默认 4 MiB。
	MaxBytes int64 `json:"max_bytes,omitempty"`
	// TimeoutSeconds: 单次 HTTP 请求超时；<=0 不设。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

type credentials struct {
	SubscriptionKey string `json:"subscription_key"`
	Endpoint        string `json:"endpoint"`
}

type Client struct {
	language string
	interval time.Duration
	maxPolls int
	maxBytes int64
	timeout  time.Duration

	mu       sync.RWMutex
	rc       *resty.Client
	endpoint string

	results *cache.Store
}

func New(opts *Options) *Client {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.PollIntervalMillis <= 0 {
		o.PollIntervalMillis = 1000
	}
	if o.MaxPolls <= 0 {
		o.MaxPolls = 60
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = defaultMaxBytes
	}
	return &Client{
		language: o.Language,
		interval: time.Duration(o.PollIntervalMillis) * time.Millisecond,
		maxPolls: o.MaxPolls,
		maxBytes: o.MaxBytes,
		timeout:  time.Duration(o.TimeoutSeconds) * time.Second,
		results:  cache.New(),
	}
}

var _ contract.Provider = (*Client)(nil)

func (c *Client) Name() string { return Name }

func (c *Client) InitCredentials(ctx context.Context, dir string) error {
	var cr credentials
	if err := contract.LoadCredentials(dir, Name, &cr); err != nil {
		return err
	}
	if cr.SubscriptionKey == "" || cr.Endpoint == "" {
		return fmt.Errorf("%w: %s needs subscription_key and endpoint", contract.ErrCredentials, contract.CredentialsPath(dir, Name))
	}
	rc := resty.New().
		SetRetryCount(0).
		SetHeader(keyHeader, cr.SubscriptionKey)
	if c.timeout > 0 {
		rc.SetTimeout(c.timeout)
	}
	c.mu.Lock()
	c.rc, c.endpoint = rc, strings.TrimRight(cr.Endpoint, "/")
	c.mu.Unlock()
	return nil
}

func (c *Client) client() (*resty.Client, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rc, c.endpoint
}

func (c *Client) AllResults(ctx context.Context, path string) (contract.Result, error) {
	if rc, _ := c.client(); rc == nil {
		return nil, contract.ErrNotInitialized
	}
	return c.results.Do(ctx, path, func(ctx context.Context) (contract.Result, error) {
		return c.extract(ctx, path)
	})
}

// DocumentText: 所有页面的行文本以换行连接。
func (c *Client) DocumentText(ctx context.Context, path string) (string, error) {
	res, err := c.AllResults(ctx, path)
	if err != nil {
		return "", err
	}
	pages, ok := res.Lookup("read", "analyzeResult", "readResults")
	if !ok {
		return "", contract.ErrNoText
	}
	var lines []string
	for _, p := range asSlice(pages) {
		pm, _ := p.(map[string]any)
		for _, l := range asSlice(pm["lines"]) {
			lm, _ := l.(map[string]any)
			if s, ok := lm["text"].(string); ok {
				lines = append(lines, s)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) extract(ctx context.Context, path string) (contract.Result, error) {
	data, err := contract.ReadImage(path, c.maxBytes)
	if err != nil {
		return nil, err
	}
	rc, endpoint := c.client()

	r := rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data)
	if c.language != "" {
		r.SetQueryParam("language", c.language)
	}
	resp, err := r.Post(endpoint + analyzePath)
	if err != nil {
		return nil, c.transportErr(ctx, err)
	}
	if resp.StatusCode() != 202 {
		return nil, c.statusErr(resp)
	}
	loc := resp.Header().Get("Operation-Location")
	if loc == "" {
		return nil, fmt.Errorf("microsoft: %w: missing Operation-Location", contract.ErrResponseInvalid)
	}

	for i := 0; i < c.maxPolls; i++ {
		if err := sleepCtx(ctx, c.interval); err != nil {
			return nil, err
		}
		pr, err := rc.R().SetContext(ctx).Get(loc)
		if err != nil {
			return nil, c.transportErr(ctx, err)
		}
		if !pr.IsSuccess() {
			return nil, c.statusErr(pr)
		}
		var body map[string]any
		if err := json.Unmarshal(pr.Body(), &body); err != nil {
			return nil, fmt.Errorf("microsoft: %w: %v", contract.ErrResponseInvalid, err)
		}
		switch strings.ToLower(fmt.Sprint(body["status"])) {
		case "succeeded":
			return contract.Result{"read": body}, nil
		case "failed":
			return nil, fmt.Errorf("microsoft: %w: analysis failed", contract.ErrResponseInvalid)
		}
	}
	return nil, fmt.Errorf("microsoft: %w: no result after %d polls", contract.ErrResponseInvalid, c.maxPolls)
}

func (c *Client) transportErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("microsoft: %w", err)
}

func (c *Client) statusErr(resp *resty.Response) error {
	var ae apiError
	_ = json.Unmarshal(resp.Body(), &ae)
	msg := ae.Error.Message
	if msg == "" {
		msg = string(resp.Body())
	}
	herr := &contract.HTTPError{Service: Name, Status: resp.StatusCode(), Message: msg, Kind: contract.ErrResponseInvalid}
	if contract.AuthStatus(resp.StatusCode()) {
		return contract.AuthFailure(Name, herr)
	}
	return herr
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
