// Package google 对接 Google Cloud Vision 的 images:annotate 接口。
package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	gcreds "golang.org/x/oauth2/google"

	"handprint/internal/cache"
	"handprint/pkg/contract"
)

const (
	Name            = "google"
	defaultEndpoint = "https://vision.googleapis.com/v1/images:annotate"
	visionScope     = "https://www.googleapis.com/auth/cloud-vision"
	defaultMaxBytes = 20 << 20
	handwritingHint = "en-t-i0-handwrit"
)

// DefaultFeatures: 逐项请求的特征，结果按同名键合并。
var DefaultFeatures = []string{
	"face_detection",
	"landmark_detection",
	"crop_hints",
	"label_detection",
	"text_detection",
	"document_text_detection",
	"image_properties",
}

// gRPC 状态码：PERMISSION_DENIED / UNAUTHENTICATED。
const (
	codePermissionDenied = 7
	codeUnauthenticated  = 16
)

// Options: Vision 最小必需。
type Options struct {
	// Endpoint: 默认 https://vision.googleapis.com/v1/images:annotate
	Endpoint string `json:"endpoint,omitempty"`
	// Features: 默认 DefaultFeatures。
	Features []string `json:"features,omitempty"`
	// LanguageHints: 默认 ["en-t-i0-handwrit"]。
	LanguageHints []string `json:"language_hints,omitempty"`
	// MaxBytes: 默认 20 MiB。
	MaxBytes int64 `json:"max_bytes,omitempty"`
	// TimeoutSeconds: <=0 不设超时。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

type credentials struct {
	APIKey string `json:"api_key"`
	Type   string `json:"type"`
}

type Client struct {
	endpoint string
	features []string
	hints    []string
	maxBytes int64
	timeout  time.Duration

	mu     sync.RWMutex
	rc     *resty.Client
	apiKey string

	results *cache.Store
}

func New(opts *Options) (*Client, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.Endpoint == "" {
		o.Endpoint = defaultEndpoint
	}
	if len(o.Features) == 0 {
		o.Features = DefaultFeatures
	}
	for _, f := range o.Features {
		if !known(f) {
			return nil, fmt.Errorf("google: %w: unknown feature %q", contract.ErrInvalidInput, f)
		}
	}
	if o.LanguageHints == nil {
		o.LanguageHints = []string{handwritingHint}
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = defaultMaxBytes
	}
	return &Client{
		endpoint: o.Endpoint,
		features: o.Features,
		hints:    o.LanguageHints,
		maxBytes: o.MaxBytes,
		timeout:  time.Duration(o.TimeoutSeconds) * time.Second,
		results:  cache.New(),
	}, nil
}

func known(f string) bool {
	for _, k := range DefaultFeatures {
		if k == f {
			return true
		}
	}
	return false
}

var _ contract.Provider = (*Client)(nil)

func (c *Client) Name() string { return Name }

// InitCredentials: 服务账号 JSON 走 OAuth2；含 api_key 时改用查询参数 key。
func (c *Client) InitCredentials(ctx context.Context, dir string) error {
	raw, err := contract.ReadCredentials(dir, Name)
	if err != nil {
		return err
	}
	var probe credentials
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("%w: %s: %v", contract.ErrCredentials, contract.CredentialsPath(dir, Name), err)
	}

	var rc *resty.Client
	if probe.APIKey != "" {
		rc = resty.New()
	} else {
		creds, err := gcreds.CredentialsFromJSON(ctx, raw, visionScope)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", contract.ErrCredentials, contract.CredentialsPath(dir, Name), err)
		}
		// 令牌在请求时按需刷新，不绑定本次 ctx
		rc = resty.NewWithClient(oauth2.NewClient(context.Background(), creds.TokenSource))
	}
	rc.SetRetryCount(0).SetHeader("Accept", "application/json")
	if c.timeout > 0 {
		rc.SetTimeout(c.timeout)
	}

	c.mu.Lock()
	c.rc, c.apiKey = rc, probe.APIKey
	c.mu.Unlock()
	return nil
}

func (c *Client) client() (*resty.Client, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rc, c.apiKey
}

func (c *Client) AllResults(ctx context.Context, path string) (contract.Result, error) {
	if rc, _ := c.client(); rc == nil {
		return nil, contract.ErrNotInitialized
	}
	return c.results.Do(ctx, path, func(ctx context.Context) (contract.Result, error) {
		return c.extract(ctx, path)
	})
}

// DocumentText: document_text_detection 的全文；缺省时退回 text_detection 首条描述。
func (c *Client) DocumentText(ctx context.Context, path string) (string, error) {
	res, err := c.AllResults(ctx, path)
	if err != nil {
		return "", err
	}
	if s, err := res.TextAt("document_text_detection", "fullTextAnnotation", "text"); err == nil {
		return s, nil
	}
	return res.TextAt("text_detection", "textAnnotations", "0", "description")
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image        imageContent  `json:"image"`
	Features     []feature     `json:"features"`
	ImageContext *imageContext `json:"imageContext,omitempty"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type imageContext struct {
	LanguageHints []string `json:"languageHints,omitempty"`
}

type annotateResponse struct {
	Responses []map[string]any `json:"responses"`
}

type statusBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *Client) extract(ctx context.Context, path string) (contract.Result, error) {
	data, err := contract.ReadImage(path, c.maxBytes)
	if err != nil {
		return nil, err
	}
	content := base64.StdEncoding.EncodeToString(data)
	out := contract.Result{}
	for _, f := range c.features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := c.annotate(ctx, content, f)
		if err != nil {
			return nil, err
		}
		out[f] = r
	}
	return out, nil
}

func (c *Client) annotate(ctx context.Context, content, f string) (map[string]any, error) {
	rc, key := c.client()
	req := annotateRequest{Requests: []imageRequest{{
		Image:    imageContent{Content: content},
		Features: []feature{{Type: strings.ToUpper(f)}},
	}}}
	if len(c.hints) > 0 {
		req.Requests[0].ImageContext = &imageContext{LanguageHints: c.hints}
	}

	r := rc.R().SetContext(ctx).SetBody(req).SetResult(&annotateResponse{})
	if key != "" {
		r.SetQueryParam("key", key)
	}
	resp, err := r.Post(c.endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, contract.AuthFailure(Name, rerr)
		}
		return nil, fmt.Errorf("google: %s: %w", f, err)
	}
	if !resp.IsSuccess() {
		var st statusBody
		_ = json.Unmarshal(resp.Body(), &st)
		msg := st.Error.Message
		if msg == "" {
			msg = string(resp.Body())
		}
		herr := &contract.HTTPError{Service: Name, Status: resp.StatusCode(), Message: msg, Kind: contract.ErrResponseInvalid}
		if contract.AuthStatus(resp.StatusCode()) || authCode(st.Error.Code, st.Error.Status) {
			return nil, contract.AuthFailure(Name, herr)
		}
		return nil, herr
	}

	ar, _ := resp.Result().(*annotateResponse)
	if ar == nil || len(ar.Responses) == 0 {
		return nil, fmt.Errorf("google: %s: %w: empty responses", f, contract.ErrResponseInvalid)
	}
	first := ar.Responses[0]
	if e, ok := first["error"].(map[string]any); ok {
		code, _ := e["code"].(float64)
		msg, _ := e["message"].(string)
		status, _ := e["status"].(string)
		if authCode(int(code), status) {
			return nil, contract.AuthFailure(Name, errors.New(msg))
		}
		return nil, fmt.Errorf("google: %s: %w: %s", f, contract.ErrResponseInvalid, msg)
	}
	return first, nil
}

func authCode(code int, status string) bool {
	return code == codePermissionDenied || code == codeUnauthenticated ||
		status == "PERMISSION_DENIED" || status == "UNAUTHENTICATED"
}
