// Package gemini 以 Gemini 多模态模型转写图像文本。
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"google.golang.org/genai"

	"handprint/internal/cache"
	"handprint/pkg/contract"
)

const (
	Name            = "gemini"
	defaultModel    = "gemini-2.5-flash"
	defaultMaxBytes = 20 << 20
)

// DefaultPrompt: 未配置 prompt/prompt_path 时使用。
const DefaultPrompt = "Transcribe all handwritten and printed text in this image exactly as written. " +
	"Preserve line breaks. Output only the transcription, with no commentary."

// Options: Gemini 最小必需。
type Options struct {
	// Model: 默认 gemini-2.5-flash；凭据文件中的 model 优先级更低。
	Model string `json:"model,omitempty"`
	// Prompt/PromptPath: 二选一；都为空使用 DefaultPrompt。
	Prompt     string `json:"prompt,omitempty"`
	PromptPath string `json:"prompt_path,omitempty"`
	// BaseURL: 可选，覆盖 API 地址（代理/测试）。
	BaseURL string `json:"base_url,omitempty"`
	// MaxBytes: 默认 20 MiB。
	MaxBytes int64 `json:"max_bytes,omitempty"`
}

type credentials struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model,omitempty"`
}

// generator: genai.Models 的最小子集，便于测试替换。
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	model    string
	prompt   string
	baseURL  string
	maxBytes int64

	mu  sync.RWMutex
	gen generator
	// newGen 构造底层客户端；测试可替换。
	newGen func(ctx context.Context, apiKey, baseURL string) (generator, error)

	results *cache.Store
}

func New(opts *Options) (*Client, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	prompt, err := loadPrompt(o.Prompt, o.PromptPath)
	if err != nil {
		return nil, err
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = defaultMaxBytes
	}
	return &Client{
		model:    o.Model,
		prompt:   prompt,
		baseURL:  o.BaseURL,
		maxBytes: o.MaxBytes,
		newGen:   newGenAI,
		results:  cache.New(),
	}, nil
}

func loadPrompt(inline, path string) (string, error) {
	if inline != "" && path != "" {
		return "", fmt.Errorf("gemini: %w: prompt and prompt_path are mutually exclusive", contract.ErrInvalidInput)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("gemini: %w: %v", contract.ErrInvalidInput, err)
		}
		inline = string(b)
	}
	if strings.TrimSpace(inline) == "" {
		return DefaultPrompt, nil
	}
	return inline, nil
}

func newGenAI(ctx context.Context, apiKey, baseURL string) (generator, error) {
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if client.Models == nil {
		return nil, errors.New("gemini client is missing the Models service")
	}
	return client.Models, nil
}

var _ contract.Provider = (*Client)(nil)

func (c *Client) Name() string { return Name }

func (c *Client) InitCredentials(ctx context.Context, dir string) error {
	var cr credentials
	if err := contract.LoadCredentials(dir, Name, &cr); err != nil {
		return err
	}
	if cr.APIKey == "" {
		return fmt.Errorf("%w: %s has no api_key", contract.ErrCredentials, contract.CredentialsPath(dir, Name))
	}
	gen, err := c.newGen(ctx, cr.APIKey, c.baseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", contract.ErrCredentials, err)
	}
	c.mu.Lock()
	c.gen = gen
	if c.model == "" {
		c.model = cr.Model
	}
	if c.model == "" {
		c.model = defaultModel
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) generator() (generator, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen, c.model
}

func (c *Client) AllResults(ctx context.Context, path string) (contract.Result, error) {
	if g, _ := c.generator(); g == nil {
		return nil, contract.ErrNotInitialized
	}
	return c.results.Do(ctx, path, func(ctx context.Context) (contract.Result, error) {
		return c.extract(ctx, path)
	})
}

// DocumentText: 首个候选的非思考文本片段拼接。
func (c *Client) DocumentText(ctx context.Context, path string) (string, error) {
	res, err := c.AllResults(ctx, path)
	if err != nil {
		return "", err
	}
	return textOf(res)
}

func textOf(res contract.Result) (string, error) {
	parts, _ := res.Lookup("generate_content", "candidates", "0", "content", "parts")
	ps, _ := parts.([]any)
	if len(ps) == 0 {
		return "", contract.ErrNoText
	}
	var sb strings.Builder
	found := false
	for _, p := range ps {
		pm, _ := p.(map[string]any)
		if thought, _ := pm["thought"].(bool); thought {
			continue
		}
		if s, ok := pm["text"].(string); ok {
			sb.WriteString(s)
			found = true
		}
	}
	if !found {
		return "", contract.ErrNoText
	}
	return sb.String(), nil
}

func (c *Client) extract(ctx context.Context, path string) (contract.Result, error) {
	format, ok := contract.FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("gemini: %w: %s", contract.ErrUnsupportedFormat, path)
	}
	data, err := contract.ReadImage(path, c.maxBytes)
	if err != nil {
		return nil, err
	}
	gen, model := c.generator()
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(c.prompt),
			genai.NewPartFromBytes(data, format.MIME()),
		}, genai.Role(genai.RoleUser)),
	}
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(float32(0))}
	resp, err := gen.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classify(err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w: %v", contract.ErrResponseInvalid, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("gemini: %w: %v", contract.ErrResponseInvalid, err)
	}
	return contract.Result{"generate_content": m}, nil
}

// classify 把 SDK 错误映射为认证失败或普通上游错误。
func classify(err error) error {
	var ae genai.APIError
	var ap *genai.APIError
	switch {
	case errors.As(err, &ae):
	case errors.As(err, &ap) && ap != nil:
		ae = *ap
	default:
		if strings.Contains(err.Error(), "API key not valid") {
			return contract.AuthFailure(Name, err)
		}
		return fmt.Errorf("gemini: %w", err)
	}
	herr := &contract.HTTPError{Service: Name, Status: ae.Code, Message: ae.Message, Kind: contract.ErrResponseInvalid}
	if contract.AuthStatus(ae.Code) || ae.Status == "PERMISSION_DENIED" || ae.Status == "UNAUTHENTICATED" ||
		strings.Contains(ae.Message, "API key not valid") {
		return contract.AuthFailure(Name, herr)
	}
	return herr
}
