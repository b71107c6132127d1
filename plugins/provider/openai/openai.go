// Package openai 以 OpenAI Chat Completions（视觉输入）转写图像文本。
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"handprint/internal/cache"
	"handprint/pkg/contract"
)

const (
	Name            = "openai"
	defaultModel    = "gpt-4.1-mini"
	defaultMaxBytes = 20 << 20
)

// DefaultPrompt: 未配置 prompt/prompt_path 时使用。
const DefaultPrompt = "Transcribe all handwritten and printed text in this image exactly as written. " +
	"Preserve line breaks. Output only the transcription, with no commentary."

// Options: Chat Completions 最小必需。
type Options struct {
	Model      string `json:"model,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	PromptPath string `json:"prompt_path,omitempty"`
	// Detail: 图像细节级别 low|high|auto；默认 high。
	Detail string `json:"detail,omitempty"`
	// BaseURL: 兼容端点；凭据文件中的 base_url 优先级更低。
	BaseURL  string `json:"base_url,omitempty"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

type credentials struct {
	APIKey       string `json:"api_key"`
	Model        string `json:"model,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	Organization string `json:"organization,omitempty"`
}

type Client struct {
	model    string
	prompt   string
	detail   string
	baseURL  string
	maxBytes int64

	mu     sync.RWMutex
	client *oai.Client

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
	switch o.Detail {
	case "":
		o.Detail = "high"
	case "low", "high", "auto":
	default:
		return nil, fmt.Errorf("openai: %w: detail %q", contract.ErrInvalidInput, o.Detail)
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = defaultMaxBytes
	}
	return &Client{
		model:    o.Model,
		prompt:   prompt,
		detail:   o.Detail,
		baseURL:  o.BaseURL,
		maxBytes: o.MaxBytes,
		results:  cache.New(),
	}, nil
}

func loadPrompt(inline, path string) (string, error) {
	if inline != "" && path != "" {
		return "", fmt.Errorf("openai: %w: prompt and prompt_path are mutually exclusive", contract.ErrInvalidInput)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("openai: %w: %v", contract.ErrInvalidInput, err)
		}
		inline = string(b)
	}
	if strings.TrimSpace(inline) == "" {
		return DefaultPrompt, nil
	}
	return inline, nil
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
	// 不重试：失败只报告一次
	ropts := []option.RequestOption{option.WithAPIKey(cr.APIKey), option.WithMaxRetries(0)}
	base := c.baseURL
	if base == "" {
		base = cr.BaseURL
	}
	if base != "" {
		ropts = append(ropts, option.WithBaseURL(base))
	}
	if cr.Organization != "" {
		ropts = append(ropts, option.WithOrganization(cr.Organization))
	}
	client := oai.NewClient(ropts...)

	c.mu.Lock()
	c.client = &client
	if c.model == "" {
		c.model = cr.Model
	}
	if c.model == "" {
		c.model = defaultModel
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) current() (*oai.Client, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, c.model
}

func (c *Client) AllResults(ctx context.Context, path string) (contract.Result, error) {
	if cl, _ := c.current(); cl == nil {
		return nil, contract.ErrNotInitialized
	}
	return c.results.Do(ctx, path, func(ctx context.Context) (contract.Result, error) {
		return c.extract(ctx, path)
	})
}

// DocumentText: choices[0].message.content。
func (c *Client) DocumentText(ctx context.Context, path string) (string, error) {
	res, err := c.AllResults(ctx, path)
	if err != nil {
		return "", err
	}
	return res.TextAt("chat_completion", "choices", "0", "message", "content")
}

func (c *Client) extract(ctx context.Context, path string) (contract.Result, error) {
	format, ok := contract.FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("openai: %w: %s", contract.ErrUnsupportedFormat, path)
	}
	data, err := contract.ReadImage(path, c.maxBytes)
	if err != nil {
		return nil, err
	}
	client, model := c.current()
	dataURL := "data:" + format.MIME() + ";base64," + base64.StdEncoding.EncodeToString(data)

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []oai.ChatCompletionMessageParamUnion{{
			OfUser: &oai.ChatCompletionUserMessageParam{
				Content: oai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []oai.ChatCompletionContentPartUnionParam{
						{OfText: &oai.ChatCompletionContentPartTextParam{Text: c.prompt}},
						{OfImageURL: &oai.ChatCompletionContentPartImageParam{
							ImageURL: oai.ChatCompletionContentPartImageImageURLParam{URL: dataURL, Detail: c.detail},
						}},
					},
				},
			},
		}},
		Temperature: oai.Float(0),
	}
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classify(err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(resp.RawJSON()), &m); err != nil {
		return nil, fmt.Errorf("openai: %w: %v", contract.ErrResponseInvalid, err)
	}
	return contract.Result{"chat_completion": m}, nil
}

// classify 把 SDK 错误映射为认证失败或普通上游错误。
func classify(err error) error {
	var apiErr *oai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %w", err)
	}
	herr := &contract.HTTPError{Service: Name, Status: apiErr.StatusCode, Message: apiErr.Message, Kind: contract.ErrResponseInvalid}
	if contract.AuthStatus(apiErr.StatusCode) {
		return contract.AuthFailure(Name, herr)
	}
	return herr
}
