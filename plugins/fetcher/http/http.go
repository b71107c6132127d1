// Package http 下载 URL 条目为本地图像。
package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"

	"handprint/pkg/contract"
)

// 内容嗅探读取的字节数。
const sniffLen = 3072

// Options: 最小必要选项。
type Options struct {
	// TimeoutSeconds: <=0 不设超时，仅受 ctx 约束。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// UserAgent: 为空使用默认值。
	UserAgent string `json:"user_agent,omitempty"`
	// MaxRedirects: 默认 10。
	MaxRedirects int `json:"max_redirects,omitempty"`
}

// Fetcher 基于 resty 的 URL 下载器；图像与旁注文件经 Writer 写出。
type Fetcher struct {
	rc *resty.Client
	w  contract.Writer
}

// New 创建 Fetcher；w 负责原子落盘。
func New(opts *Options, w contract.Writer) *Fetcher {
	if opts == nil {
		opts = &Options{}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "handprint"
	}
	redirects := opts.MaxRedirects
	if redirects <= 0 {
		redirects = 10
	}
	rc := resty.New().
		SetHeader("User-Agent", ua).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(redirects)).
		SetRetryCount(0)
	if opts.TimeoutSeconds > 0 {
		rc.SetTimeout(time.Duration(opts.TimeoutSeconds) * time.Second)
	}
	return &Fetcher{rc: rc, w: w}
}

var _ contract.Fetcher = (*Fetcher)(nil)

// Fetch 单次 GET：校验类型，写 <root>-<i>.url 旁注，再把正文写到 <root>-<i>.<fmt>。
func (f *Fetcher) Fetch(ctx context.Context, req contract.FetchRequest) (contract.Target, error) {
	if req.Dir == "" {
		return contract.Target{}, fmt.Errorf("%w: url download needs an output directory", contract.ErrInvalidInput)
	}
	root := req.Root
	if root == "" {
		root = "document"
	}
	resp, err := f.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(req.URL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contract.Target{}, ctxErr
		}
		return contract.Target{}, fmt.Errorf("%w: %s: %v", contract.ErrDownload, req.URL, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if !resp.IsSuccess() {
		msg, _ := io.ReadAll(io.LimitReader(body, 512))
		return contract.Target{}, &contract.HTTPError{Service: "fetch", Status: resp.StatusCode(), Message: string(msg), Kind: contract.ErrDownload}
	}

	format, err := declaredFormat(resp.Header().Get("Content-Type"))
	if err != nil {
		return contract.Target{}, fmt.Errorf("%s: %w", req.URL, err)
	}

	// 声明类型之外再嗅探正文，拒绝伪装成图像的内容
	br := bufio.NewReaderSize(body, sniffLen)
	head, perr := br.Peek(sniffLen)
	if perr != nil && !errors.Is(perr, io.EOF) && !errors.Is(perr, bufio.ErrBufferFull) {
		return contract.Target{}, fmt.Errorf("%w: %s: %v", contract.ErrDownload, req.URL, perr)
	}
	if mt := mimetype.Detect(head); !strings.HasPrefix(mt.String(), "image/") {
		return contract.Target{}, fmt.Errorf("%w: %s body is %s", contract.ErrNotImage, req.URL, mt.String())
	}

	base := fmt.Sprintf("%s-%d", root, req.Index)
	sidecar := filepath.Join(req.Dir, base+".url")
	if err := f.w.Write(ctx, sidecar, strings.NewReader(contract.ShortcutContent(req.URL))); err != nil {
		return contract.Target{}, err
	}

	dest := filepath.Join(req.Dir, base+"."+string(format))
	var want int64 = -1
	if resp.RawResponse != nil {
		want = resp.RawResponse.ContentLength
	}
	cr := &countReader{r: br}
	if err := f.w.Write(ctx, dest, cr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contract.Target{}, ctxErr
		}
		return contract.Target{}, fmt.Errorf("%w: %s: %v", contract.ErrDownload, req.URL, err)
	}
	if want >= 0 && cr.n != want {
		_ = os.Remove(dest)
		return contract.Target{}, fmt.Errorf("%w: %s: got %d of %d bytes", contract.ErrDownload, req.URL, cr.n, want)
	}
	return contract.Target{
		Origin: req.URL,
		Format: format,
		Path:   dest,
		Index:  req.Index,
		Source: req.URL,
	}, nil
}

// declaredFormat 解析 Content-Type：顶层须为 image，子类型须受理。
func declaredFormat(ct string) (contract.Format, error) {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", fmt.Errorf("%w: content type %q", contract.ErrNotImage, ct)
	}
	top, sub, _ := strings.Cut(mt, "/")
	if top != "image" {
		return "", fmt.Errorf("%w: content type %q", contract.ErrNotImage, mt)
	}
	f, ok := contract.ParseFormat(sub)
	if !ok || !f.Accepted() {
		return "", fmt.Errorf("%w: %s", contract.ErrUnsupportedFormat, mt)
	}
	return f, nil
}

type countReader struct {
	r io.Reader
	n int64
}

func (c *countReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
