package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"handprint/internal/diag"
	"handprint/internal/rate"
	"handprint/pkg/contract"
)

// - 顺序执行：服务 × 目标 逐一处理，无并发扇出。
// - 单项失败只记录并跳过；认证/凭据失败终止该服务循环，其余服务继续。
// - 取消与输出目录不可写立即返回。
// - 每个服务实例各自持有结果缓存；URL 下载在一次运行内只做一次。

// ProviderFactory 按名构造服务实例；每次运行调用一次。
type ProviderFactory struct {
	Name string
	New  func() (contract.Provider, error)
}

// Components 聚合运行所需的组件。
type Components struct {
	Providers []ProviderFactory
	Fetcher   contract.Fetcher
	Converter contract.Converter
	Writer    contract.Writer
	Messenger contract.Messenger
}

// Settings 运行期配置。
type Settings struct {
	Targets []string
	URLMode bool
	// OutputDir 为空时产物写在图像旁边。
	OutputDir string
	// RootName: URL 下载文件名前缀，默认 "document"。
	RootName string
	CredsDir string
	// 限流闸门（可选）：非空时在调用服务前 Wait
	Gate rate.Gate
}

// Summary 单个服务的处理统计。
type Summary struct {
	Service string
	Done    int
	Failed  int
	Skipped int
	// Aborted: 因认证/凭据失败提前结束。
	Aborted bool
	Dur     time.Duration
}

// Run 执行完整流程；仅有单项失败时返回 nil。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) error {
	_, err := Execute(ctx, comp, set, logger)
	return err
}

// Execute 同 Run，并返回每个已启动服务的统计。
func Execute(ctx context.Context, comp Components, set Settings, logger *diag.Logger) ([]Summary, error) {
	if err := sanity(comp, set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	r := newRun(comp, set, logger)
	var (
		sums     []Summary
		failures []error
	)
	for i, pf := range comp.Providers {
		if err := ctx.Err(); err != nil {
			return sums, err
		}
		if i > 0 {
			r.msg.Separator()
		}
		sum, err := r.service(ctx, pf)
		sums = append(sums, sum)
		switch {
		case err == nil:
		case contract.IsServiceFailure(err):
			failures = append(failures, err)
		default:
			return sums, err
		}
	}
	return sums, errors.Join(failures...)
}

func sanity(comp Components, set Settings) error {
	if len(comp.Providers) == 0 {
		return fmt.Errorf("%w: no providers", contract.ErrInvalidInput)
	}
	if comp.Writer == nil {
		return fmt.Errorf("%w: writer required", contract.ErrInvalidInput)
	}
	if set.URLMode && comp.Fetcher == nil {
		return fmt.Errorf("%w: fetcher required for URL mode", contract.ErrInvalidInput)
	}
	if set.URLMode && set.OutputDir == "" {
		return fmt.Errorf("%w: URL mode requires an output directory", contract.ErrInvalidInput)
	}
	return nil
}

type acquired struct {
	t   contract.Target
	err error
}

type run struct {
	comp     Components
	set      Settings
	log      *diag.Logger
	msg      contract.Messenger
	fetched  map[int]acquired
	writable map[string]error
}

func newRun(comp Components, set Settings, logger *diag.Logger) *run {
	if logger == nil {
		logger = diag.Nop()
	}
	msg := comp.Messenger
	if msg == nil {
		msg = contract.NopMessenger{}
	}
	if set.RootName == "" {
		set.RootName = "document"
	}
	return &run{
		comp:     comp,
		set:      set,
		log:      logger,
		msg:      msg,
		fetched:  make(map[int]acquired),
		writable: make(map[string]error),
	}
}

// service 跑完一个服务的全部目标。返回 ServiceFailure 表示该服务被终止。
func (r *run) service(ctx context.Context, pf ProviderFactory) (Summary, error) {
	sum := Summary{Service: pf.Name}
	t0 := time.Now()

	tm := r.log.StartWith("provider", "init", "", pf.Name)
	r.msg.Info("Using %s service", pf.Name)
	p, err := pf.New()
	if err == nil {
		err = p.InitCredentials(ctx, r.set.CredsDir)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return sum, err
		}
		r.log.ErrorWith("provider", diag.Classify(err), "init failed", tm.Since(), "", pf.Name)
		r.msg.Error("%s: %v", pf.Name, err)
		sum.Aborted = true
		sum.Dur = time.Since(t0)
		if contract.IsServiceFailure(err) {
			return sum, err
		}
		return sum, &contract.ServiceFailure{Service: pf.Name, Err: err}
	}
	tm.Finish("init", 0)

	for i, item := range r.set.Targets {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		err := r.item(ctx, p, i+1, item)
		switch {
		case err == nil:
			sum.Done++
		case errors.Is(err, errSkipped):
			sum.Skipped++
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return sum, err
		case errors.Is(err, contract.ErrOutputUnwritable):
			r.msg.Fatal("%v", err)
			return sum, err
		case contract.IsServiceFailure(err) || errors.Is(err, contract.ErrAuth):
			sum.Failed++
			sum.Aborted = true
			sum.Dur = time.Since(t0)
			r.msg.Error("%s: stopping after authentication failure", pf.Name)
			r.report(sum)
			if contract.IsServiceFailure(err) {
				return sum, err
			}
			return sum, &contract.ServiceFailure{Service: pf.Name, Err: err}
		default:
			sum.Failed++
		}
	}
	sum.Dur = time.Since(t0)
	r.report(sum)
	return sum, nil
}

func (r *run) report(sum Summary) {
	r.log.InfoFinish("provider", "run "+sum.Service, time.Now().Add(-sum.Dur), int64(sum.Done))
	r.msg.Info("%s: %d done, %d failed, %d skipped in %s",
		sum.Service, sum.Done, sum.Failed, sum.Skipped, diag.FormatDur(sum.Dur))
}

var errSkipped = errors.New("skipped")

// item 处理单个条目；返回 errSkipped 表示按规则跳过。
func (r *run) item(ctx context.Context, p contract.Provider, index int, item string) error {
	name := p.Name()
	if !r.set.URLMode && contract.LooksLikeURL(item) {
		r.log.Warn("pipeline", "url outside URL mode", item, name)
		r.msg.Warn("Skipping URL %q (not in URL mode)", item)
		return errSkipped
	}
	r.msg.Start(fmt.Sprintf("Processing %s", diag.ShortenBase(item, 64)))

	path := item
	if r.set.URLMode {
		t, err := r.acquire(ctx, index, item)
		if err != nil {
			return r.fail("fetcher", item, name, fmt.Sprintf("Cannot download %s", item), err)
		}
		path = t.Path
	}

	dir := r.set.OutputDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	if err := r.checkWritable(dir); err != nil {
		return err
	}

	f, ok := contract.FormatOf(path)
	if !ok || !f.Accepted() {
		return r.fail("converter", item, name, fmt.Sprintf("Unsupported format: %s", path),
			fmt.Errorf("%w: %s", contract.ErrUnsupportedFormat, path))
	}
	image := path
	if f.NeedsConversion() {
		if r.comp.Converter == nil {
			return r.fail("converter", item, name, fmt.Sprintf("Cannot convert %s", path),
				fmt.Errorf("%w: no converter", contract.ErrConversion))
		}
		r.msg.Update(fmt.Sprintf("Converting %s to JPEG", filepath.Base(path)))
		tm := r.log.StartWith("converter", "convert", path, name)
		out, err := r.comp.Converter.Convert(ctx, path, f, dir)
		if err != nil {
			return r.fail("converter", item, name, fmt.Sprintf("Cannot convert %s", path), err)
		}
		tm.Finish("convert", 0)
		path = out
	}

	if r.set.Gate != nil {
		if err := r.set.Gate.Wait(ctx, rate.Ask{Key: rate.LimitKey(name), Requests: 1}); err != nil {
			return r.fail("gate", item, name, "Rate limit wait failed", err)
		}
	}

	r.msg.Update(fmt.Sprintf("Sending %s to %s", filepath.Base(path), name))
	tm := r.log.StartWith("provider", "extract", path, name)
	text, err := p.DocumentText(ctx, path)
	if err != nil && !errors.Is(err, contract.ErrNoText) {
		return r.fail("provider", item, name, fmt.Sprintf("%s failed on %s", name, filepath.Base(path)), err)
	}
	if err != nil {
		r.log.Warn("provider", "no text in result", path, name)
		text = ""
	}
	res, err := p.AllResults(ctx, path)
	if err != nil {
		return r.fail("provider", item, name, fmt.Sprintf("%s failed on %s", name, filepath.Base(path)), err)
	}
	tm.Finish("extract", int64(len(text)))

	art := contract.ArtifactsFor(dir, image, name)
	if err := r.writeArtifacts(ctx, art, text, res); err != nil {
		return r.fail("writer", item, name, fmt.Sprintf("Cannot write results for %s", filepath.Base(path)), err)
	}
	r.msg.Stop(fmt.Sprintf("Wrote %s", filepath.Base(art.Text)))
	return nil
}

func (r *run) writeArtifacts(ctx context.Context, art contract.Artifacts, text string, res contract.Result) error {
	tm := r.log.StartWith("writer", "write", art.Text, "")
	if err := r.comp.Writer.Write(ctx, art.Text, strings.NewReader(text)); err != nil {
		return err
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode result: %v", contract.ErrResponseInvalid, err)
	}
	if err := r.comp.Writer.Write(ctx, art.JSON, bytes.NewReader(b)); err != nil {
		return err
	}
	tm.Finish("write", 2)
	return nil
}

// acquire 下载 URL；同一运行内按序号记忆结果（含失败）。
func (r *run) acquire(ctx context.Context, index int, url string) (contract.Target, error) {
	if a, ok := r.fetched[index]; ok {
		return a.t, a.err
	}
	r.msg.Update(fmt.Sprintf("Downloading %s", url))
	tm := r.log.StartWith("fetcher", "fetch", url, "")
	t, err := r.comp.Fetcher.Fetch(ctx, contract.FetchRequest{
		URL:   url,
		Index: index,
		Dir:   r.set.OutputDir,
		Root:  r.set.RootName,
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return t, err
	}
	if err == nil {
		tm.Finish("fetch", 1)
	}
	r.fetched[index] = acquired{t: t, err: err}
	return t, err
}

// checkWritable 以临时文件探测目录可写性；结果按目录记忆。
func (r *run) checkWritable(dir string) error {
	if err, ok := r.writable[dir]; ok {
		return err
	}
	var err error
	f, cerr := os.CreateTemp(dir, ".handprint-probe-*")
	if cerr != nil {
		err = fmt.Errorf("%w: %s: %v", contract.ErrOutputUnwritable, dir, cerr)
	} else {
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
	}
	r.writable[dir] = err
	return err
}

// fail 记录单项失败并透传错误。
func (r *run) fail(comp, item, service, msg string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var kv map[string]string
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv = map[string]string{"status": fmt.Sprint(ue.UpstreamStatus()), "upstream": ue.UpstreamMessage()}
	}
	r.log.ErrorWithKV(comp, diag.Classify(err), err.Error(), nil, item, service, kv)
	r.msg.Fail(fmt.Sprintf("%s: %v", msg, err))
	return err
}
