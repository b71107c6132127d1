package config

import (
	"fmt"
	"sort"
	"strings"

	"handprint/internal/pipeline"
	"handprint/internal/rate"
	"handprint/pkg/contract"
	"handprint/pkg/registry"
)

// Validate 对最小必要边界做静态校验（不触碰文件系统）。
func Validate(cfg Config) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", contract.ErrInvalidInput, fmt.Sprintf(format, args...))
	}
	m := effName(cfg.Method, MethodAll)
	if m != MethodAll && registry.Provider[m] == nil {
		return bad("%q is not a known method (known: %s)", m, strings.Join(registry.Methods(), ", "))
	}
	if len(cfg.Items) == 0 && strings.TrimSpace(cfg.FromFile) == "" {
		return bad("need images or URLs to process")
	}
	for _, it := range cfg.Items {
		if strings.TrimSpace(it) == "" {
			return bad("empty item")
		}
		if strings.HasPrefix(it, "-") {
			return bad("unrecognized option in arguments: %q", it)
		}
	}
	if cfg.URLs && strings.TrimSpace(cfg.Output) == "" {
		return bad("must provide an output directory if using URLs")
	}
	if strings.TrimSpace(cfg.RootName) != "" && !cfg.URLs {
		return bad("root name can only be used with URLs")
	}
	if strings.ContainsAny(cfg.RootName, `/\`) {
		return bad("root name %q must not contain path separators", cfg.RootName)
	}
	switch strings.ToLower(effName(cfg.Logging.Level, "info")) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return bad("logging.level %q", cfg.Logging.Level)
	}
	d := Defaults()
	if name := effName(cfg.Components.Resolver, d.Components.Resolver); registry.Resolver[name] == nil {
		return bad("resolver %q not registered", name)
	}
	if name := effName(cfg.Components.Fetcher, d.Components.Fetcher); registry.Fetcher[name] == nil {
		return bad("fetcher %q not registered", name)
	}
	if name := effName(cfg.Components.Converter, d.Components.Converter); registry.Converter[name] == nil {
		return bad("converter %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return bad("writer %q not registered", name)
	}
	for name, p := range cfg.Provider {
		if registry.Provider[name] == nil {
			return bad("provider %q not registered", name)
		}
		if p.Limits.RPM < 0 || p.Limits.Burst < 0 {
			return bad("provider %q limits must be >= 0", name)
		}
	}
	return nil
}

// Assembled: 装配结果。Targets 由调用方经 Resolver 解析后填入 Settings。
type Assembled struct {
	Resolver   contract.Resolver
	Components pipeline.Components
	Settings   pipeline.Settings
}

// Assemble 构造组件、服务工厂与限流 Gate。
// 严格 Options 解析在 registry（工厂）层进行；此处只传原样子树。
func Assemble(cfg Config) (Assembled, error) {
	if err := Validate(cfg); err != nil {
		return Assembled{}, err
	}
	d := Defaults()

	res, err := registry.Resolver[effName(cfg.Components.Resolver, d.Components.Resolver)](cfg.Resolver)
	if err != nil {
		return Assembled{}, fmt.Errorf("resolver: %w", err)
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Components.Writer)](cfg.Writer)
	if err != nil {
		return Assembled{}, fmt.Errorf("writer: %w", err)
	}
	f, err := registry.Fetcher[effName(cfg.Components.Fetcher, d.Components.Fetcher)](cfg.Fetcher, w)
	if err != nil {
		return Assembled{}, fmt.Errorf("fetcher: %w", err)
	}
	c, err := registry.Converter[effName(cfg.Components.Converter, d.Components.Converter)](cfg.Converter, w)
	if err != nil {
		return Assembled{}, fmt.Errorf("converter: %w", err)
	}

	var pfs []pipeline.ProviderFactory
	limits := map[rate.LimitKey]rate.Limits{}
	for _, name := range Methods(cfg) {
		p := cfg.Provider[name]
		newP := registry.Provider[name]
		opts := p.Options
		// 选项在装配期预检，避免运行到该服务时才发现配置错误
		if _, err := newP(opts); err != nil {
			return Assembled{}, fmt.Errorf("provider %s: %w", name, err)
		}
		pfs = append(pfs, pipeline.ProviderFactory{
			Name: name,
			New:  func() (contract.Provider, error) { return newP(opts) },
		})
		if p.Limits.RPM > 0 {
			limits[rate.LimitKey(name)] = rate.Limits{RPM: p.Limits.RPM, Burst: p.Limits.Burst}
		}
	}

	root := strings.TrimSpace(cfg.RootName)
	if root == "" {
		root = "document"
	}
	return Assembled{
		Resolver: res,
		Components: pipeline.Components{
			Providers: pfs,
			Fetcher:   f,
			Converter: c,
			Writer:    w,
		},
		Settings: pipeline.Settings{
			URLMode:   cfg.URLs,
			OutputDir: strings.TrimSpace(cfg.Output),
			RootName:  root,
			CredsDir:  cfg.CredsDir,
			Gate:      rate.NewGate(limits, nil),
		},
	}, nil
}

// Methods 返回本次运行的服务名序列：all 时为 registry.Known。
func Methods(cfg Config) []string {
	m := effName(cfg.Method, MethodAll)
	if m == MethodAll {
		return append([]string(nil), registry.Known...)
	}
	return []string{m}
}

// ProviderNames 返回配置中出现的服务名（排序，诊断用）。
func ProviderNames(cfg Config) []string {
	out := make([]string, 0, len(cfg.Provider))
	for k := range cfg.Provider {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func effName(got, def string) string {
	if strings.TrimSpace(got) == "" {
		return def
	}
	return strings.TrimSpace(got)
}
