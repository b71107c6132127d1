package registry

import (
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"

	"handprint/pkg/contract"
	craster "handprint/plugins/converter/raster"
	fhttp "handprint/plugins/fetcher/http"
	"handprint/plugins/provider/flaky"
	"handprint/plugins/provider/gemini"
	"handprint/plugins/provider/google"
	"handprint/plugins/provider/microsoft"
	"handprint/plugins/provider/mock"
	"handprint/plugins/provider/openai"
	rfs "handprint/plugins/resolver/filesystem"
	wfs "handprint/plugins/writer/filesystem"
)

// Options: 组件原样选项子树（来自配置文件/ENV，键为 snake_case）。
type Options = map[string]any

// strictDecode: 按 json 标签弱类型解码（ENV 字符串可转数值/布尔），拒绝未知字段。
func strictDecode(raw Options, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           v,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	return nil
}

// NewResolver 工厂签名：接收原样 Options。
type NewResolver func(raw Options) (contract.Resolver, error)

// NewFetcher 工厂签名：下载结果经由 Writer 落盘。
type NewFetcher func(raw Options, w contract.Writer) (contract.Fetcher, error)

// NewConverter 工厂签名：转换结果经由 Writer 落盘。
type NewConverter func(raw Options, w contract.Writer) (contract.Converter, error)

// NewWriter 工厂签名：接收原样 Options。
type NewWriter func(raw Options) (contract.Writer, error)

// NewProvider 工厂签名：每次调用返回新实例（各自持有结果缓存）。
type NewProvider func(raw Options) (contract.Provider, error)

// Known: method=all 时的固定枚举顺序（仅真实服务）。
var Known = []string{google.Name, microsoft.Name, gemini.Name, openai.Name}

// Resolver 工厂注册表（显式、零反射）。
var Resolver = map[string]NewResolver{
	// fs: 路径/目录/列表文件/URL 列表
	"fs": func(raw Options) (contract.Resolver, error) {
		var opts rfs.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts)
	},
}

// Fetcher 工厂注册表。
var Fetcher = map[string]NewFetcher{
	"http": func(raw Options, w contract.Writer) (contract.Fetcher, error) {
		var opts fhttp.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return fhttp.New(&opts, w), nil
	},
}

// Converter 工厂注册表。
var Converter = map[string]NewConverter{
	// raster: 非通用格式转 JPEG
	"raster": func(raw Options, w contract.Writer) (contract.Converter, error) {
		var opts craster.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return craster.New(&opts, w)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw Options) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts), nil
	},
}

// Provider 工厂注册表。
var Provider = map[string]NewProvider{
	google.Name: func(raw Options) (contract.Provider, error) {
		var opts google.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return google.New(&opts)
	},
	microsoft.Name: func(raw Options) (contract.Provider, error) {
		var opts microsoft.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return microsoft.New(&opts), nil
	},
	gemini.Name: func(raw Options) (contract.Provider, error) {
		var opts gemini.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return gemini.New(&opts)
	},
	openai.Name: func(raw Options) (contract.Provider, error) {
		var opts openai.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return openai.New(&opts)
	},
	"mock": func(raw Options) (contract.Provider, error) {
		var opts mock.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return mock.New(&opts), nil
	},
	"flaky": func(raw Options) (contract.Provider, error) {
		var opts flaky.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return flaky.New(&opts)
	},
}

// Methods 返回可选 method：Known 在前，其余按字母序。
func Methods() []string {
	out := append([]string(nil), Known...)
	seen := map[string]bool{}
	for _, k := range Known {
		seen[k] = true
	}
	var extra []string
	for k := range Provider {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
