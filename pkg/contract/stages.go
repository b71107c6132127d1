package contract

import (
	"context"
	"io"
)

// ResolveInput: 待解析的原始条目来源。
type ResolveInput struct {
	// Items: 位置参数（路径/目录/URL）。
	Items []string
	// FromFile: 非空时逐行读取，替代 Items。
	FromFile string
	// URLMode: 条目视为 URL，原样保留。
	URLMode bool
}

// Resolver: 把原始条目展开为有序、去重的目标列表。
// 被排除的条目通过 warn 回调逐条报告；空结果不是错误。
type Resolver interface {
	Resolve(ctx context.Context, in ResolveInput, warn func(msg string)) ([]string, error)
}

// FetchRequest: 单个 URL 的下载请求。
type FetchRequest struct {
	URL   string
	Index int
	// Dir: 下载与旁注文件的目标目录。
	Dir string
	// Root: 文件名前缀，形如 <Root>-<Index>.<fmt>。
	Root string
}

// Fetcher: 下载 URL 为本地图像并写出 .url 旁注文件。
// 失败时不得留下部分写入的图像文件。
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (Target, error)
}

// Converter: 将需转换的格式转为 JPEG，写入 dir；已存在的目标文件直接复用。
type Converter interface {
	Convert(ctx context.Context, src string, from Format, dir string) (string, error)
}

// Writer: 把字节流写到目标路径；实现需支持原子替换。
type Writer interface {
	Write(ctx context.Context, dest string, r io.Reader) error
}
