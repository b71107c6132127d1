package contract

import "context"

// Provider: 远端识别服务的统一抽象。
// 约束：
//  1. 先 InitCredentials 再调用其余方法，否则返回 ErrNotInitialized；
//  2. 同一实例内，每个规范化路径至多发起一次提取请求；失败同样缓存（取消除外）；
//  3. 不重试；
//  4. 超过服务大小上限返回 ErrTooLarge，不发起网络调用。
type Provider interface {
	// Name: 稳定短名，用于凭据文件名与输出文件名。
	Name() string
	// InitCredentials 从 <dir>/<name>_credentials.json 读取凭据。
	InitCredentials(ctx context.Context, dir string) error
	// AllResults 返回服务的完整结构化结果。
	AllResults(ctx context.Context, path string) (Result, error)
	// DocumentText 返回规范文本；结果中无文本字段时返回 ErrNoText。
	DocumentText(ctx context.Context, path string) (string, error)
}
