package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（用于上层策略判定与退出码映射）。
var (
	// 输入与配置
	ErrInvalidInput     = errors.New("invalid input")
	ErrCredentials      = errors.New("credentials problem")
	ErrNotInitialized   = errors.New("credentials not initialized")
	ErrOutputUnwritable = errors.New("output directory not writable")
	ErrPathInvalid      = errors.New("path invalid")

	// 图像与格式
	ErrNotImage          = errors.New("not an image")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrConversion        = errors.New("image conversion failed")
	ErrTooLarge          = errors.New("image exceeds service size limit")

	// 网络与服务
	ErrDownload        = errors.New("download failed")
	ErrAuth            = errors.New("authentication failed")
	ErrResponseInvalid = errors.New("response invalid")
	ErrNoText          = errors.New("no text in result")
)

// ServiceFailure: 服务级失败（认证/凭据），终止该服务的处理循环。
type ServiceFailure struct {
	Service string
	Err     error
}

func (e *ServiceFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ServiceFailure) Unwrap() error { return e.Err }

// AuthFailure 构造认证类服务失败，可被 errors.Is(err, ErrAuth) 识别。
func AuthFailure(service string, cause error) error {
	if cause == nil {
		return &ServiceFailure{Service: service, Err: ErrAuth}
	}
	return &ServiceFailure{Service: service, Err: fmt.Errorf("%w: %w", ErrAuth, cause)}
}

// IsServiceFailure 报告错误是否应终止整个服务循环。
func IsServiceFailure(err error) bool {
	var sf *ServiceFailure
	return errors.As(err, &sf)
}
