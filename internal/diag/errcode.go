package diag

import (
	"context"
	"errors"
	"net"
	"os"

	"handprint/pkg/contract"
)

// Code 是最小错误分类代码，用于日志/指标汇总与退出码映射。
type Code string

const (
	CodeUnknown  Code = "unknown"
	CodeCancel   Code = "cancel"
	CodeAuth     Code = "auth"
	CodeInput    Code = "input"
	CodeFormat   Code = "format"
	CodeNetwork  Code = "network"
	CodeProtocol Code = "protocol"
	CodeIO       Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return CodeCancel
	case errors.Is(err, contract.ErrAuth) || errors.Is(err, contract.ErrCredentials):
		return CodeAuth
	case errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrNotInitialized) ||
		errors.Is(err, contract.ErrPathInvalid) ||
		errors.Is(err, contract.ErrOutputUnwritable):
		return CodeInput
	case errors.Is(err, contract.ErrNotImage) ||
		errors.Is(err, contract.ErrUnsupportedFormat) ||
		errors.Is(err, contract.ErrConversion) ||
		errors.Is(err, contract.ErrTooLarge):
		return CodeFormat
	case errors.Is(err, contract.ErrDownload):
		return CodeNetwork
	case errors.Is(err, contract.ErrResponseInvalid) || errors.Is(err, contract.ErrNoText):
		return CodeProtocol
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}
