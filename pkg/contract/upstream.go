package contract

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// UpstreamError 用于承载 HTTP 上游错误的最小诊断信息。
// 实现方应提供可选的状态码与简短消息，便于 pipeline 记录结构化日志字段。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}

// HTTPError: 非 2xx 响应的通用承载；Kind 为可选哨兵（ErrDownload/ErrResponseInvalid 等）。
type HTTPError struct {
	Service string
	Status  int
	Message string
	Kind    error
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if len(msg) > 200 {
		// 按 rune 边界截断
		cut := 200
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "…"
	}
	if msg == "" {
		return fmt.Sprintf("%s: http %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Service, e.Status, msg)
}

func (e *HTTPError) Unwrap() error { return e.Kind }

func (e *HTTPError) UpstreamStatus() int     { return e.Status }
func (e *HTTPError) UpstreamMessage() string { return e.Message }

// AuthStatus: 401/403 视为认证失败。
func AuthStatus(code int) bool { return code == 401 || code == 403 }
