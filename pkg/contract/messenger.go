package contract

// Messenger: 面向用户的进度与消息输出。
// 实现不得改变处理结果，仅负责呈现。
type Messenger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Fatal(format string, args ...any)

	// 单条目进度：Start → Update* → Stop|Fail
	Start(msg string)
	Update(msg string)
	Stop(msg string)
	Fail(msg string)

	// Separator: 多服务运行时的分隔线。
	Separator()
}

// NopMessenger 丢弃一切输出。
type NopMessenger struct{}

func (NopMessenger) Info(string, ...any)  {}
func (NopMessenger) Warn(string, ...any)  {}
func (NopMessenger) Error(string, ...any) {}
func (NopMessenger) Fatal(string, ...any) {}
func (NopMessenger) Start(string)         {}
func (NopMessenger) Update(string)        {}
func (NopMessenger) Stop(string)          {}
func (NopMessenger) Fail(string)          {}
func (NopMessenger) Separator()           {}
