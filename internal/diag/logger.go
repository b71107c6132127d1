package diag

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger: 结构化事件日志（zap JSON），每条带 corr_id/comp/stage。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// NewLogger 写入 dir 下的轮转文件（10 MiB 轮转）。
func NewLogger(dir, corrID, level string) *Logger {
	sink := NewRotatingFile(dir, 10*1024*1024)
	l := NewLoggerTo(sink, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 写入任意 WriteSyncer。
func NewLoggerTo(w zapcore.WriteSyncer, corrID, level string) *Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     utcRFC3339,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, w, zap.NewAtomicLevelAt(ParseLevel(level)))
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID))}
}

// Nop 丢弃一切日志。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func utcRFC3339(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339))
}

// ParseLevel: debug|info|warn|error，其余按 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close 刷新并关闭文件 sink。
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	_ = l.z.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

func fields(comp, stage, fileID, service string, kv map[string]string) []zap.Field {
	fs := []zap.Field{zap.String("comp", comp), zap.String("stage", stage)}
	if fileID != "" {
		fs = append(fs, zap.String("file_id", fileID))
	}
	if service != "" {
		fs = append(fs, zap.String("service", service))
	}
	if len(kv) > 0 {
		fs = append(fs, zap.Any("kv", kv))
	}
	return fs
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 file_id/service 的 start。
func (l *Logger) StartWith(comp, msg, fileID, service string) *Timer {
	return l.StartWithKV(comp, msg, fileID, service, nil)
}

// StartWithKV 记录带 file_id/service 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, service string, kv map[string]string) *Timer {
	l.z.Info(msg, fields(comp, "start", fileID, service, kv)...)
	return &Timer{l: l, comp: comp, fileID: fileID, service: service, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp string, code Code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 file_id/service。
func (l *Logger) ErrorWith(comp string, code Code, msg string, durSince *time.Time, fileID, service string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, service, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp string, code Code, msg string, durSince *time.Time, fileID, service string, kv map[string]string) {
	fs := append(fields(comp, "error", fileID, service, kv), zap.String("code", string(code)))
	if durSince != nil {
		fs = append(fs, zap.Int64("dur_ms", time.Since(*durSince).Milliseconds()))
	}
	l.z.Error(msg, fs...)
	IncError(comp, string(code))
	IncOp(comp, "error", "error")
}

// Warn 记录可继续的异常（如被跳过的条目）。
func (l *Logger) Warn(comp, msg, fileID, service string) {
	l.z.Warn(msg, fields(comp, "skip", fileID, service, nil)...)
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	t := &Timer{l: l, comp: comp, t0: start}
	t.Finish(msg, count)
}

// DebugStart 输出调试级别的 start 事件。
func (l *Logger) DebugStart(comp, msg, fileID, service string, kv map[string]string) {
	l.z.Debug(msg, fields(comp, "start", fileID, service, kv)...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l       *Logger
	comp    string
	fileID  string
	service string
	t0      time.Time
}

// Since 返回起点，便于 Error 计算耗时。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	fs := append(fields(t.comp, "finish", t.fileID, t.service, nil), zap.Int64("dur_ms", dur))
	if count > 0 {
		fs = append(fs, zap.Int64("count", count))
	}
	t.l.z.Info(msg, fs...)
	IncOp(t.comp, "finish", "success")
	ObserveDuration(t.comp, "finish", dur)
}
