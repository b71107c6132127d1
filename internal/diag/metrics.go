package diag

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 指标（私有注册表，运行结束可导出为文本文件）：
// - handprint_op_total{comp,stage,result}
// - handprint_error_total{comp,code}
// - handprint_op_duration_ms{comp,stage}
var (
	registry = prometheus.NewRegistry()

	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handprint_op_total",
		Help: "Pipeline operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})

	errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handprint_error_total",
		Help: "Errors by component and classification code.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "handprint_op_duration_ms",
		Help:    "Operation duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{"comp", "stage"})
)

func init() {
	registry.MustRegister(opTotal, errorTotal, opDuration)
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// Registry 暴露指标注册表（测试与导出用）。
func Registry() *prometheus.Registry { return registry }

// WriteMetrics 以 Prometheus 文本格式写出全部指标。
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, registry)
}
