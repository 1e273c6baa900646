package diag

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 运行指标（私有注册表，不暴露 HTTP 端点）：
// - ghmigrate_op_total{comp,phase,result}
// - ghmigrate_error_total{comp,code}
// - ghmigrate_op_duration_ms{comp,phase}
var (
	Registry = prometheus.NewRegistry()

	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ghmigrate",
		Name:      "op_total",
		Help:      "Stage and sub-task operations by result.",
	}, []string{"comp", "phase", "result"})

	errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ghmigrate",
		Name:      "error_total",
		Help:      "Recorded errors by classification code.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ghmigrate",
		Name:      "op_duration_ms",
		Help:      "Operation duration in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"comp", "phase"})
)

func init() {
	Registry.MustRegister(opTotal, errorTotal, opDuration)
}

// IncOp 累加操作计数（result=success|error|skipped）。
func IncOp(comp, phase, result string) {
	opTotal.WithLabelValues(comp, phase, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录耗时（毫秒）。
func ObserveDuration(comp, phase string, durMS int64) {
	opDuration.WithLabelValues(comp, phase).Observe(float64(durMS))
}

// WriteMetrics 以 textfile 格式原子写出当前指标。
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
