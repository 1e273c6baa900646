package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/juju/lumberjack/v2"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// LogFileName: 日志目录下的当前文件名，轮转后由 lumberjack 加时间戳。
const LogFileName = "ghmigrate.log"

// Logger 为最小结构化日志器：单行 JSON；sink 不可用时回落到 stderr。
type Logger struct {
	corrID string
	level  Level
	sink   io.Writer
	mu     sync.Mutex
}

// NewLogger 以 level 初始化；dir 非空时写入 dir/ghmigrate.log（10MB 轮转，保留 5 份，压缩），
// 否则写 stderr。
func NewLogger(corrID, level, dir string) *Logger {
	l := &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level))}
	if strings.TrimSpace(dir) != "" {
		l.sink = &lumberjack.Logger{
			Filename:   filepath.Join(dir, LogFileName),
			MaxSize:    10,
			MaxBackups: 5,
			Compress:   true,
		}
	}
	return l
}

// NewLoggerTo 写入给定 writer（测试与嵌入场景）。
func NewLoggerTo(corrID, level string, w io.Writer) *Logger {
	return &Logger{corrID: corrID, level: parseLevel(level), sink: w}
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Close 关闭可关闭的 sink。
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Event 为标准事件结构。comp 为组件或阶段名。
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Phase  string            `json:"phase"` // start|finish|error|warn
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	Record string            `json:"record_id,omitempty"`
	Batch  string            `json:"batch_id,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	b = append(b, '\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		_, _ = os.Stderr.Write(b)
		return
	}
	if _, err := l.sink.Write(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(b)
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Phase: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 record_id/batch_id 的 start。
func (l *Logger) StartWith(comp, msg, record, batch string) *Timer {
	l.log(Info, Event{Comp: comp, Phase: "start", Record: record, Batch: batch, Msg: msg})
	return &Timer{l: l, comp: comp, record: record, batch: batch, t0: time.Now()}
}

// StartWithKV 记录带键值的 start。
func (l *Logger) StartWithKV(comp, msg, record, batch string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Phase: "start", Record: record, Batch: batch, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, record: record, batch: batch, t0: time.Now()}
}

// Warn 记录可恢复问题。
func (l *Logger) Warn(comp, code, msg, record string) {
	l.log(Warn, Event{Comp: comp, Phase: "warn", Code: code, Record: record, Msg: msg})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 record_id/batch_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, record, batch string) {
	l.ErrorWithKV(comp, code, msg, durSince, record, batch, nil)
}

// ErrorWithKV 支持附带键值对（例如远端状态码、文件路径）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, record, batch string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Phase: "error", Code: code, DurMS: dur, Msg: msg, Record: record, Batch: batch, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Phase: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 事件。
func (l *Logger) DebugStart(comp, msg, record, batch string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Phase: "start", Record: record, Batch: batch, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	record string
	batch  string
	t0     time.Time
}

// Since 返回起点，供 Error 计算耗时。
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
	t.l.log(Info, Event{Comp: t.comp, Phase: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, Record: t.record, Batch: t.batch, Msg: msg})
}
