package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ghmigrate/pkg/contract"
)

// 错误分类：迁移类别优先于底层原因。
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{errors.WithType(&fs.PathError{Op: "mkdir", Path: "/x", Err: fmt.Errorf("x")}, contract.ErrInitialization), CodeInit},
		{errors.WithType(fmt.Errorf("bad csv"), contract.ErrIngest), CodeIngest},
		{errors.WithType(fmt.Errorf("x"), contract.ErrTransform), CodeTransform},
		{errors.Annotate(errors.WithType(fmt.Errorf("x"), contract.ErrArchiveWrite), "stage"), CodeArchive},
		{errors.WithType(&net.DNSError{Err: "x"}, contract.ErrUpload), CodeUpload},
		{errors.WithType(fmt.Errorf("x"), contract.ErrCleanup), CodeCleanup},
		{contract.ErrInvariantViolation, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{context.Canceled, CodeCancel},
		{&fs.PathError{Op: "open", Path: "/", Err: fmt.Errorf("x")}, CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{fmt.Errorf("other"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

// 指标写入私有注册表并可导出 textfile。
func TestMetrics(t *testing.T) {
	before := testutil.ToFloat64(opTotal.WithLabelValues("archive", "finish", "success"))
	IncOp("archive", "finish", "success")
	if got := testutil.ToFloat64(opTotal.WithLabelValues("archive", "finish", "success")); got != before+1 {
		t.Fatalf("op_total = %v", got)
	}
	IncError("upload", "network")
	ObserveDuration("archive", "finish", 12)
	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := WriteMetrics(path); err != nil {
		t.Fatalf("write metrics: %v", err)
	}
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), "ghmigrate_error_total") {
		t.Fatalf("missing metric: %s", b)
	}
}

// Logger 输出单行 JSON，并按级别过滤。
func TestLoggerEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo("corr", "info", &buf)
	timer := l.StartWith("batch", "write", "", "gh-members-free-batch-1.csv")
	timer.Finish("ok", 3)
	l.DebugStart("batch", "hidden", "", "", nil)
	l.Warn("convert", "transform", "fallback", "post-1")
	l.ErrorWithKV("upload", "upload", "denied", timer.Since(), "", "", map[string]string{"bucket": "b"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expect 4 lines, got %d: %q", len(lines), buf.String())
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Phase != "finish" || ev.Count != 3 || ev.Batch != "gh-members-free-batch-1.csv" || ev.CorrID != "corr" {
		t.Fatalf("unexpected finish event: %+v", ev)
	}
	if err := json.Unmarshal([]byte(lines[3]), &ev); err != nil || ev.Level != "error" || ev.KV["bucket"] != "b" {
		t.Fatalf("unexpected error event: %+v %v", ev, err)
	}
}

// 日志目录模式写入 ghmigrate.log。
func TestLoggerFileSink(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("corr", "debug", dir)
	l.Start("init", "workspace").Finish("ok", 0)
	l.Error("init", "init", "boom", nil)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LogFileName)); err != nil {
		t.Fatalf("log file not found: %v", err)
	}
}

// 级别与 nil 接收者。
func TestLoggerLevelsAndNil(t *testing.T) {
	if Warn.String() != "warn" || Level(99).String() != "info" {
		t.Fatalf("level string")
	}
	if parseLevel("ERROR") != Error || parseLevel("") != Info {
		t.Fatalf("parse level")
	}
	var nl *Logger
	nl.Warn("a", "b", "c", "d")
	if nl.Close() != nil {
		t.Fatalf("nil close")
	}
	var tn *Timer
	tn.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
	if tn.Since() != nil {
		t.Fatalf("nil timer since")
	}
	if NowUTC() == "" {
		t.Fatalf("应返回时间字符串")
	}
}

// 终端（非 TTY）关键节点输出。
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	if term.isTTY {
		t.Fatalf("expect non-tty")
	}
	term.RunStart("substack-members", 5)
	term.StageStart("initialize")
	term.StageProgress(1, 2) // 非 TTY：不输出进度
	term.StageFinish("initialize", "ran", 5100*time.Millisecond)
	term.RunFinish(true, "/out/ghost-import.zip", 2048, 41300*time.Millisecond)

	out := sb.String()
	if strings.Contains(out, "\r") {
		t.Fatalf("non-tty should not contain carriage returns: %q", out)
	}
	for _, want := range []string{
		"[run] 来源=substack-members | 阶段=5",
		"[stage 1/5] initialize",
		"[ran] initialize | 用时 5.1s",
		"[ok] 全部完成 | 来源 substack-members | 总用时 41.3s | 归档 /out/ghost-import.zip (2.0 kB)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

// 终端（TTY）进度节流与清尾。
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart("wp-xml", 3)
	term.StageStart("batch")
	term.StageProgress(1, 3)
	first := sb.String()
	if !strings.Contains(first, "\r[stage 1/3] batch") {
		t.Fatalf("first progress should be inline with CR: %q", first)
	}
	term.StageProgress(2, 3)
	if sb.String() != first {
		t.Fatalf("second progress should be throttled")
	}
	time.Sleep(120 * time.Millisecond)
	term.StageProgress(2, 3)
	if len(sb.String()) <= len(first) {
		t.Fatalf("third progress should append output")
	}
	term.StageFinish("batch", "failed", 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[failed]")
	if idx < 0 {
		t.Fatalf("finish should include failed line: %q", final)
	}
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	if cr < 0 || !strings.Contains(seg[cr+1:], " ") {
		t.Fatalf("clear tail should write spaces after CR: %q", seg)
	}
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// 写失败降级为禁用态。
func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true)
	term.RunStart("x", 1)
	if term.enabled {
		t.Fatalf("terminal should be disabled after write error")
	}
	term.StageStart("a")
	term.StageProgress(0, 0)
	term.StageFinish("a", "ran", 0)
	term.RunFinish(true, "", 0, 0)
}

// nil 接收者、全局指针与工具函数。
func TestTerminalHelpers(t *testing.T) {
	var tn *Terminal
	tn.RunStart("x", 1)
	tn.StageStart("a")
	tn.StageProgress(0, 0)
	tn.StageFinish("a", "ran", 0)
	tn.RunFinish(true, "", 0, 0)

	SetTerminal(nil)
	if GetTerminal() != nil {
		t.Fatalf("expected nil terminal")
	}
	SetTerminal(NewTerminal(os.Stderr, false))
	if GetTerminal() == nil {
		t.Fatalf("expected non-nil terminal")
	}
	SetTerminal(nil)

	t.Setenv("CI", "true")
	if NewTerminal(os.Stderr, true).isTTY {
		t.Fatalf("CI env should force non-tty")
	}
	if safe("a\nb\rc") != "a b c" || formatDur(0) != "0ms" || formatDur(1500*time.Millisecond) != "1.5s" {
		t.Fatalf("helpers")
	}
}
