package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Terminal: 面向操作者的阶段提示（非日志）。
// - TTY: 进度以 \r 单行覆盖；非 TTY: 仅关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	source     string
	stageTotal int
	stageIdx   int
	stageName  string
	runStart   time.Time

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			t.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}
	return t
}

// RunStart: 记录迁移来源与阶段数。
func (t *Terminal) RunStart(source string, stages int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.source = source
	t.stageTotal = stages
	t.stageIdx = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] 来源=%s | 阶段=%d", safe(source), stages))
}

// StageStart: 进入下一个阶段（序号自 1 起）。
func (t *Terminal) StageStart(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.stageIdx++
	t.stageName = safe(name)
	if !t.isTTY {
		t.println(fmt.Sprintf("[stage %d/%d] %s", t.stageIdx, t.stageTotal, t.stageName))
	}
}

// StageProgress: 阶段内进度（仅 TTY，≥100ms 节流）。
func (t *Terminal) StageProgress(done, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[stage %d/%d] %s | 进度 %d/%d | 用时 %s",
		t.stageIdx, t.stageTotal, t.stageName, done, total, formatSince(t.runStart)))
}

// StageFinish: 阶段结束；status 为 ran|skipped|disabled|failed。
func (t *Terminal) StageFinish(name, status string, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("[%s] %s | 用时 %s", status, safe(name), formatDur(dur)))
}

// RunFinish: 结束总览；output 为空表示未产出归档。
func (t *Terminal) RunFinish(ok bool, output string, size int64, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	line := fmt.Sprintf("[%s] 全部完成 | 来源 %s | 总用时 %s", tag, safe(t.source), formatDur(dur))
	if output != "" {
		line += fmt.Sprintf(" | 归档 %s (%s)", output, humanize.Bytes(uint64(size)))
	}
	t.println(line)
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

// printInline: \r + 内容；新行比旧行短时用空格清尾。
func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	b.WriteString(strings.Repeat(" ", pad))
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
