package fixed

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"ghmigrate/pkg/contract"
)

// DefaultCompCap: 赠送会员（comp）单批上限。
const DefaultCompCap = 500

// Options 为定长分批的配置。
type Options struct {
	// Size: 请求批大小，必须 > 0。
	Size int `json:"size"`
	// CategoryCaps: 类别上限；有效批大小取 min(Size, cap)。
	CategoryCaps map[string]int `json:"category_caps,omitempty"`
	// SkipCategory: 不分批的类别，默认 "skip"。
	SkipCategory string `json:"skip_category,omitempty"`
	// FilePrefix/FileExt: 批文件名 <prefix>-<category>-batch-<n><ext>。
	FilePrefix string `json:"file_prefix,omitempty"`
	FileExt    string `json:"file_ext,omitempty"`
}

// Batcher 按类别把会员切成定长批。
type Batcher struct {
	size   int
	caps   map[string]int
	skip   string
	prefix string
	ext    string
	clock  clock.Clock
}

// New 创建定长 Batcher；clk 为 nil 时使用墙钟（仅用于临时文件名）。
func New(opts *Options, clk clock.Clock) (*Batcher, error) {
	if opts == nil || opts.Size <= 0 {
		return nil, errors.Annotate(contract.ErrInvalidInput, "batcher: size must be > 0")
	}
	b := &Batcher{
		size:   opts.Size,
		caps:   map[string]int{"comp": DefaultCompCap},
		skip:   "skip",
		prefix: "gh-members",
		ext:    ".csv",
		clock:  clk,
	}
	if opts.CategoryCaps != nil {
		b.caps = make(map[string]int, len(opts.CategoryCaps))
		for k, v := range opts.CategoryCaps {
			if v <= 0 {
				return nil, errors.Annotatef(contract.ErrInvalidInput, "batcher: cap for %q must be > 0", k)
			}
			b.caps[k] = v
		}
	}
	if s := strings.TrimSpace(opts.SkipCategory); s != "" {
		b.skip = s
	}
	if s := strings.TrimSpace(opts.FilePrefix); s != "" {
		b.prefix = s
	}
	if s := strings.TrimSpace(opts.FileExt); s != "" {
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		b.ext = s
	}
	if b.clock == nil {
		b.clock = clock.WallClock
	}
	return b, nil
}

var _ contract.Batcher = (*Batcher)(nil)

// EffectiveSize 返回类别的有效批大小。
func (b *Batcher) EffectiveSize(category string) int {
	if c, ok := b.caps[category]; ok && c < b.size {
		return c
	}
	return b.size
}

// IsSkip 报告类别是否只写诊断日志。
func (b *Batcher) IsSkip(category string) bool { return category == b.skip }

// FileName 返回第 n 批的最终文件名。
func (b *Batcher) FileName(category string, n int) string {
	return fmt.Sprintf("%s-%s-batch-%d%s", b.prefix, category, n, b.ext)
}

// LogFileName 返回诊断日志名，如 gh-members-skipped-<ms>.logs.json。
func (b *Batcher) LogFileName(kind string) string {
	return fmt.Sprintf("%s-%s-%d.logs.json", b.prefix, kind, b.clock.Now().UnixMilli())
}

// Make 按输入顺序切出 ceil(n/size) 个连续批，编号自 1 起。
func (b *Batcher) Make(ctx context.Context, category string, records []contract.Member) ([]contract.Batch, error) {
	if b.IsSkip(category) {
		return nil, contract.ErrSkipCategory
	}
	if strings.TrimSpace(category) == "" {
		return nil, errors.Annotate(contract.ErrInvalidInput, "batcher: empty category")
	}
	ts := b.clock.Now().UnixMilli()
	chunks := Chunk(records, b.EffectiveSize(category))
	out := make([]contract.Batch, 0, len(chunks))
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := i + 1
		out = append(out, contract.Batch{
			Category:    category,
			Number:      n,
			Records:     c,
			FileName:    b.FileName(category, n),
			TmpFileName: fmt.Sprintf("%s-%s-batch-%d-%d%s", b.prefix, category, n, ts, b.ext),
		})
	}
	return out, nil
}

// Chunk 将 items 切成长度 ≤ size 的连续子切片（共享底层数组，不拷贝）。
// size <= 0 或空输入返回 nil。
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end:end])
	}
	return out
}
