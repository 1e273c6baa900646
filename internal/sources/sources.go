// Package sources 定义每种迁移来源的阶段序列，并提供统一的运行入口。
package sources

import (
	"context"
	"os"
	"sort"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"ghmigrate/internal/archive"
	"ghmigrate/internal/cache"
	"ghmigrate/internal/diag"
	"ghmigrate/internal/pipeline"
	"ghmigrate/pkg/contract"
)

// Kind 区分内容迁移与会员迁移。
type Kind string

const (
	KindPosts   Kind = "posts"
	KindMembers Kind = "members"
)

// Definition: 一种迁移来源的固定属性。
type Definition struct {
	Name string
	Kind Kind
	// Exts: 扫描目录时接受的扩展名。
	Exts []string
	// Checkpoint: 摄取结果写入 tmp/ 的文件名。
	Checkpoint string
	// CachePrefix: 工作区名前缀。
	CachePrefix string
}

var definitions = map[string]Definition{
	"wp-xml": {
		Name:       "wp-xml",
		Kind:       KindPosts,
		Exts:       []string{".xml"},
		Checkpoint: "wp-xml-data.json",
	},
	"curated": {
		Name:       "curated",
		Kind:       KindPosts,
		Exts:       []string{".zip"},
		Checkpoint: "curated-export-data.json",
	},
	"substack-members": {
		Name:        "substack-members",
		Kind:        KindMembers,
		Exts:        []string{".csv"},
		Checkpoint:  "csv-members-data.json",
		CachePrefix: "substack-members-",
	},
}

// Lookup 按名称查找来源定义。
func Lookup(name string) (Definition, bool) {
	d, ok := definitions[name]
	if ok {
		d.Exts = append([]string(nil), d.Exts...)
	}
	return d, ok
}

// Names 返回已知来源名（有序）。
func Names() []string {
	out := make([]string, 0, len(definitions))
	for k := range definitions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Components: 装配好的协作者。Uploader 可为 nil（不上传）。
type Components struct {
	Reader    contract.Reader
	Ingestor  contract.Ingestor
	Formatter contract.Formatter
	Converter contract.Converter
	Batcher   pipeline.MemberBatcher
	Uploader  contract.Uploader
	// Format: 仅内容迁移使用。
	Format contract.FormatOptions
}

// Migration: 一次可运行的迁移。
type Migration struct {
	Definition
	Options pipeline.Options
	Stages  []pipeline.Stage
}

// Build 按来源类别拼装阶段序列。
func Build(def Definition, opts pipeline.Options, c Components) (Migration, error) {
	if c.Reader == nil || c.Ingestor == nil {
		return Migration{}, errors.Annotate(contract.ErrInvalidInput, "sources: reader and ingestor are required")
	}
	opts.Source = def.Name
	b := archive.New()
	stages := []pipeline.Stage{
		&pipeline.InitializeStage{Prefix: def.CachePrefix},
		&pipeline.IngestStage{Reader: c.Reader, Ingestor: c.Ingestor, Checkpoint: def.Checkpoint},
	}
	switch def.Kind {
	case KindPosts:
		if c.Formatter == nil || c.Converter == nil {
			return Migration{}, errors.Annotatef(contract.ErrInvalidInput, "sources: %s needs a formatter and a converter", def.Name)
		}
		stages = append(stages,
			&pipeline.TransformStage{Formatter: c.Formatter, Options: c.Format},
			&pipeline.ConvertStage{Converter: c.Converter},
			&pipeline.WriteImportStage{},
		)
	case KindMembers:
		if c.Batcher == nil {
			return Migration{}, errors.Annotatef(contract.ErrInvalidInput, "sources: %s needs a batcher", def.Name)
		}
		stages = append(stages, &pipeline.BatchStage{Batcher: c.Batcher})
	default:
		return Migration{}, errors.Annotatef(contract.ErrInvalidInput, "sources: unknown kind %q", def.Kind)
	}
	stages = append(stages,
		pipeline.NewArchiveStage(b),
		pipeline.NewUploadStage(c.Uploader, b),
		pipeline.NewCleanupStage(),
	)
	return Migration{Definition: def, Options: opts, Stages: stages}, nil
}

// Run 执行迁移并驱动终端提示。
// 结束时（无论成败）把已累计的错误与警告写入工作区 logs/；工作区已被清理时不写。
func Run(ctx context.Context, m Migration, clk clock.Clock, logger *diag.Logger) (*pipeline.State, error) {
	st := pipeline.NewState(m.Options, clk, logger)
	term := diag.GetTerminal()
	term.RunStart(m.Name, len(m.Stages))
	start := st.Clock().Now()

	_, err := pipeline.NewRunner(logger).Run(ctx, m.Stages, st)
	writeIssues(st, logger)

	var out string
	var size int64
	if of := st.OutputFile(); of != nil {
		out, size = of.Path, of.Size
		if of.Uploaded {
			out = of.Location
		}
	}
	term.RunFinish(err == nil, out, size, st.Clock().Now().Sub(start))
	return st, err
}

// writeIssues 写出错误日志；失败只告警。
func writeIssues(st *pipeline.State, logger *diag.Logger) {
	c := st.Cache()
	if c == nil {
		return
	}
	if _, err := os.Stat(c.Dir()); err != nil {
		return
	}
	// ctx 可能已取消，错误日志仍需落盘
	p, err := c.WriteErrorJSONFile(context.Background(), st.Issues(), cache.ErrorFileOptions{})
	if err != nil {
		logger.Warn("sources", string(diag.Classify(err)), err.Error(), "")
		return
	}
	logger.DebugStart("sources", "error log written", "", "", map[string]string{"path": p})
}
