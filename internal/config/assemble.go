package config

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"ghmigrate/internal/pipeline"
	"ghmigrate/internal/sources"
	"ghmigrate/pkg/contract"
	"ghmigrate/pkg/registry"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate 做最小必要的配置校验。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Source) == "" {
		return errors.Annotate(contract.ErrInvalidInput, "config: source is required")
	}
	def, ok := sources.Lookup(cfg.Source)
	if !ok {
		return errors.Annotatef(contract.ErrInvalidInput, "config: unknown source %q (known: %s)", cfg.Source, strings.Join(sources.Names(), ", "))
	}
	if _, ok := registry.Ingestor[cfg.Source]; !ok {
		return errors.Annotatef(contract.ErrInvalidInput, "config: no ingestor for source %q", cfg.Source)
	}
	if len(cfg.Inputs) == 0 {
		return errors.Annotate(contract.ErrInvalidInput, "config: at least one input is required")
	}
	// STDIN 混用规则
	if hasDash(cfg.Inputs) && len(cfg.Inputs) > 1 {
		return errors.Annotate(contract.ErrInvalidInput, "config: stdin '-' cannot be mixed with other inputs")
	}
	if def.Kind == sources.KindPosts && len(cfg.Inputs) != 1 {
		return errors.Annotatef(contract.ErrInvalidInput, "config: %s takes exactly one input", cfg.Source)
	}
	if cfg.Concurrency < 1 {
		return errors.Annotate(contract.ErrInvalidInput, "config: concurrency must be >= 1")
	}
	if def.Kind == sources.KindMembers {
		if cfg.Limit < 1 {
			return errors.Annotate(contract.ErrInvalidInput, "config: limit must be >= 1")
		}
		if cfg.Members.CompCap < 1 {
			return errors.Annotate(contract.ErrInvalidInput, "config: members.comp_cap must be >= 1")
		}
	}
	if cfg.SizeLimit < 0 {
		return errors.Annotate(contract.ErrInvalidInput, "config: size_limit must be >= 0")
	}
	if lv := strings.ToLower(strings.TrimSpace(cfg.Logging.Level)); lv != "" && !logLevels[lv] {
		return errors.Annotatef(contract.ErrInvalidInput, "config: unknown log level %q", cfg.Logging.Level)
	}
	if s := strings.TrimSpace(cfg.Output.Storage); s != "" {
		if _, ok := registry.Uploader[s]; !ok {
			return errors.Annotatef(contract.ErrInvalidInput, "config: unknown output storage %q", s)
		}
		if !Bool(cfg.Zip) {
			return errors.Annotate(contract.ErrInvalidInput, "config: output storage requires zip")
		}
	}
	return nil
}

// RunOptions 把配置折叠为流水线选项快照。
func RunOptions(cfg Config) pipeline.Options {
	return pipeline.Options{
		Source:           cfg.Source,
		Inputs:           cloneStrings(cfg.Inputs),
		CacheName:        cfg.CacheName,
		TmpPath:          cfg.TmpPath,
		OutputPath:       cfg.OutputPath,
		Zip:              Bool(cfg.Zip),
		Cache:            Bool(cfg.Cache),
		Limit:            cfg.Limit,
		SizeLimit:        cfg.SizeLimit,
		Concurrency:      cfg.Concurrency,
		KeepLocalArchive: Bool(cfg.KeepLocalArchive),
		UploadName:       cfg.UploadName,
		Verbose:          Bool(cfg.Verbose),
	}
}

// Assemble 按注册表实例化组件并拼装迁移。
// 顶层开关只填补组件 Options 中缺失的键；显式写在 options 子树中的值优先。
func Assemble(ctx context.Context, cfg Config, clk clock.Clock) (sources.Migration, error) {
	if err := Validate(cfg); err != nil {
		return sources.Migration{}, err
	}
	def, _ := sources.Lookup(cfg.Source)

	readerRaw, err := withDefault(cfg.Options.Reader, "allow_exts", def.Exts)
	if err != nil {
		return sources.Migration{}, errors.Annotate(err, "config: options.reader")
	}
	r, err := registry.Reader["fs"](readerRaw)
	if err != nil {
		return sources.Migration{}, errors.Annotate(err, "config: reader")
	}

	ingRaw := cfg.Options.Ingestor
	if def.Kind == sources.KindMembers && len(cfg.Members.Labels) > 0 {
		if ingRaw, err = withDefault(ingRaw, "labels", cfg.Members.Labels); err != nil {
			return sources.Migration{}, errors.Annotate(err, "config: options.ingestor")
		}
	}
	in, err := registry.Ingestor[cfg.Source](ingRaw)
	if err != nil {
		return sources.Migration{}, errors.Annotate(err, "config: ingestor")
	}

	comp := sources.Components{Reader: r, Ingestor: in}
	switch def.Kind {
	case sources.KindPosts:
		if comp.Formatter, err = registry.Formatter["ghost-json"](cfg.Options.Formatter); err != nil {
			return sources.Migration{}, errors.Annotate(err, "config: formatter")
		}
		convRaw, err := withDefault(cfg.Options.Converter, "fallback_html_card", Bool(cfg.Posts.FallbackHTMLCard))
		if err != nil {
			return sources.Migration{}, errors.Annotate(err, "config: options.converter")
		}
		if comp.Converter, err = registry.Converter["mobiledoc"](convRaw); err != nil {
			return sources.Migration{}, errors.Annotate(err, "config: converter")
		}
		comp.Format = contract.FormatOptions{
			AddTag: cfg.Posts.AddTag,
			Drafts: Bool(cfg.Posts.Drafts),
			Pages:  Bool(cfg.Posts.Pages),
		}
	case sources.KindMembers:
		raw, err := withDefault(cfg.Options.Batcher, "size", cfg.Limit)
		if err == nil {
			raw, err = withDefault(raw, "category_caps", map[string]int{"comp": cfg.Members.CompCap})
		}
		if err != nil {
			return sources.Migration{}, errors.Annotate(err, "config: options.batcher")
		}
		b, err := registry.Batcher["fixed"](raw, clk)
		if err != nil {
			return sources.Migration{}, errors.Annotate(err, "config: batcher")
		}
		comp.Batcher = b
	}

	if s := strings.TrimSpace(cfg.Output.Storage); s != "" {
		u, err := registry.Uploader[s](ctx, cfg.Output.Options)
		if err != nil {
			return sources.Migration{}, errors.Annotatef(err, "config: output storage %s", s)
		}
		comp.Uploader = u
	}
	return sources.Build(def, RunOptions(cfg), comp)
}

// withDefault 在 JSON 对象中补齐缺失的键；raw 为空时视为空对象。
func withDefault(raw json.RawMessage, key string, val any) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) > 0 && string(bytes.TrimSpace(raw)) != "null" {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
	}
	if _, ok := obj[key]; ok {
		return raw, nil
	}
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	obj[key] = b
	return json.Marshal(obj)
}

func hasDash(ss []string) bool {
	for _, s := range ss {
		if strings.TrimSpace(s) == "-" {
			return true
		}
	}
	return false
}
