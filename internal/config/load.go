package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 为环境变量覆盖前缀。
const EnvPrefix = "GHMIGRATE_"

// DefaultFile 为工作目录下默认读取的配置文件名。
const DefaultFile = "ghmigrate.json"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Source 不设默认（由子命令或配置提供）。
func Defaults() Config {
	return Config{
		Zip:              boolPtr(true),
		Cache:            boolPtr(true),
		Limit:            1000,
		Concurrency:      4,
		KeepLocalArchive: boolPtr(false),
		Verbose:          boolPtr(false),
		Logging:          Logging{Level: "info"},
		Members:          Members{CompCap: 500},
		Posts: Posts{
			Drafts:           boolPtr(true),
			Pages:            boolPtr(true),
			FallbackHTMLCard: boolPtr(false),
		},
	}
}

// Load 从文件路径或原始内容解析 Config（严格拒绝未知字段）。
// 扩展名为 .yaml/.yml 时按 YAML 解析，其余按 JSON。raw 非空时优先，按 JSON 解析。
func Load(path string, raw []byte) (Config, error) {
	if len(raw) > 0 {
		return LoadJSON("", raw)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Trace(err)
		}
		return LoadYAML(b)
	default:
		return LoadJSON(path, nil)
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, errors.Trace(err)
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("config: no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Annotate(err, "config: decode json")
	}
	return cfg, nil
}

// LoadYAML 解析 YAML 配置。
// 先解为通用树再转 JSON，组件 Options 子树因此仍以原样 JSON 交给工厂；未知字段同样失败。
func LoadYAML(b []byte) (Config, error) {
	var tree any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return Config{}, errors.Annotate(err, "config: decode yaml")
	}
	if tree == nil {
		return Config{}, errors.New("config: empty yaml document")
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return Config{}, errors.Annotate(err, "config: yaml to json")
	}
	return LoadJSON("", raw)
}

// LoadDotEnv 读取 .env 注入进程环境；文件不存在时忽略，已有变量不覆盖。
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return errors.Annotatef(godotenv.Load(path), "config: load %s", path)
}

// Merge 按优先级合并（后者覆盖前者）。
// 标量/字符串/原样 JSON 为“替换”；不做深度合并。零值与 nil 视为未设置。
func Merge(base, over Config) Config {
	out := base
	out.Inputs = cloneStrings(base.Inputs)
	out.Members.Labels = cloneStrings(base.Members.Labels)

	if s := strings.TrimSpace(over.Source); s != "" {
		out.Source = s
	}
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	mergeBool(&out.Zip, over.Zip)
	mergeBool(&out.Cache, over.Cache)
	mergeBool(&out.KeepLocalArchive, over.KeepLocalArchive)
	mergeBool(&out.Verbose, over.Verbose)
	mergeString(&out.TmpPath, over.TmpPath)
	mergeString(&out.OutputPath, over.OutputPath)
	mergeString(&out.CacheName, over.CacheName)
	mergeString(&out.UploadName, over.UploadName)
	if over.Limit != 0 {
		out.Limit = over.Limit
	}
	if over.SizeLimit != 0 {
		out.SizeLimit = over.SizeLimit
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}

	mergeString(&out.Logging.Level, over.Logging.Level)
	mergeString(&out.Logging.Dir, over.Logging.Dir)

	if over.Members.CompCap != 0 {
		out.Members.CompCap = over.Members.CompCap
	}
	if len(over.Members.Labels) > 0 {
		out.Members.Labels = cloneStrings(over.Members.Labels)
	}

	mergeBool(&out.Posts.Drafts, over.Posts.Drafts)
	mergeBool(&out.Posts.Pages, over.Posts.Pages)
	mergeBool(&out.Posts.FallbackHTMLCard, over.Posts.FallbackHTMLCard)
	mergeString(&out.Posts.AddTag, over.Posts.AddTag)

	// Output（存储名与选项一起替换）
	if s := strings.TrimSpace(over.Output.Storage); s != "" {
		out.Output.Storage = s
		out.Output.Options = cloneRaw(over.Output.Options)
	} else if len(over.Output.Options) > 0 {
		out.Output.Options = cloneRaw(over.Output.Options)
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Ingestor) > 0 {
		out.Options.Ingestor = cloneRaw(over.Options.Ingestor)
	}
	if len(over.Options.Formatter) > 0 {
		out.Options.Formatter = cloneRaw(over.Options.Formatter)
	}
	if len(over.Options.Converter) > 0 {
		out.Options.Converter = cloneRaw(over.Options.Converter)
	}
	if len(over.Options.Batcher) > 0 {
		out.Options.Batcher = cloneRaw(over.Options.Batcher)
	}
	return out
}

func mergeBool(dst **bool, v *bool) {
	if v != nil {
		*dst = boolPtr(*v)
	}
}

func mergeString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 GHMIGRATE_；集合之外的键忽略；数值或布尔无法解析时报错。
// CONFIG_FILE 与 CONFIG_JSON 由调用方读取，此处忽略。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key, val := kv[len(EnvPrefix):eq], kv[eq+1:]
		var err error
		switch key {
		case "SOURCE":
			over.Source = strings.TrimSpace(val)
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "ZIP":
			over.Zip, err = parseBool(val)
		case "CACHE":
			over.Cache, err = parseBool(val)
		case "KEEP_LOCAL_ARCHIVE":
			over.KeepLocalArchive, err = parseBool(val)
		case "VERBOSE":
			over.Verbose, err = parseBool(val)
		case "TMP_PATH":
			over.TmpPath = strings.TrimSpace(val)
		case "OUTPUT_PATH":
			over.OutputPath = strings.TrimSpace(val)
		case "CACHE_NAME":
			over.CacheName = strings.TrimSpace(val)
		case "UPLOAD_NAME":
			over.UploadName = strings.TrimSpace(val)
		case "LIMIT":
			over.Limit, err = atoi(val)
		case "SIZE_LIMIT":
			over.SizeLimit, err = atoi(val)
		case "CONCURRENCY":
			over.Concurrency, err = atoi(val)
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "MEMBERS_COMP_CAP":
			over.Members.CompCap, err = atoi(val)
		case "MEMBERS_LABELS":
			over.Members.Labels = splitComma(val)
		case "POSTS_DRAFTS":
			over.Posts.Drafts, err = parseBool(val)
		case "POSTS_PAGES":
			over.Posts.Pages, err = parseBool(val)
		case "POSTS_FALLBACK_HTML_CARD":
			over.Posts.FallbackHTMLCard, err = parseBool(val)
		case "POSTS_ADD_TAG":
			over.Posts.AddTag = strings.TrimSpace(val)
		case "OUTPUT_STORAGE":
			over.Output.Storage = strings.TrimSpace(val)
		case "OUTPUT_OPTIONS_JSON":
			over.Output.Options, err = rawJSON(val)
		case "OPTIONS_READER_JSON":
			over.Options.Reader, err = rawJSON(val)
		case "OPTIONS_INGESTOR_JSON":
			over.Options.Ingestor, err = rawJSON(val)
		case "OPTIONS_FORMATTER_JSON":
			over.Options.Formatter, err = rawJSON(val)
		case "OPTIONS_CONVERTER_JSON":
			over.Options.Converter, err = rawJSON(val)
		case "OPTIONS_BATCHER_JSON":
			over.Options.Batcher, err = rawJSON(val)
		}
		if err != nil {
			return Config{}, errors.Annotatef(err, "config: %s%s", EnvPrefix, key)
		}
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseBool(s string) (*bool, error) {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func rawJSON(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, errors.New("invalid json")
	}
	return json.RawMessage(s), nil
}
