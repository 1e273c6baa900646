package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"ghmigrate/internal/pipeline"
	"ghmigrate/pkg/contract"
	"ghmigrate/plugins/batcher/fixed"
)

// UT-CFG-01: 解析完整 JSON 配置
func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON("../../testdata/config/basic.json", nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Source != "substack-members" || cfg.CacheName != "newsletter" {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	if !Bool(cfg.Zip) || cfg.Cache == nil || *cfg.Cache {
		t.Fatalf("布尔字段错误: zip=%v cache=%v", cfg.Zip, cfg.Cache)
	}
	if cfg.Members.CompCap != 250 || len(cfg.Members.Labels) != 1 || cfg.Output.Storage != "fs" {
		t.Fatalf("嵌套字段错误: %+v", cfg)
	}
	if err := Validate(Merge(Defaults(), cfg)); err != nil {
		t.Fatalf("校验失败: %v", err)
	}
}

// UT-CFG-02: YAML 与 JSON 走同一严格解码
func TestLoadYAML(t *testing.T) {
	cfg, err := Load("../../testdata/config/basic.yaml", nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Source != "wp-xml" || cfg.Posts.AddTag != "Imported" {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	if cfg.Posts.Drafts == nil || *cfg.Posts.Drafts || !Bool(cfg.Posts.FallbackHTMLCard) {
		t.Fatalf("posts 开关错误: %+v", cfg.Posts)
	}
	var f struct {
		EmailDomain string `json:"email_domain"`
	}
	if err := json.Unmarshal(cfg.Options.Formatter, &f); err != nil || f.EmailDomain != "example.org" {
		t.Fatalf("options 子树未保留: %s %v", cfg.Options.Formatter, err)
	}
	if _, err := LoadYAML([]byte("source: wp-xml\nunknown: 1\n")); err == nil {
		t.Fatal("YAML 未知字段应报错")
	}
	if _, err := LoadYAML([]byte("")); err == nil {
		t.Fatal("空 YAML 应报错")
	}
}

// UT-CFG-03: 含非法字段
func TestLoadJSONUnknown(t *testing.T) {
	raw := []byte(`{"unknown":1}`)
	if _, err := LoadJSON("", raw); err == nil {
		t.Fatalf("应当返回错误")
	}
	if _, err := LoadJSON("", nil); err == nil {
		t.Fatalf("无来源应当返回错误")
	}
}

// UT-CFG-04: ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"GHMIGRATE_SOURCE=curated",
		"GHMIGRATE_INPUTS=a.zip, b.zip",
		"GHMIGRATE_CONCURRENCY=3",
		"GHMIGRATE_ZIP=false",
		"GHMIGRATE_MEMBERS_LABELS=x,y",
		`GHMIGRATE_OUTPUT_OPTIONS_JSON={"dir":"up"}`,
		"OTHER_LIMIT=9",
	}
	over, err := EnvOverlay(env)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	if over.Source != "curated" || over.Concurrency != 3 || len(over.Inputs) != 2 || over.Limit != 0 {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	if over.Zip == nil || *over.Zip {
		t.Fatalf("ZIP=false 未生效: %v", over.Zip)
	}
	if string(over.Output.Options) != `{"dir":"up"}` || len(over.Members.Labels) != 2 {
		t.Fatalf("结构化覆盖错误: %+v", over)
	}
	for _, bad := range []string{"GHMIGRATE_LIMIT=ten", "GHMIGRATE_CACHE=maybe", "GHMIGRATE_OUTPUT_OPTIONS_JSON={"} {
		if _, err := EnvOverlay([]string{bad}); err == nil || !strings.Contains(err.Error(), "GHMIGRATE_") {
			t.Fatalf("%s 应报错并带键名: %v", bad, err)
		}
	}
}

// UT-CFG-05: 合并优先级；显式 false 可覆盖默认 true
func TestMerge(t *testing.T) {
	base := Defaults()
	base.Members.Labels = []string{"a"}
	over := Config{Cache: boolPtr(false), Limit: 20, Posts: Posts{AddTag: " Tag "}}
	out := Merge(base, over)
	if Bool(out.Cache) || !Bool(out.Zip) || out.Limit != 20 || out.Posts.AddTag != "Tag" {
		t.Fatalf("合并结果错误: %+v", out)
	}
	out.Members.Labels[0] = "changed"
	if base.Members.Labels[0] != "a" {
		t.Fatal("Merge 不应共享切片")
	}
	if out.Concurrency != 4 || out.Members.CompCap != 500 {
		t.Fatalf("未覆盖字段应保持默认: %+v", out)
	}
}

// 补充覆盖: splitComma、atoi 与 cloneRaw
func TestHelpers(t *testing.T) {
	parts := splitComma("a, b , ,c")
	if len(parts) != 3 || parts[1] != "b" {
		t.Fatalf("splitComma 结果错误: %v", parts)
	}
	if v, err := atoi("10"); err != nil || v != 10 {
		t.Fatalf("atoi 失败: %v %d", err, v)
	}
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	if string(dst) != "abc" {
		t.Fatalf("cloneRaw 未复制")
	}
}

// 补充覆盖: Validate 错误分支
func TestValidateErrors(t *testing.T) {
	if err := Validate(Config{}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("空配置应失败: %v", err)
	}
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"未知来源", func(c *Config) { c.Source = "ghost" }},
		{"缺少输入", func(c *Config) { c.Inputs = nil }},
		{"混用 '-'", func(c *Config) { c.Inputs = []string{"-", "a.xml"} }},
		{"内容迁移多输入", func(c *Config) { c.Inputs = []string{"a.xml", "b.xml"} }},
		{"并发为 0", func(c *Config) { c.Concurrency = 0 }},
		{"未知日志级别", func(c *Config) { c.Logging.Level = "loud" }},
		{"未知存储", func(c *Config) { c.Output.Storage = "ftp" }},
		{"上传但不归档", func(c *Config) { c.Output.Storage = "fs"; c.Zip = boolPtr(false) }},
		{"负 size_limit", func(c *Config) { c.SizeLimit = -1 }},
	}
	for _, tc := range cases {
		cfg := DefaultTemplateConfig()
		tc.mut(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s 应失败", tc.name)
		}
	}
	cfg := DefaultTemplateConfig()
	cfg.Source = "substack-members"
	cfg.Limit = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("会员迁移 limit<=0 应失败")
	}
	if err := Validate(DefaultTemplateConfig()); err != nil {
		t.Fatalf("模板应通过校验: %v", err)
	}
}

func kinds(stages []pipeline.Stage) []pipeline.Kind {
	var out []pipeline.Kind
	for _, s := range stages {
		out = append(out, s.Kind())
	}
	return out
}

// UT-CFG-06: 装配会员迁移；顶层开关补齐组件选项，上传器按存储名构造
func TestAssembleMembers(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := Defaults()
	cfg.Source = "substack-members"
	cfg.Inputs = []string{"members.csv"}
	cfg.Limit = 1000
	cfg.Members.CompCap = 250
	cfg.Output = Output{Storage: "fs", Options: json.RawMessage(fmt.Sprintf(`{"dir":%q}`, t.TempDir()))}

	m, err := Assemble(context.Background(), cfg, clk)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	if m.Name != "substack-members" || m.Options.Source != "substack-members" || m.Options.Limit != 1000 {
		t.Fatalf("迁移描述错误: %+v", m.Options)
	}
	want := []pipeline.Kind{pipeline.KindInitialize, pipeline.KindIngest, pipeline.KindBatch, pipeline.KindArchive, pipeline.KindUpload, pipeline.KindCleanup}
	if got := kinds(m.Stages); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("阶段序列错误: %v", got)
	}
	bs, ok := m.Stages[2].(*pipeline.BatchStage)
	if !ok {
		t.Fatalf("第三阶段应为 BatchStage: %T", m.Stages[2])
	}
	if got := bs.Batcher.(*fixed.Batcher).EffectiveSize("comp"); got != 250 {
		t.Fatalf("comp 上限未生效: %d", got)
	}
	if got := bs.Batcher.(*fixed.Batcher).EffectiveSize("paid"); got != 1000 {
		t.Fatalf("limit 未生效: %d", got)
	}
	st := pipeline.NewState(m.Options, clk, nil)
	if !m.Stages[4].Enabled(st) {
		t.Fatal("配置存储后上传阶段应启用")
	}

	cfg.Options.Batcher = json.RawMessage(`{"size":10}`)
	m, err = Assemble(context.Background(), cfg, clk)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	if got := m.Stages[2].(*pipeline.BatchStage).Batcher.(*fixed.Batcher).EffectiveSize("paid"); got != 10 {
		t.Fatalf("显式 options 应优先: %d", got)
	}

	cfg.Output.Options = json.RawMessage(`{}`)
	if _, err := Assemble(context.Background(), cfg, clk); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("存储选项缺失应失败: %v", err)
	}
}

// UT-CFG-07: 装配内容迁移；默认模板即可装配
func TestAssemblePosts(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	m, err := Assemble(context.Background(), DefaultTemplateConfig(), clk)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	want := []pipeline.Kind{pipeline.KindInitialize, pipeline.KindIngest, pipeline.KindTransform, pipeline.KindConvert, pipeline.KindWrite, pipeline.KindArchive, pipeline.KindUpload, pipeline.KindCleanup}
	if got := kinds(m.Stages); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("阶段序列错误: %v", got)
	}
	ts := m.Stages[2].(*pipeline.TransformStage)
	if !ts.Options.Drafts || !ts.Options.Pages || ts.Options.AddTag != "" {
		t.Fatalf("格式化选项错误: %+v", ts.Options)
	}
	st := pipeline.NewState(m.Options, clk, nil)
	if m.Stages[6].Enabled(st) {
		t.Fatal("未配置存储时上传阶段应停用")
	}

	cfg := DefaultTemplateConfig()
	cfg.Options.Converter = json.RawMessage(`{"bogus":true}`)
	if _, err := Assemble(context.Background(), cfg, clk); err == nil {
		t.Fatal("转换器未知选项应失败")
	}
}

// withDefault 只补缺失键。
func TestWithDefault(t *testing.T) {
	raw, err := withDefault(nil, "size", 5)
	if err != nil || string(raw) != `{"size":5}` {
		t.Fatalf("空对象补齐错误: %s %v", raw, err)
	}
	raw, err = withDefault(json.RawMessage(`{"size":1}`), "size", 5)
	if err != nil || string(raw) != `{"size":1}` {
		t.Fatalf("已有键不应覆盖: %s %v", raw, err)
	}
	if _, err := withDefault(json.RawMessage(`[1]`), "size", 5); err == nil {
		t.Fatal("非对象应报错")
	}
}

// LoadDotEnv 不覆盖已有变量，缺失文件忽略。
func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("缺失文件应忽略: %v", err)
	}
	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("GHMIGRATE_TEST_A=file\nGHMIGRATE_TEST_B=\"quoted value\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GHMIGRATE_TEST_A", "env")
	t.Setenv("GHMIGRATE_TEST_B", "")
	os.Unsetenv("GHMIGRATE_TEST_B")
	if err := LoadDotEnv(p); err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if got := os.Getenv("GHMIGRATE_TEST_A"); got != "env" {
		t.Fatalf("不应覆盖已有变量: %s", got)
	}
	if got := os.Getenv("GHMIGRATE_TEST_B"); got != "quoted value" {
		t.Fatalf("引号值解析错误: %q", got)
	}
}
