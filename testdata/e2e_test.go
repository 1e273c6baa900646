package testdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/klauspost/compress/zip"

	cfgpkg "ghmigrate/internal/config"
	"ghmigrate/internal/diag"
	"ghmigrate/internal/pipeline"
	"ghmigrate/internal/sources"
	"ghmigrate/pkg/contract"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// baseConfig 构造可运行的最小配置：归档写入 out，工作区位于 tmp。
func baseConfig(source string, inputs []string, tmp, out string) cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Source = source
	cfg.Inputs = inputs
	cfg.TmpPath = tmp
	cfg.OutputPath = out
	cfg.Logging.Level = "error"
	return cfg
}

// runMigration 装配并执行完整迁移。
func runMigration(t *testing.T, cfg cfgpkg.Config) (*pipeline.State, error) {
	t.Helper()
	clk := testclock.NewClock(epoch)
	m, err := cfgpkg.Assemble(context.Background(), cfg, clk)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return sources.Run(context.Background(), m, clk, diag.NewLoggerTo("e2e", "error", io.Discard))
}

// zipEntries 读取归档内全部条目。
func zipEntries(t *testing.T, p string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(p)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		out[f.Name] = b
	}
	return out
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// 相同输入、不同工作区名两次运行，归档字节一致；cache=false 时工作区被清理。
func TestE2EWordPressDeterministic(t *testing.T) {
	in, err := filepath.Abs(filepath.Join("..", "plugins", "ingest", "wpxml", "testdata", "sample.xml"))
	if err != nil {
		t.Fatal(err)
	}
	var archives [][]byte
	for _, name := range []string{"first", "second"} {
		tmp, out := t.TempDir(), t.TempDir()
		cfg := baseConfig("wp-xml", []string{in}, tmp, out)
		cfg.CacheName = name
		no := false
		cfg.Cache = &no

		st, err := runMigration(t, cfg)
		if err != nil {
			t.Fatalf("%s: run: %v", name, err)
		}
		of := st.OutputFile()
		if of == nil || of.Size == 0 {
			t.Fatalf("%s: 未产出归档", name)
		}
		if _, err := os.Stat(st.Cache().Dir()); !os.IsNotExist(err) {
			t.Fatalf("%s: 工作区未清理: %v", name, err)
		}
		b, err := os.ReadFile(of.Path)
		if err != nil {
			t.Fatalf("%s: read archive: %v", name, err)
		}
		archives = append(archives, b)

		entries := zipEntries(t, of.Path)
		if got := keys(entries); len(got) != 1 || got[0] != "ghost-import.json" {
			t.Fatalf("%s: 归档条目错误: %v", name, got)
		}
		var doc contract.Document
		if err := json.Unmarshal(entries["ghost-import.json"], &doc); err != nil {
			t.Fatalf("%s: decode document: %v", name, err)
		}
		if len(doc.Data.Posts) == 0 || doc.Meta.ExportedOn == 0 {
			t.Fatalf("%s: 文档为空: %+v", name, doc.Meta)
		}
	}
	if !bytes.Equal(archives[0], archives[1]) {
		t.Fatalf("两次归档字节不一致")
	}
}

// Curated 导出：每期一篇帖子，栏目成为标签。
func TestE2ECurated(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, body := range []string{
		`{"number":1,"title":"First","summary":"Hello","published_at":"2021-05-01T10:00:00Z","categories":[{"name":"Links","items":[{"title":"Go","description":"A language","url":"https://go.dev"}]}]}`,
		`{"number":2,"title":"","summary":"Quiet week","published_at":"2021-05-08T10:00:00Z","categories":[]}`,
		`not json`,
	} {
		w, err := zw.Create(fmt.Sprintf("issues/%03d.json", i+1))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "curated.zip")
	if err := os.WriteFile(in, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := runMigration(t, baseConfig("curated", []string{in}, t.TempDir(), t.TempDir()))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Degraded() {
		t.Fatalf("不应记录错误: %+v", st.Errors())
	}
	if len(st.Warnings()) == 0 {
		t.Fatalf("损坏的期刊应产生警告")
	}
	entries := zipEntries(t, st.OutputFile().Path)
	var doc contract.Document
	if err := json.Unmarshal(entries["ghost-import.json"], &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	var slugs []string
	for _, p := range doc.Data.Posts {
		slugs = append(slugs, p.Slug)
		if p.Mobiledoc == "" && p.HTML == "" {
			t.Fatalf("%s: 正文为空", p.Slug)
		}
	}
	if strings.Join(slugs, ",") != "issue-1,issue-2" {
		t.Fatalf("帖子错误: %v", slugs)
	}
	var tags []string
	for _, tg := range doc.Data.Tags {
		tags = append(tags, tg.Slug)
	}
	if !strings.Contains(strings.Join(tags, ","), "links") {
		t.Fatalf("栏目未成为标签: %v", tags)
	}
	// cache 默认保留，工作区仍在
	if _, err := os.Stat(st.Cache().Dir()); err != nil {
		t.Fatalf("工作区应保留: %v", err)
	}
}

// 会员迁移：按类别切批，comp 受上限约束，归档经 fs 存储“上传”后本地删除。
func TestE2ESubstackMembersUpload(t *testing.T) {
	dir := t.TempDir()
	var csv strings.Builder
	csv.WriteString("email,active_subscription,plan,email_disabled,created_at,stripe_connected_customer_id\n")
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&csv, "comp%d@example.com,true,comp,false,2021-01-0%dT00:00:00Z,\n", i, i+1)
	}
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&csv, "free%d@example.com,false,,false,,\n", i)
	}
	csv.WriteString("not-an-email,false,,false,,\n")
	in := filepath.Join(dir, "members.csv")
	if err := os.WriteFile(in, []byte(csv.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	remote := filepath.Join(dir, "remote")

	cfg := baseConfig("substack-members", []string{in}, filepath.Join(dir, "tmp"), filepath.Join(dir, "out"))
	if err := os.MkdirAll(cfg.OutputPath, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg.CacheName = "newsletter"
	cfg.Limit = 5
	cfg.Members.CompCap = 3
	cfg.Output = cfgpkg.Output{Storage: "fs", Options: json.RawMessage(fmt.Sprintf(`{"dir":%q}`, remote))}
	no := false
	cfg.Cache = &no

	st, err := runMigration(t, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var sizes []string
	for _, b := range st.Result.Batches {
		sizes = append(sizes, fmt.Sprintf("%s-%d:%d", b.Category, b.Number, b.Records))
	}
	if got := strings.Join(sizes, ","); got != "comp-1:3,comp-2:3,comp-3:1,free-1:3" {
		t.Fatalf("分批错误: %s", got)
	}

	of := st.OutputFile()
	if of == nil || !of.Uploaded {
		t.Fatalf("归档应已上传: %+v", of)
	}
	if _, err := os.Stat(of.Path); !os.IsNotExist(err) {
		t.Fatalf("上传后本地归档应删除: %v", err)
	}
	want := filepath.Join(remote, "gh-substack-members-newsletter.zip")
	if of.Location != want {
		t.Fatalf("远端位置错误: %s", of.Location)
	}
	entries := zipEntries(t, want)
	if got := strings.Join(keys(entries), ","); got != "gh-members-comp-batch-1.csv,gh-members-comp-batch-2.csv,gh-members-comp-batch-3.csv,gh-members-free-batch-1.csv" {
		t.Fatalf("归档条目错误: %s", got)
	}
	if !strings.HasPrefix(string(entries["gh-members-comp-batch-1.csv"]), strings.Join(contract.MemberFields, ",")+"\n") {
		t.Fatalf("CSV 表头错误: %s", entries["gh-members-comp-batch-1.csv"])
	}
	if _, err := os.Stat(st.Cache().Dir()); !os.IsNotExist(err) {
		t.Fatalf("工作区未清理: %v", err)
	}
}
