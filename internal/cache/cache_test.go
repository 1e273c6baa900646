package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghmigrate/pkg/contract"
)

func newCache(t *testing.T, name string) *Cache {
	t.Helper()
	c, err := Initialize(name, Options{TmpPath: t.TempDir(), Clock: testclock.NewClock(time.UnixMilli(1700000000000))})
	require.NoError(t, err)
	return c
}

// 初始化创建 tmp/zip/logs 三个子区，重复初始化复用同一目录。
func TestInitializeLayout(t *testing.T) {
	base := t.TempDir()
	c, err := Initialize("substack-members-/data/export.csv", Options{TmpPath: base})
	require.NoError(t, err)
	assert.Equal(t, "substack-members-data-export-csv", c.Key())
	assert.Equal(t, filepath.Join(base, c.Key()), c.Dir())
	for _, d := range []string{c.TmpDir(), c.ZipDir(), c.LogDir()} {
		fi, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
	again, err := Initialize("substack-members-/data/export.csv", Options{TmpPath: base})
	require.NoError(t, err)
	assert.Equal(t, c.Dir(), again.Dir())
}

// 复用工作区时清空 zip/，保留 tmp/ 与 logs/。
func TestInitializeResetsContentArea(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()
	c, err := Initialize("members", Options{TmpPath: base})
	require.NoError(t, err)
	stale, err := c.WriteImportFile(ctx, "old", ImportFileOptions{Filename: "gh-members-free-batch-5.csv"})
	require.NoError(t, err)
	ckpt, err := c.WriteTmpFile(ctx, "x", "ingested.json", false)
	require.NoError(t, err)
	log, err := c.WriteErrorJSONFile(ctx, []string{"w"}, ErrorFileOptions{Filename: "gh-errors-1.logs.json"})
	require.NoError(t, err)

	again, err := Initialize("members", Options{TmpPath: base})
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	entries, err := os.ReadDir(again.ZipDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.FileExists(t, ckpt)
	assert.FileExists(t, log)
}

// 名称无法生成目录名、根目录不可用时返回 ErrInitialization。
func TestInitializeErrors(t *testing.T) {
	_, err := Initialize("  ///  ", Options{TmpPath: t.TempDir()})
	assert.True(t, errors.Is(err, contract.ErrInitialization))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = Initialize("run", Options{TmpPath: file})
	assert.True(t, errors.Is(err, contract.ErrInitialization))
}

// Slug 规则与超长截断。
func TestSlug(t *testing.T) {
	assert.Equal(t, "my-export-zip", Slug("  My Export.zip "))
	assert.Equal(t, "", Slug("---"))
	long := strings.Repeat("abc/", 40)
	s := Slug(long)
	assert.LessOrEqual(t, len(s), maxKeyLen)
	assert.NotEqual(t, s, Slug(long+"x"))

	assert.Equal(t, "hash-wp", Slug("#wp"))
	wide := Slug(strings.Repeat("会员导出", 20))
	assert.LessOrEqual(t, len(wide), maxKeyLen)
	assert.True(t, utf8.ValidString(wide))
}

// 检查点按 JSON 缩进写入 tmp/，同名覆盖。
func TestWriteTmpFile(t *testing.T) {
	c := newCache(t, "run")
	ctx := context.Background()
	p, err := c.WriteTmpFile(ctx, map[string]int{"a": 1}, "data.json", true)
	require.NoError(t, err)
	b, _ := os.ReadFile(p)
	assert.Equal(t, "{\n    \"a\": 1\n}", string(b))

	_, err = c.WriteTmpFile(ctx, "raw", "data.json", false)
	require.NoError(t, err)
	b, _ = os.ReadFile(p)
	assert.Equal(t, "raw", string(b))

	_, err = c.WriteTmpFile(ctx, 42, "bad.txt", false)
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
}

// 内容区写入：默认文件名、暂存改名、无临时残留。
func TestWriteImportFile(t *testing.T) {
	c := newCache(t, "run")
	ctx := context.Background()
	p, err := c.WriteImportFile(ctx, map[string]string{"k": "v"}, ImportFileOptions{IsJSON: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.ZipDir(), DefaultImportFileName), p)

	p, err = c.WriteImportFile(ctx, []byte("email\n"), ImportFileOptions{
		Filename:    "gh-members-free-batch-1.csv",
		TmpFilename: "gh-members-free-batch-1-1700000000000.csv",
	})
	require.NoError(t, err)
	b, _ := os.ReadFile(p)
	assert.Equal(t, "email\n", string(b))

	entries, _ := os.ReadDir(c.ZipDir())
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{DefaultImportFileName, "gh-members-free-batch-1.csv"}, names)
}

// 错误日志写入 logs/，默认名带时间戳。
func TestWriteErrorJSONFile(t *testing.T) {
	c := newCache(t, "run")
	p, err := c.WriteErrorJSONFile(context.Background(), []string{"boom"}, ErrorFileOptions{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.LogDir(), "gh-errors-1700000000000.logs.json"), p)
	assert.Equal(t, "ghost-import-run-1700000000000.zip", c.DefaultZipFileName())
}

// 清空后工作区不存在；重复清空不报错。
func TestEmptyCurrentCacheDir(t *testing.T) {
	c := newCache(t, "run")
	_, err := c.WriteTmpFile(context.Background(), "x", "a.txt", false)
	require.NoError(t, err)
	require.NoError(t, c.EmptyCurrentCacheDir())
	_, err = os.Stat(c.Dir())
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, c.EmptyCurrentCacheDir())
}
