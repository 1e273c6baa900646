// Package cache 管理单次迁移的工作区（Staging Cache）。
//
// 目录布局：
//
//	<base>/<key>/
//	  tmp/   调试检查点，可反复覆盖
//	  zip/   内容区，与最终归档布局一致；每次 Initialize 清空
//	  logs/  错误与诊断日志，不进入归档
//
// base 为调用方提供的 TmpPath，缺省为 $TMPDIR/ghmigrate。
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"ghmigrate/pkg/contract"
	"ghmigrate/pkg/slug"
	"ghmigrate/plugins/writer/filesystem"
)

const (
	// DefaultImportFileName: 规范 JSON 的默认文件名。
	DefaultImportFileName = "ghost-import.json"
	maxKeyLen             = 64
)

// Options: 工作区选项。
type Options struct {
	// TmpPath: 工作区根目录；为空时使用系统临时目录下的 ghmigrate。
	TmpPath string
	// Clock: 用于默认文件名中的时间戳；nil 为墙钟。
	Clock clock.Clock
}

// ImportFileOptions: 内容区写入选项。
type ImportFileOptions struct {
	IsJSON      bool
	Filename    string
	TmpFilename string
}

// ErrorFileOptions: 日志写入选项。
type ErrorFileOptions struct {
	Filename string
}

// Cache 为一次运行独占；只由 Initialize 阶段创建，只由 Cleanup 阶段清空。
type Cache struct {
	name  string
	key   string
	dir   string
	clock clock.Clock
	tmpW  *filesystem.FS
	zipW  *filesystem.FS
	logW  *filesystem.FS
}

// Base 返回工作区根目录；tmpPath 为空时为 $TMPDIR/ghmigrate。
func Base(tmpPath string) string {
	if base := strings.TrimSpace(tmpPath); base != "" {
		return base
	}
	return filepath.Join(os.TempDir(), "ghmigrate")
}

// Initialize 创建（或复用）名为 name 的工作区。
// 复用时保留 tmp/ 与 logs/，zip/ 从空开始，上次运行的内容不会进入本次归档。
func Initialize(name string, opts Options) (*Cache, error) {
	key := Slug(name)
	if key == "" {
		return nil, errors.WithType(errors.Errorf("cache: name %q yields empty key", name), contract.ErrInitialization)
	}
	c := &Cache{name: name, key: key, dir: filepath.Join(Base(opts.TmpPath), key), clock: opts.Clock}
	if c.clock == nil {
		c.clock = clock.WallClock
	}
	var err error
	for _, sub := range []struct {
		dir   string
		w     **filesystem.FS
		reset bool
	}{{"tmp", &c.tmpW, false}, {"zip", &c.zipW, true}, {"logs", &c.logW, false}} {
		p := filepath.Join(c.dir, sub.dir)
		if sub.reset {
			if err = os.RemoveAll(p); err != nil {
				return nil, errors.WithType(errors.Annotatef(err, "cache: reset %s", p), contract.ErrInitialization)
			}
		}
		if err = os.MkdirAll(p, 0o755); err != nil {
			return nil, errors.WithType(errors.Annotatef(err, "cache: create %s", p), contract.ErrInitialization)
		}
		if *sub.w, err = filesystem.New(&filesystem.Options{OutputDir: p}); err != nil {
			return nil, errors.WithType(errors.Trace(err), contract.ErrInitialization)
		}
	}
	return c, nil
}

// Name 返回原始名称；Key 返回目录名。
func (c *Cache) Name() string { return c.name }
func (c *Cache) Key() string  { return c.key }

func (c *Cache) Dir() string    { return c.dir }
func (c *Cache) TmpDir() string { return c.tmpW.Root() }
func (c *Cache) ZipDir() string { return c.zipW.Root() }
func (c *Cache) LogDir() string { return c.logW.Root() }

// DefaultZipFileName 返回 ghost-import-<key>-<ms>.zip。
func (c *Cache) DefaultZipFileName() string {
	return fmt.Sprintf("ghost-import-%s-%d.zip", c.key, c.clock.Now().UnixMilli())
}

// WriteTmpFile 把检查点写入 tmp/，同名覆盖。
func (c *Cache) WriteTmpFile(ctx context.Context, data any, fileName string, isJSON bool) (string, error) {
	b, err := encode(data, isJSON)
	if err != nil {
		return "", errors.Annotatef(err, "cache: encode %s", fileName)
	}
	if err := c.tmpW.Write(ctx, contract.ArtifactID(fileName), bytes.NewReader(b)); err != nil {
		return "", errors.Annotatef(err, "cache: write tmp %s", fileName)
	}
	return filepath.Join(c.TmpDir(), filepath.FromSlash(fileName)), nil
}

// WriteImportFile 把最终形态文件写入 zip/。
// 指定 TmpFilename 时先写临时名再原子改名，否则由 writer 生成临时名。
func (c *Cache) WriteImportFile(ctx context.Context, data any, opts ImportFileOptions) (string, error) {
	name := opts.Filename
	if name == "" {
		name = DefaultImportFileName
	}
	b, err := encode(data, opts.IsJSON)
	if err != nil {
		return "", errors.Annotatef(err, "cache: encode %s", name)
	}
	if opts.TmpFilename != "" {
		err = c.zipW.WriteStaged(ctx, contract.ArtifactID(name), contract.ArtifactID(opts.TmpFilename), bytes.NewReader(b))
	} else {
		err = c.zipW.Write(ctx, contract.ArtifactID(name), bytes.NewReader(b))
	}
	if err != nil {
		return "", errors.Annotatef(err, "cache: write import file %s", name)
	}
	return filepath.Join(c.ZipDir(), filepath.FromSlash(name)), nil
}

// WriteErrorJSONFile 把日志条目写入 logs/；默认名 gh-errors-<ms>.logs.json。
func (c *Cache) WriteErrorJSONFile(ctx context.Context, entries any, opts ErrorFileOptions) (string, error) {
	name := opts.Filename
	if name == "" {
		name = fmt.Sprintf("gh-errors-%d.logs.json", c.clock.Now().UnixMilli())
	}
	b, err := encode(entries, true)
	if err != nil {
		return "", errors.Annotatef(err, "cache: encode %s", name)
	}
	if err := c.logW.Write(ctx, contract.ArtifactID(name), bytes.NewReader(b)); err != nil {
		return "", errors.Annotatef(err, "cache: write log %s", name)
	}
	return filepath.Join(c.LogDir(), name), nil
}

// EmptyCurrentCacheDir 递归删除整个工作区。
func (c *Cache) EmptyCurrentCacheDir() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return errors.WithType(errors.Annotatef(err, "cache: remove %s", c.dir), contract.ErrCleanup)
	}
	return nil
}

// encode: JSON 使用 4 空格缩进；非 JSON 接受 []byte/string/io.Reader。
func encode(data any, isJSON bool) ([]byte, error) {
	if isJSON {
		return json.MarshalIndent(data, "", "    ")
	}
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case io.Reader:
		return io.ReadAll(v)
	default:
		return nil, errors.Annotatef(contract.ErrInvalidInput, "unsupported raw data %T", data)
	}
}

// Slug 把任意名称（常为文件路径）转为目录名，规则同 slug.Make。
// 过长时按字符边界截断并追加摘要，保证不同名称不冲突。
func Slug(name string) string {
	s := slug.Make(name)
	if len(s) <= maxKeyLen {
		return s
	}
	cut := s[:maxKeyLen-9]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	sum := sha256.Sum256([]byte(name))
	return strings.TrimRight(cut, "-") + "-" + hex.EncodeToString(sum[:4])
}
