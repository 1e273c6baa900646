// Package archive 把工作区内容区打包为单个 zip 交付物。
package archive

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/klauspost/compress/zip"

	"ghmigrate/pkg/contract"
)

// entryTime: 所有条目的固定修改时间，保证同内容归档字节一致。
var entryTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Builder 写出与删除归档。零值可用。
type Builder struct{}

// New 返回默认 Builder。
func New() *Builder { return &Builder{} }

// Write 将 sourceDir 下所有常规文件按相对路径（'/' 分隔、字典序）写入 baseDir/name。
// 先写同目录临时文件再改名；任何错误都标注为 ErrArchiveWrite，且不留下目标文件。
func (b *Builder) Write(baseDir, sourceDir, name string) (*contract.OutputFile, error) {
	if strings.TrimSpace(name) == "" || filepath.Base(name) != name {
		return nil, errors.WithType(errors.Annotatef(contract.ErrPathInvalid, "archive: bad name %q", name), contract.ErrArchiveWrite)
	}
	files, err := collect(sourceDir)
	if err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "archive: scan %s", sourceDir), contract.ErrArchiveWrite)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "archive: create %s", baseDir), contract.ErrArchiveWrite)
	}
	dest := filepath.Join(baseDir, name)
	size, err := writeZip(dest, sourceDir, files)
	if err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "archive: write %s", dest), contract.ErrArchiveWrite)
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		abs = dest
	}
	return &contract.OutputFile{Path: abs, Name: name, Size: size}, nil
}

// DeleteFile 删除本地归档；文件不存在视为成功。
func (b *Builder) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Annotatef(err, "archive: delete %s", path)
	}
	return nil
}

// collect 返回排序后的相对路径（'/' 分隔）。
func collect(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(out)
	return out, err
}

func writeZip(dest, root string, files []string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*.zip")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	fail := func(err error) (int64, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}

	bw := bufio.NewWriterSize(tmp, 256*1024)
	zw := zip.NewWriter(bw)
	for _, rel := range files {
		if err := addFile(zw, root, rel); err != nil {
			return fail(err)
		}
	}
	if err := zw.Close(); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	fi, err := tmp.Stat()
	if err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	return fi.Size(), nil
}

func addFile(zw *zip.Writer, root, rel string) error {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer f.Close()
	hdr := &zip.FileHeader{Name: rel, Method: zip.Deflate, Modified: entryTime}
	hdr.SetMode(0o644)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
