package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ghmigrate/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 输出根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。默认 true。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 是否只保留文件名。默认 false：工作区需要保留 content/ 等层级。
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 为 0 表示使用默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认。
	BufSize int `json:"buf_size,omitempty"`
}

type FS struct {
	root    string
	atomic  bool
	flat    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, os.ErrInvalid
	}
	fs := &FS{root: opts.OutputDir, atomic: true, bufSize: opts.BufSize, permF: opts.PermFile, permD: opts.PermDir}
	if fs.bufSize <= 0 {
		fs.bufSize = 64 * 1024
	}
	if fs.permF == 0 {
		fs.permF = 0o644
	}
	if fs.permD == 0 {
		fs.permD = 0o755
	}
	if opts.Flat != nil {
		fs.flat = *opts.Flat
	}
	if opts.Atomic != nil {
		fs.atomic = *opts.Atomic
	}
	return fs, nil
}

var _ contract.StagedWriter = (*FS)(nil)

// Root 返回输出根目录。
func (w *FS) Root() string { return w.root }

// Write 将 r 的全部字节写入 id 映射的目标路径。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.prepare(id)
	if err != nil {
		return err
	}
	if !w.atomic {
		return w.writeOverwrite(ctx, dest, r)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return err
	}
	return w.commit(ctx, tmp, dest, r)
}

// WriteStaged 先写入 tmp，再原子替换为 id。tmp 与 id 必须位于同一目录。
// 失败时删除 tmp，不留下半成品。
func (w *FS) WriteStaged(ctx context.Context, id, tmp contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.prepare(id)
	if err != nil {
		return err
	}
	tmpPath, err := w.mapPath(tmp)
	if err != nil {
		return err
	}
	if filepath.Dir(tmpPath) != filepath.Dir(dest) || tmpPath == dest {
		return contract.ErrPathInvalid
	}
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	return w.commit(ctx, f, dest, r)
}

func (w *FS) prepare(id contract.ArtifactID) (string, error) {
	dest, err := w.mapPath(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return "", err
	}
	return dest, nil
}

// mapPath: Clean + Join + 越界校验。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if w.flat {
		rel = filepath.Base(rel)
		if rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator) {
			return "", contract.ErrPathInvalid
		}
		return filepath.Join(w.root, rel), nil
	}
	// 禁止绝对路径、父级逃逸、Windows 卷名
	if rel == "." || rel == "" || filepath.IsAbs(rel) {
		return "", contract.ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	if filepath.VolumeName(rel) != "" {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

// commit: 写满 tmp → Sync → Close → rename；任一步失败都删除 tmp。
func (w *FS) commit(ctx context.Context, tmp *os.File, dest string, r io.Reader) error {
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := replaceFile(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力
	_ = syncParent(filepath.Dir(dest))
	return nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
