package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"

	"ghmigrate/internal/archive"
	"ghmigrate/pkg/contract"
)

// ArchiveStage 把工作区内容区写成 zip，设置 OutputFile。默认在 Zip=false 时跳过。
type ArchiveStage struct {
	Gate
	Title   string
	Builder *archive.Builder
}

// NewArchiveStage 返回 Zip=false 时跳过的归档阶段。
func NewArchiveStage(b *archive.Builder) *ArchiveStage {
	return &ArchiveStage{Gate: Gate{SkipIf: func(st *State) bool { return !st.Options().Zip }}, Builder: b}
}

func (s *ArchiveStage) Name() string { return title(s.Title, "archive") }
func (s *ArchiveStage) Kind() Kind   { return KindArchive }

func (s *ArchiveStage) Execute(ctx context.Context, st *State) error {
	name := s.Name()
	c, err := requireCache(st, name, contract.ErrArchiveWrite)
	if err != nil {
		return err
	}
	b := s.Builder
	if b == nil {
		b = archive.New()
	}
	base := st.Options().OutputPath
	if base == "" {
		if base, err = os.Getwd(); err != nil {
			return st.Fail(name, contract.ErrArchiveWrite, err)
		}
	}
	of, err := b.Write(base, c.ZipDir(), c.DefaultZipFileName())
	if err != nil {
		return st.Fail(name, contract.ErrArchiveWrite, err)
	}
	st.setOutput(of)
	st.Logger().DebugStart(name, "archive written", "", "", map[string]string{"path": of.Path, "size": humanize.Bytes(uint64(of.Size))})
	return nil
}

// UploadStage 把归档上传到远端；成功且未要求保留时删除本地归档（OutputFile.Path 保留）。
// 默认仅在配置了 Uploader 且 Zip=true 时启用。
type UploadStage struct {
	Gate
	Title    string
	Uploader contract.Uploader
	Builder  *archive.Builder
}

// NewUploadStage 返回按上述条件启用的上传阶段。
func NewUploadStage(u contract.Uploader, b *archive.Builder) *UploadStage {
	s := &UploadStage{Uploader: u, Builder: b}
	s.EnabledIf = func(st *State) bool { return s.Uploader != nil && st.Options().Zip }
	return s
}

func (s *UploadStage) Name() string { return title(s.Title, "upload") }
func (s *UploadStage) Kind() Kind   { return KindUpload }

// RemoteName 返回远端文件名。
func RemoteName(opts Options, cacheKey string) string {
	if opts.UploadName != "" {
		return opts.UploadName
	}
	name := opts.CacheName
	if name == "" {
		name = cacheKey
	}
	return fmt.Sprintf("gh-%s-%s.zip", opts.Source, name)
}

func (s *UploadStage) Execute(ctx context.Context, st *State) error {
	name := s.Name()
	of := st.OutputFile()
	if of == nil || s.Uploader == nil {
		return st.Fail(name, contract.ErrUpload, errors.Annotate(contract.ErrInvariantViolation, "archive and uploader are required"))
	}
	body, err := os.ReadFile(of.Path)
	if err != nil {
		return st.Fail(name, contract.ErrUpload, err)
	}
	key := ""
	if c := st.Cache(); c != nil {
		key = c.Key()
	}
	opts := st.Options()
	res, err := s.Uploader.Upload(ctx, contract.UploadRequest{Body: body, FileName: RemoteName(opts, key)})
	if err != nil {
		return st.Fail(name, contract.ErrUpload, err)
	}
	of.Uploaded = true
	of.Location = res.Location
	if opts.KeepLocalArchive {
		return nil
	}
	b := s.Builder
	if b == nil {
		b = archive.New()
	}
	if err := b.DeleteFile(of.Path); err != nil {
		st.Error(name, of.Name, errors.WithType(err, contract.ErrCleanup))
	}
	return nil
}
