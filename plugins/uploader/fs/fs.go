// Package fs 把归档“上传”到本地或挂载目录（共享盘、同步目录）。
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"path/filepath"
	"strings"

	"github.com/juju/errors"

	"ghmigrate/pkg/contract"
	wfs "ghmigrate/plugins/writer/filesystem"
)

// Options: Dir 为目标目录（必需）。
type Options struct {
	Dir string `json:"dir"`
	// Subdir: 目标目录下的子路径。
	Subdir string `json:"subdir,omitempty"`
}

// Uploader 实现 contract.Uploader，写入经原子替换完成。
type Uploader struct {
	w      *wfs.FS
	subdir string
}

// New 从原样 JSON 选项构造上传器。
func New(raw json.RawMessage) (*Uploader, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, errors.Annotate(err, "fs uploader options")
		}
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.Annotate(contract.ErrInvalidInput, "fs uploader: missing dir")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	w, err := wfs.New(&wfs.Options{OutputDir: dir})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Uploader{w: w, subdir: strings.Trim(filepath.ToSlash(opts.Subdir), "/")}, nil
}

var _ contract.Uploader = (*Uploader)(nil)

// Upload 写入 <dir>/<subdir>/<fileName>；Location 为绝对路径。
func (u *Uploader) Upload(ctx context.Context, req contract.UploadRequest) (contract.UploadResult, error) {
	name := path.Base(strings.ReplaceAll(req.FileName, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return contract.UploadResult{}, errors.Annotatef(contract.ErrPathInvalid, "fs uploader: bad file name %q", req.FileName)
	}
	id := name
	if u.subdir != "" {
		id = path.Join(u.subdir, name)
	}
	if err := u.w.Write(ctx, contract.ArtifactID(id), bytes.NewReader(req.Body)); err != nil {
		return contract.UploadResult{}, errors.Annotatef(err, "fs uploader: write %s", id)
	}
	return contract.UploadResult{Location: filepath.Join(u.w.Root(), filepath.FromSlash(id))}, nil
}
