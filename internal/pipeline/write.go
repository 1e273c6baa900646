package pipeline

import (
	"context"

	"github.com/juju/errors"

	"ghmigrate/internal/cache"
	"ghmigrate/pkg/contract"
)

// WriteImportStage 把 Result.Document 写入内容区。
type WriteImportStage struct {
	Gate
	Title    string
	Filename string
}

func (s *WriteImportStage) Name() string { return title(s.Title, "write") }
func (s *WriteImportStage) Kind() Kind   { return KindWrite }

func (s *WriteImportStage) Execute(ctx context.Context, st *State) error {
	name := s.Name()
	c, err := requireCache(st, name, contract.ErrArchiveWrite)
	if err != nil {
		return err
	}
	if st.Result.Document == nil {
		return st.Fail(name, contract.ErrArchiveWrite, errors.Annotate(contract.ErrInvariantViolation, "document is required"))
	}
	if _, err := c.WriteImportFile(ctx, st.Result.Document, cache.ImportFileOptions{IsJSON: true, Filename: s.Filename}); err != nil {
		return st.Fail(name, contract.ErrArchiveWrite, err)
	}
	return nil
}
