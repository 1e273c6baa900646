package pipeline

import (
	"context"
	"io"

	"github.com/juju/errors"

	"ghmigrate/pkg/contract"
)

// IngestStage 读取源导出并写入 Result.Ingested。
// Checkpoint 非空时把结果写入工作区 tmp/ 便于排查。
type IngestStage struct {
	Gate
	Title      string
	Reader     contract.Reader
	Ingestor   contract.Ingestor
	Checkpoint string
}

func (s *IngestStage) Name() string { return title(s.Title, "ingest") }
func (s *IngestStage) Kind() Kind   { return KindIngest }

func (s *IngestStage) Execute(ctx context.Context, st *State) error {
	name := s.Name()
	if s.Reader == nil || s.Ingestor == nil {
		return st.Fail(name, contract.ErrIngest, errors.Annotate(contract.ErrInvariantViolation, "reader and ingestor are required"))
	}
	c, err := requireCache(st, name, contract.ErrIngest)
	if err != nil {
		return err
	}
	in := &contract.Ingested{}
	files := 0
	err = s.Reader.Iterate(ctx, st.Options().Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		files++
		if err := s.Ingestor.Ingest(ctx, fid, rc, in); err != nil {
			return errors.Annotatef(err, "read %s", fid)
		}
		return nil
	})
	if err != nil {
		return st.Fail(name, contract.ErrIngest, err)
	}
	if files == 0 {
		return st.Fail(name, contract.ErrIngest, errors.Annotate(contract.ErrInvalidInput, "no source files found"))
	}
	for _, n := range in.Notices {
		st.Warn(name, n.RecordID, n.Message)
	}
	st.Result.Ingested = in
	if s.Checkpoint != "" {
		if _, err := c.WriteTmpFile(ctx, in, s.Checkpoint, true); err != nil {
			return st.Fail(name, contract.ErrIngest, err)
		}
	}
	return nil
}
