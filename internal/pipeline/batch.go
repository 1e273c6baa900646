package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"ghmigrate/internal/cache"
	"ghmigrate/internal/diag"
	"ghmigrate/pkg/contract"
)

// MemberBatcher: 分批器及其命名规则。
type MemberBatcher interface {
	contract.Batcher
	IsSkip(category string) bool
	LogFileName(kind string) string
}

// BatchStage 把 Result.Ingested.Members 按类别切批并写出 CSV。
// 先同步完成全部切批，再并发写出并等待全部结束；每个失败的批都会以文件名记录。
// skip 类别只写一份诊断日志；摄取期的修正写入 updated 日志。
type BatchStage struct {
	Gate
	Title   string
	Batcher MemberBatcher
	// Fields: CSV 列；为空时使用 contract.MemberFields。
	Fields []string
	// Concurrency: 并发写出数；<=0 时取选项中的 Concurrency，仍 <=0 则为 4。
	Concurrency int
}

func (s *BatchStage) Name() string { return title(s.Title, "batch") }
func (s *BatchStage) Kind() Kind   { return KindBatch }

func (s *BatchStage) Execute(ctx context.Context, st *State) error {
	name := s.Name()
	c, err := requireCache(st, name, contract.ErrArchiveWrite)
	if err != nil {
		return err
	}
	in := st.Result.Ingested
	if in == nil || s.Batcher == nil {
		return st.Fail(name, contract.ErrTransform, errors.Annotate(contract.ErrInvariantViolation, "ingested members and batcher are required"))
	}

	var plan []contract.Batch
	for _, cat := range in.Categories() {
		recs := in.Members[cat]
		if s.Batcher.IsSkip(cat) {
			if len(recs) == 0 {
				continue
			}
			if _, err := c.WriteErrorJSONFile(ctx, recs, cache.ErrorFileOptions{Filename: s.Batcher.LogFileName("skipped")}); err != nil {
				return st.Fail(name, contract.ErrArchiveWrite, err)
			}
			continue
		}
		bs, err := s.Batcher.Make(ctx, cat, recs)
		if err != nil {
			return st.Fail(name, contract.ErrTransform, errors.Annotatef(err, "partition %q", cat))
		}
		plan = append(plan, bs...)
	}

	files, err := s.writeAll(ctx, st, c, plan)
	if err != nil {
		return err
	}
	st.Result.Batches = files

	if len(in.Updates) > 0 {
		if _, err := c.WriteErrorJSONFile(ctx, in.Updates, cache.ErrorFileOptions{Filename: s.Batcher.LogFileName("updated")}); err != nil {
			return st.Fail(name, contract.ErrArchiveWrite, err)
		}
	}
	return nil
}

func (s *BatchStage) writeAll(ctx context.Context, st *State, c *cache.Cache, plan []contract.Batch) ([]contract.BatchFile, error) {
	name := s.Name()
	fields := s.Fields
	if len(fields) == 0 {
		fields = contract.MemberFields
	}
	limit := s.Concurrency
	if limit <= 0 {
		limit = st.Options().Concurrency
	}
	if limit <= 0 {
		limit = 4
	}
	logger := st.Logger()
	term := diag.GetTerminal()

	files := make([]contract.BatchFile, len(plan))
	var (
		mu     sync.Mutex
		done   int
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, b := range plan {
		i, b := i, b
		g.Go(func() error {
			timer := logger.StartWith(name, "write batch", "", b.FileName)
			data, err := EncodeMembersCSV(b.Records, fields)
			var path string
			if err == nil {
				path, err = c.WriteImportFile(gctx, data, cache.ImportFileOptions{Filename: b.FileName, TmpFilename: b.TmpFileName})
			}
			if err != nil {
				// 组内其他批失败导致的取消不单独记录
				if gctx.Err() != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil {
					return err
				}
				err = errors.WithType(errors.Annotatef(err, "write %s", b.FileName), contract.ErrArchiveWrite)
				logger.ErrorWith(name, string(diag.Classify(err)), err.Error(), timer.Since(), "", b.FileName)
				st.Error(name, b.FileName, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return err
			}
			timer.Finish("write batch", int64(len(b.Records)))
			files[i] = contract.BatchFile{Category: b.Category, Number: b.Number, Records: len(b.Records), Path: path}
			mu.Lock()
			done++
			term.StageProgress(done, len(plan))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, st.Fail(name, contract.ErrArchiveWrite, errors.Annotatef(err, "%d of %d batch files failed", max(failed, 1), len(plan)))
	}
	return files, nil
}

// EncodeMembersCSV 以 fields 为表头输出 CSV；布尔为 true/false，时间为 RFC3339 UTC，labels 以逗号连接。
func EncodeMembersCSV(records []contract.Member, fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	row := make([]string, len(fields))
	for _, m := range records {
		for i, f := range fields {
			v, err := memberField(m, f)
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func memberField(m contract.Member, field string) (string, error) {
	switch field {
	case "email":
		return m.Email, nil
	case "subscribed_to_emails":
		return strconv.FormatBool(m.SubscribedToEmails), nil
	case "complimentary_plan":
		return strconv.FormatBool(m.ComplimentaryPlan), nil
	case "stripe_customer_id":
		return m.StripeCustomerID, nil
	case "created_at":
		if m.CreatedAt.IsZero() {
			return "", nil
		}
		return m.CreatedAt.UTC().Format(time.RFC3339), nil
	case "labels":
		return strings.Join(m.Labels, ","), nil
	case "note":
		return m.Note, nil
	default:
		return "", errors.Annotatef(contract.ErrInvalidInput, "unknown member field %q", field)
	}
}
