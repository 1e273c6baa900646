package pipeline

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"ghmigrate/internal/cache"
	"ghmigrate/internal/diag"
	"ghmigrate/pkg/contract"
)

// Options: 运行期选项快照，构造后只读。
type Options struct {
	Source      string
	Inputs      []string
	CacheName   string
	TmpPath     string
	OutputPath  string
	Zip         bool
	Cache       bool
	Limit       int
	SizeLimit   int
	Concurrency int
	// KeepLocalArchive: 上传成功后保留本地归档。
	KeepLocalArchive bool
	// UploadName: 远端文件名；为空时为 gh-<source>-<cacheName>.zip。
	UploadName string
	Verbose    bool
}

// Result: 各阶段的类型化产物。
//
//	Ingest    写 Ingested
//	Transform 读 Ingested，写 Document
//	Convert   读写 Document（逐篇）
//	Write     读 Document
//	Batch     读 Ingested.Members，写 Batches
type Result struct {
	Ingested *contract.Ingested
	Document *contract.Document
	Batches  []contract.BatchFile
}

// Issue: 一条错误或警告；同时是错误日志文件的 JSON 形态。
type Issue struct {
	Stage    string `json:"stage"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	RecordID string `json:"record_id,omitempty"`
	Fatal    bool   `json:"fatal,omitempty"`
	err      error
}

// Err 返回原始错误（警告为 nil）。
func (i Issue) Err() error { return i.err }

// Status 为阶段执行结果。
type Status string

const (
	StatusRan      Status = "ran"
	StatusSkipped  Status = "skipped"
	StatusDisabled Status = "disabled"
	StatusFailed   Status = "failed"
)

// StageReport: 单个阶段的执行摘要。
type StageReport struct {
	Name     string
	Kind     Kind
	Status   Status
	Duration time.Duration
}

// State 为贯穿所有阶段的共享上下文。
// errors/warnings 只追加不清空；cache 只由 Initialize 阶段设置；output 只在归档成功后设置。
type State struct {
	opts   Options
	clock  clock.Clock
	logger *diag.Logger

	Result Result

	mu       sync.Mutex
	errors   []Issue
	warnings []Issue
	reports  []StageReport
	cache    *cache.Cache
	output   *contract.OutputFile
}

// NewState 以选项快照构造上下文；clk 为 nil 时使用墙钟。
func NewState(opts Options, clk clock.Clock, logger *diag.Logger) *State {
	if clk == nil {
		clk = clock.WallClock
	}
	opts.Inputs = append([]string(nil), opts.Inputs...)
	return &State{opts: opts, clock: clk, logger: logger}
}

func (s *State) Options() Options {
	o := s.opts
	o.Inputs = append([]string(nil), s.opts.Inputs...)
	return o
}

func (s *State) Clock() clock.Clock { return s.clock }
func (s *State) Logger() *diag.Logger { return s.logger }
func (s *State) Cache() *cache.Cache { return s.cache }
func (s *State) OutputFile() *contract.OutputFile { return s.output }

// Errors 返回错误副本（按记录顺序）。
func (s *State) Errors() []Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Issue(nil), s.errors...)
}

// Warnings 返回警告副本（按记录顺序）。
func (s *State) Warnings() []Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Issue(nil), s.warnings...)
}

// Issues 返回错误与警告，供错误日志落盘。
func (s *State) Issues() []Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Issue, 0, len(s.errors)+len(s.warnings))
	out = append(out, s.errors...)
	return append(out, s.warnings...)
}

// Reports 返回阶段摘要副本。
func (s *State) Reports() []StageReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StageReport(nil), s.reports...)
}

// Degraded 报告是否存在清理以外的错误。
func (s *State) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.errors {
		if !errors.Is(e.err, contract.ErrCleanup) {
			return true
		}
	}
	return false
}

// Warn 记录可恢复问题并继续。
func (s *State) Warn(stage, recordID, msg string) {
	s.mu.Lock()
	s.warnings = append(s.warnings, Issue{Stage: stage, Code: "warn", Message: msg, RecordID: recordID})
	s.mu.Unlock()
	s.logger.Warn(stage, "warn", msg, recordID)
}

// Error 记录非致命错误并继续。
func (s *State) Error(stage, recordID string, err error) {
	if err == nil {
		return
	}
	s.push(Issue{Stage: stage, Code: string(diag.Classify(err)), Message: err.Error(), RecordID: recordID, err: err})
}

// Fail 以 kind 标注 err（已属该类别则不重复标注），记为致命错误并返回，供阶段直接 return。
func (s *State) Fail(stage string, kind errors.ConstError, err error) error {
	if err == nil {
		err = errors.New("unknown failure")
	}
	if kind != "" && !errors.Is(err, kind) {
		err = errors.WithType(err, kind)
	}
	s.push(Issue{Stage: stage, Code: string(diag.Classify(err)), Message: err.Error(), Fatal: true, err: err})
	return err
}

func (s *State) push(i Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, i)
}

// fatalSince 报告自第 n 条错误以来是否已记录致命错误。
func (s *State) fatalSince(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.errors[min(n, len(s.errors)):] {
		if e.Fatal {
			return true
		}
	}
	return false
}

func (s *State) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

func (s *State) report(r StageReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

func (s *State) setCache(c *cache.Cache) { s.cache = c }

func (s *State) setOutput(of *contract.OutputFile) { s.output = of }
