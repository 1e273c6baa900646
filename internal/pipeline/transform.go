package pipeline

import (
	"context"

	"github.com/juju/errors"

	"ghmigrate/pkg/contract"
)

// TransformStage 把 Result.Ingested 规范化为 Result.Document。
type TransformStage struct {
	Gate
	Title     string
	Formatter contract.Formatter
	Options   contract.FormatOptions
}

func (s *TransformStage) Name() string { return title(s.Title, "transform") }
func (s *TransformStage) Kind() Kind   { return KindTransform }

func (s *TransformStage) Execute(ctx context.Context, st *State) error {
	if st.Result.Ingested == nil || s.Formatter == nil {
		return st.Fail(s.Name(), contract.ErrTransform, errors.Annotate(contract.ErrInvariantViolation, "ingested data and formatter are required"))
	}
	doc, err := s.Formatter.Format(ctx, st.Result.Ingested, s.Options)
	if err != nil {
		return st.Fail(s.Name(), contract.ErrTransform, err)
	}
	st.Result.Document = doc
	return nil
}

// ConvertStage 由转换器生成子任务，并用嵌套 Runner 在同一上下文上顺序执行。
type ConvertStage struct {
	Gate
	Title     string
	Converter contract.Converter
	Runner    *Runner
}

func (s *ConvertStage) Name() string { return title(s.Title, "convert") }
func (s *ConvertStage) Kind() Kind   { return KindConvert }

func (s *ConvertStage) Execute(ctx context.Context, st *State) error {
	name := s.Name()
	if st.Result.Document == nil || s.Converter == nil {
		return st.Fail(name, contract.ErrTransform, errors.Annotate(contract.ErrInvariantViolation, "document and converter are required"))
	}
	tasks, err := s.Converter.Convert(ctx, st.Result.Document)
	if err != nil {
		return st.Fail(name, contract.ErrTransform, err)
	}
	subs := make([]Stage, 0, len(tasks))
	for _, t := range tasks {
		subs = append(subs, &taskStage{parent: name, task: t})
	}
	r := s.Runner
	if r == nil {
		r = NewRunner(st.Logger())
	}
	_, err = r.Nested(name).Run(ctx, subs, st)
	return err
}

// taskStage 把转换子任务适配为阶段。
type taskStage struct {
	Gate
	parent string
	task   contract.Task
}

func (s *taskStage) Name() string { return s.parent + "/" + s.task.Title }
func (s *taskStage) Kind() Kind   { return KindConvert }

func (s *taskStage) Execute(ctx context.Context, st *State) error {
	if s.task.Run == nil {
		return nil
	}
	if err := s.task.Run(ctx, reporter{st: st, stage: s.parent}); err != nil {
		return st.Fail(s.Name(), contract.ErrTransform, err)
	}
	return nil
}

type reporter struct {
	st    *State
	stage string
}

func (r reporter) Warn(recordID, msg string) { r.st.Warn(r.stage, recordID, msg) }
