package pipeline

import (
	"context"

	"github.com/juju/errors"

	"ghmigrate/internal/diag"
)

// Runner 顺序执行阶段：
// - Enabled=false 或 Skip=true 的阶段不执行；
// - 首个返回错误的阶段中止剩余阶段，错误标注阶段名后返回；
// - 阶段自身未记录致命错误时由 Runner 补记，调用方据此区分“执行失败”与“未开始”。
// Runner 不做 I/O，仅输出日志、指标与终端提示。
type Runner struct {
	logger *diag.Logger
	nested bool
	// parent: 嵌套时的父阶段名，作为日志 comp 与指标标签；子任务名只进 record_id。
	parent string
}

// NewRunner 返回顶层 Runner。
func NewRunner(logger *diag.Logger) *Runner { return &Runner{logger: logger} }

// Nested 返回共享同一日志的嵌套 Runner（不驱动终端），子任务归属 parent 阶段。
func (r *Runner) Nested(parent string) *Runner {
	return &Runner{logger: r.logger, nested: true, parent: parent}
}

// comp 返回阶段在日志与指标中的组件名及记录 ID。
func (r *Runner) comp(name string) (string, string) {
	if r.parent != "" {
		return r.parent, name
	}
	return name, ""
}

// Run 依次执行 stages，返回同一个 st。
func (r *Runner) Run(ctx context.Context, stages []Stage, st *State) (*State, error) {
	var term *diag.Terminal
	if !r.nested {
		term = diag.GetTerminal()
	}
	for _, s := range stages {
		name, kind := s.Name(), s.Kind()
		comp, record := r.comp(name)
		if !s.Enabled(st) {
			r.logger.DebugStart(comp, "disabled", record, "", nil)
			diag.IncOp(comp, "start", string(StatusDisabled))
			r.report(st, StageReport{Name: name, Kind: kind, Status: StatusDisabled})
			continue
		}
		if s.Skip(st) {
			r.logger.DebugStart(comp, "skipped", record, "", nil)
			diag.IncOp(comp, "start", string(StatusSkipped))
			r.report(st, StageReport{Name: name, Kind: kind, Status: StatusSkipped})
			term.StageStart(name)
			term.StageFinish(name, string(StatusSkipped), 0)
			continue
		}

		term.StageStart(name)
		timer := r.logger.StartWith(comp, kind.String(), record, "")
		t0 := st.Clock().Now()
		mark := st.errorCount()
		err := s.Execute(ctx, st)
		dur := st.Clock().Now().Sub(t0)
		diag.ObserveDuration(comp, kind.String(), dur.Milliseconds())

		if err != nil {
			if !st.fatalSince(mark) {
				err = st.Fail(name, "", err)
			}
			code := diag.Classify(err)
			r.logger.ErrorWith(comp, string(code), err.Error(), timer.Since(), record, "")
			diag.IncOp(comp, "error", "error")
			diag.IncError(comp, string(code))
			r.report(st, StageReport{Name: name, Kind: kind, Status: StatusFailed, Duration: dur})
			term.StageFinish(name, string(StatusFailed), dur)
			return st, errors.Annotatef(err, "stage %q", name)
		}
		timer.Finish(kind.String(), 0)
		diag.IncOp(comp, "finish", "success")
		r.report(st, StageReport{Name: name, Kind: kind, Status: StatusRan, Duration: dur})
		term.StageFinish(name, string(StatusRan), dur)
	}
	return st, nil
}

// report 仅记录顶层阶段；嵌套子任务只进日志。
func (r *Runner) report(st *State, rep StageReport) {
	if !r.nested {
		st.report(rep)
	}
}
