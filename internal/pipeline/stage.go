package pipeline

import "context"

// Kind 为阶段变体（封闭集合）。
type Kind int

const (
	KindInitialize Kind = iota
	KindIngest
	KindTransform
	KindConvert
	KindWrite
	KindBatch
	KindArchive
	KindUpload
	KindCleanup
)

func (k Kind) String() string {
	switch k {
	case KindInitialize:
		return "initialize"
	case KindIngest:
		return "ingest"
	case KindTransform:
		return "transform"
	case KindConvert:
		return "convert"
	case KindWrite:
		return "write"
	case KindBatch:
		return "batch"
	case KindArchive:
		return "archive"
	case KindUpload:
		return "upload"
	case KindCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// Stage: 流水线中的一个命名步骤。
// Enabled=false 与 Skip=true 都不执行、不记错；区别仅在报告中（disabled/skipped）。
// Execute 返回错误即中止整条流水线；返回前应以 State.Fail 记录。
type Stage interface {
	Name() string
	Kind() Kind
	Enabled(st *State) bool
	Skip(st *State) bool
	Execute(ctx context.Context, st *State) error
}

// Predicate 基于上下文判定。
type Predicate func(st *State) bool

// Gate 提供 Enabled/Skip 的默认实现，供各阶段嵌入。
type Gate struct {
	EnabledIf Predicate
	SkipIf    Predicate
}

func (g Gate) Enabled(st *State) bool { return g.EnabledIf == nil || g.EnabledIf(st) }
func (g Gate) Skip(st *State) bool    { return g.SkipIf != nil && g.SkipIf(st) }

// title 返回 t，为空时返回 def。
func title(t, def string) string {
	if t != "" {
		return t
	}
	return def
}
