package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// CleanupStage 清空工作区。默认仅在 Cache=false 且 Zip=true 时启用。
// 没有产出归档、或本地归档位于工作区内时保留工作区；清理失败只记录错误，不中止流水线。
type CleanupStage struct {
	Gate
	Title string
}

// NewCleanupStage 返回按上述条件启用的清理阶段。
func NewCleanupStage() *CleanupStage {
	return &CleanupStage{Gate: Gate{EnabledIf: func(st *State) bool {
		o := st.Options()
		return !o.Cache && o.Zip
	}}}
}

func (s *CleanupStage) Name() string { return title(s.Title, "cleanup") }
func (s *CleanupStage) Kind() Kind   { return KindCleanup }

func (s *CleanupStage) Execute(ctx context.Context, st *State) error {
	c := st.Cache()
	if c == nil {
		return nil
	}
	of := st.OutputFile()
	if of == nil {
		st.Warn(s.Name(), "", "no archive was produced; workspace kept at "+c.Dir())
		return nil
	}
	if _, err := os.Stat(of.Path); err == nil && within(c.Dir(), of.Path) {
		st.Warn(s.Name(), of.Name, "archive is inside the workspace; workspace kept at "+c.Dir())
		return nil
	}
	if err := c.EmptyCurrentCacheDir(); err != nil {
		st.Error(s.Name(), "", err)
	}
	return nil
}

// within 报告 p 是否位于 dir 之下（含 dir 本身）。
func within(dir, p string) bool {
	d, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	a, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(d, a)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
