package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"ghmigrate/internal/cache"
	"ghmigrate/pkg/contract"
)

// InitializeStage 创建本次运行的工作区。
// 名称取 Prefix + (CacheName | 首个输入路径 | 随机 UUID)。
type InitializeStage struct {
	Gate
	Title  string
	Prefix string
}

func (s *InitializeStage) Name() string { return title(s.Title, "initialize") }
func (s *InitializeStage) Kind() Kind   { return KindInitialize }

func (s *InitializeStage) Execute(ctx context.Context, st *State) error {
	if st.Cache() != nil {
		return st.Fail(s.Name(), contract.ErrInitialization, errors.Annotate(contract.ErrInvariantViolation, "workspace already initialized"))
	}
	opts := st.Options()
	name := opts.CacheName
	if name == "" && len(opts.Inputs) > 0 && opts.Inputs[0] != "-" {
		name = opts.Inputs[0]
	}
	if name == "" {
		name = uuid.NewString()
	}
	c, err := cache.Initialize(s.Prefix+name, cache.Options{TmpPath: opts.TmpPath, Clock: st.Clock()})
	if err != nil {
		return st.Fail(s.Name(), contract.ErrInitialization, err)
	}
	st.setCache(c)
	st.Logger().DebugStart(s.Name(), "workspace initialized", "", "", map[string]string{"dir": c.Dir()})
	return nil
}

// requireCache 返回工作区；缺失视为不变量违例。
func requireCache(st *State, stage string, kind errors.ConstError) (*cache.Cache, error) {
	if c := st.Cache(); c != nil {
		return c, nil
	}
	return nil, st.Fail(stage, kind, errors.Annotate(contract.ErrInvariantViolation, "workspace not initialized"))
}
