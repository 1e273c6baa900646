package contract

import (
	"context"
	"io"
)

// Ingestor: 将单个源文件解析并累加到 Ingested。
// 约束：
// 1) 格式级错误直接返回（由 Ingest 阶段标注为 ErrIngest）；
// 2) 单条记录问题写入 into.Notices 后继续；
// 3) 不关闭 r（由调用方负责）。
type Ingestor interface {
	Ingest(ctx context.Context, fileID FileID, r io.Reader, into *Ingested) error
}
