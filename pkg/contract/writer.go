package contract

import (
	"context"
	"io"
)

// ArtifactID: 与 FileID 等价的持久化工件标识（相对工作区根的路径）。
type ArtifactID = FileID

// Writer: 将字节流持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入，按字节透传；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

// StagedWriter: 以调用方指定的临时名先写、再原子改名为最终名。
type StagedWriter interface {
	Writer
	WriteStaged(ctx context.Context, id, tmp ArtifactID, r io.Reader) error
}
