package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径为跨平台稳定的 FileID：反斜杠转正斜杠，再 path.Clean。
// 保留相对/绝对语义，不做隐式绝对化。
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}
