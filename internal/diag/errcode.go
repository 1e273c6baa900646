package diag

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/aws/smithy-go"
	"github.com/juju/errors"

	"ghmigrate/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标/错误日志汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeInit      Code = "init"
	CodeIngest    Code = "ingest"
	CodeTransform Code = "transform"
	CodeArchive   Code = "archive"
	CodeUpload    Code = "upload"
	CodeCleanup   Code = "cleanup"
	CodeInvariant Code = "invariant"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
	CodeNetwork   Code = "network"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与错误类型，不做字符串匹配；迁移类别优先于底层原因。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	kinds := []struct {
		kind error
		code Code
	}{
		{contract.ErrInitialization, CodeInit},
		{contract.ErrIngest, CodeIngest},
		{contract.ErrTransform, CodeTransform},
		{contract.ErrArchiveWrite, CodeArchive},
		{contract.ErrUpload, CodeUpload},
		{contract.ErrCleanup, CodeCleanup},
	}
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.code
		}
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return CodeNetwork
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
