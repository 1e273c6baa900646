package contract

import "github.com/juju/errors"

// 迁移流水线错误分类。
// 约定：各阶段以 errors.WithType(cause, ErrXxx) 标注类别，既可 errors.Is 判类，也保留原因链。
const (
	// ErrInitialization: 工作区（Staging Cache）无法创建或使用。
	ErrInitialization = errors.ConstError("initialization failed")
	// ErrIngest: 源导出无法读取或解析（格式级错误）。
	ErrIngest = errors.ConstError("ingest failed")
	// ErrTransform: 记录无法转换为规范形式。
	ErrTransform = errors.ConstError("transform failed")
	// ErrArchiveWrite: 归档写出失败。
	ErrArchiveWrite = errors.ConstError("archive write failed")
	// ErrUpload: 远端存储拒绝或上传失败。
	ErrUpload = errors.ConstError("upload failed")
	// ErrCleanup: 工作区清理失败（非致命）。
	ErrCleanup = errors.ConstError("cleanup failed")
)

// 通用哨兵。
const (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.ConstError("path invalid")
	// ErrInvariantViolation: 领域不变量违例（例如阶段所需输入缺失）。
	ErrInvariantViolation = errors.ConstError("invariant violation")
	// ErrInvalidInput: 参数非法。
	ErrInvalidInput = errors.ConstError("invalid input")
	// ErrSkipCategory: 该类别不分批，只写诊断日志。
	ErrSkipCategory = errors.ConstError("skip category")
)
