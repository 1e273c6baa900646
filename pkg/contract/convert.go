package contract

import "context"

// Reporter: 子任务上报可恢复问题。
type Reporter interface {
	Warn(recordID, msg string)
}

// Task: 内容转换的独立子任务，由嵌套 Runner 顺序执行。
// Run 返回错误视为致命；可恢复问题经 Reporter 上报。
type Task struct {
	Title string
	Run   func(ctx context.Context, rep Reporter) error
}

// Converter: 基于 Document 产出子任务（通常每篇帖子一个）。
type Converter interface {
	Convert(ctx context.Context, doc *Document) ([]Task, error)
}
