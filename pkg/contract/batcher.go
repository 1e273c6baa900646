package contract

import "context"

// Batcher: 将同一类别的有序会员切分为定长批。
// 约束：
//  1. 不重排、不丢失；拼接所有批得到原输入；
//  2. 每批记录数 ≤ 该类别有效上限；
//  3. Number 自 1 起连续；空输入返回空切片；
//  4. skip 类别返回 ErrSkipCategory，由调用方写诊断日志。
type Batcher interface {
	Make(ctx context.Context, category string, records []Member) ([]Batch, error)
}
