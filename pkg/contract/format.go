package contract

import "context"

// FormatOptions: 规范化选项。
type FormatOptions struct {
	// AddTag: 追加到每篇帖子的标签名（空表示不追加）。
	AddTag string
	// Drafts/Pages: 是否保留草稿与页面。
	Drafts bool
	Pages  bool
}

// Formatter: Ingested → Document（纯函数语义，同输入同输出）。
type Formatter interface {
	Format(ctx context.Context, in *Ingested, opts FormatOptions) (*Document, error)
}
