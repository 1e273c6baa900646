package contract

// Document: 目标平台可导入的规范 JSON。
// 约束：同样输入必须产出字节一致的序列化结果（ID 顺序分配，时间不取自墙钟）。
type Document struct {
	Meta DocumentMeta `json:"meta"`
	Data DocumentData `json:"data"`
}

type DocumentMeta struct {
	ExportedOn int64  `json:"exported_on"`
	Version    string `json:"version"`
}

type DocumentData struct {
	Posts        []DocPost    `json:"posts"`
	Tags         []DocTag     `json:"tags"`
	Users        []DocUser    `json:"users"`
	PostsTags    []PostTag    `json:"posts_tags"`
	PostsAuthors []PostAuthor `json:"posts_authors"`
}

// DocPost: 规范化帖子。HTML 与 Mobiledoc 至少一个非空。
// 时间字段为 RFC3339 UTC 字符串；草稿可无 PublishedAt。
type DocPost struct {
	ID            string `json:"id"`
	Slug          string `json:"slug"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	HTML          string `json:"html,omitempty"`
	Mobiledoc     string `json:"mobiledoc,omitempty"`
	CustomExcerpt string `json:"custom_excerpt,omitempty"`
	FeatureImage  string `json:"feature_image,omitempty"`
	PublishedAt   string `json:"published_at,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	// SourceURL 仅供日志与警告定位。
	SourceURL string `json:"-"`
}

type DocTag struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type DocUser struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type PostTag struct {
	PostID    string `json:"post_id"`
	TagID     string `json:"tag_id"`
	SortOrder int    `json:"sort_order"`
}

type PostAuthor struct {
	PostID    string `json:"post_id"`
	AuthorID  string `json:"author_id"`
	SortOrder int    `json:"sort_order"`
}
