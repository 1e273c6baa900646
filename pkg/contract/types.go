package contract

import (
	"sort"
	"time"
)

// FileID: 逻辑源文件ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Tag/Author 为源侧引用，URL 保留源站地址（或 migrator-added-* 标记）。
type Tag struct {
	URL  string `json:"url"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type Author struct {
	URL   string `json:"url"`
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Post: 摄取后的帖子/页面（尚未规范化）。
// Type 为 post|page；Status 为 published|draft。
type Post struct {
	SourceURL    string    `json:"url"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	Type         string    `json:"type"`
	HTML         string    `json:"html"`
	Excerpt      string    `json:"excerpt,omitempty"`
	FeatureImage string    `json:"feature_image,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Tags         []Tag     `json:"tags"`
	Author       *Author   `json:"author,omitempty"`
}

// Member: 会员导入记录。字段与导入 CSV 列一一对应（见 MemberFields）。
type Member struct {
	Email              string    `json:"email"`
	SubscribedToEmails bool      `json:"subscribed_to_emails"`
	ComplimentaryPlan  bool      `json:"complimentary_plan"`
	StripeCustomerID   string    `json:"stripe_customer_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	Labels             []string  `json:"labels,omitempty"`
	Note               string    `json:"note,omitempty"`
	// Reason 仅用于 skip 类别的诊断日志，不进入 CSV。
	Reason string `json:"reason,omitempty"`
}

// MemberFields: 会员导入 CSV 的列顺序。
var MemberFields = []string{
	"email",
	"subscribed_to_emails",
	"complimentary_plan",
	"stripe_customer_id",
	"created_at",
	"labels",
	"note",
}

// Notice: 单条记录级问题（可恢复），最终进入 warnings 或诊断日志。
type Notice struct {
	Source   FileID `json:"source,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	Message  string `json:"message"`
}

// Ingested: Ingest 阶段产物。
// 同一次运行只会填充 Posts 或 Members 之一；Members 以类别分组并保持输入顺序。
type Ingested struct {
	Posts   []Post              `json:"posts,omitempty"`
	Members map[string][]Member `json:"members,omitempty"`
	// Notices: 可恢复问题，转为 warnings。
	Notices []Notice `json:"notices,omitempty"`
	// Updates: 摄取时对记录所作的修正（写入 updated 诊断日志）。
	Updates []Notice `json:"updates,omitempty"`
}

// AddMember 追加会员到类别末尾。
func (in *Ingested) AddMember(category string, m Member) {
	if in.Members == nil {
		in.Members = make(map[string][]Member)
	}
	in.Members[category] = append(in.Members[category], m)
}

// Categories 返回稳定排序的类别列表。
func (in *Ingested) Categories() []string {
	out := make([]string, 0, len(in.Members))
	for k := range in.Members {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Batch: 同一类别内的定长分片。Number 自 1 起连续。
type Batch struct {
	Category    string
	Number      int
	Records     []Member
	FileName    string
	TmpFileName string
}

// BatchFile: 已写出的批文件描述。
type BatchFile struct {
	Category string `json:"category"`
	Number   int    `json:"number"`
	Records  int    `json:"records"`
	Path     string `json:"path"`
}

// OutputFile: 最终交付物（归档）。
// 上传成功且未要求本地保留时，本地文件被删除，但 Path 仍保留供日志使用。
type OutputFile struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Uploaded bool   `json:"uploaded,omitempty"`
	Location string `json:"location,omitempty"`
}
