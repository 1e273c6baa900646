// Package wpxml 解析 WordPress 导出（WXR）文件中的帖子、页面、作者与附件。
package wpxml

import (
	"context"
	"encoding/xml"
	"io"
	"strings"
	"time"

	"github.com/juju/errors"

	"ghmigrate/pkg/contract"
	"ghmigrate/pkg/slug"
)

// 迁移器补充的标签与作者。
var (
	MigratorTag    = contract.Tag{URL: "migrator-added-tag", Slug: "hash-wp", Name: "#wp"}
	MigratorAuthor = contract.Author{URL: "migrator-added-author", Slug: "migrator-added-author", Name: "Migrator Added Author"}
)

// Options 为 WXR 解析选项。
type Options struct {
	// Autop: 把无块级标签的正文按空行包成段落。默认 true。
	Autop *bool `json:"autop,omitempty"`
	// SkipMigratorTag: 不追加 #wp 标签。
	SkipMigratorTag bool `json:"skip_migrator_tag,omitempty"`
}

// Ingestor 实现 contract.Ingestor。
type Ingestor struct {
	autop bool
	wpTag bool
}

// New 创建 Ingestor；opts 可为 nil。
func New(opts *Options) *Ingestor {
	in := &Ingestor{autop: true, wpTag: true}
	if opts != nil {
		if opts.Autop != nil {
			in.autop = *opts.Autop
		}
		in.wpTag = !opts.SkipMigratorTag
	}
	return in
}

var _ contract.Ingestor = (*Ingestor)(nil)

type rss struct {
	Channel struct {
		Authors []wpAuthor `xml:"author"`
		Items   []item     `xml:"item"`
	} `xml:"channel"`
}

type wpAuthor struct {
	Login       string `xml:"author_login"`
	Email       string `xml:"author_email"`
	DisplayName string `xml:"author_display_name"`
}

type nsText struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

type category struct {
	Domain   string `xml:"domain,attr"`
	Nicename string `xml:"nicename,attr"`
	Name     string `xml:",chardata"`
}

type postmeta struct {
	Key   string `xml:"meta_key"`
	Value string `xml:"meta_value"`
}

type item struct {
	Title         string     `xml:"title"`
	Link          string     `xml:"link"`
	Creator       string     `xml:"creator"`
	Encoded       []nsText   `xml:"encoded"`
	PostID        string     `xml:"post_id"`
	PostDate      string     `xml:"post_date"`
	PostDateGMT   string     `xml:"post_date_gmt"`
	ModifiedGMT   string     `xml:"post_modified_gmt"`
	PostName      string     `xml:"post_name"`
	Status        string     `xml:"status"`
	PostType      string     `xml:"post_type"`
	AttachmentURL string     `xml:"attachment_url"`
	Categories    []category `xml:"category"`
	Meta          []postmeta `xml:"postmeta"`
}

// encoded 按命名空间区分 content:encoded 与 excerpt:encoded。
func (it item) encoded(kind string) string {
	for _, e := range it.Encoded {
		if strings.Contains(e.XMLName.Space, kind) {
			return e.Text
		}
	}
	return ""
}

func (it item) meta(key string) string {
	for _, m := range it.Meta {
		if m.Key == key {
			return strings.TrimSpace(m.Value)
		}
	}
	return ""
}

const wpTime = "2006-01-02 15:04:05"

// Ingest 解析整个 WXR；附件在全部条目读完后再解析为特色图片。
func (in *Ingestor) Ingest(ctx context.Context, fileID contract.FileID, r io.Reader, into *contract.Ingested) error {
	var doc rss
	dec := xml.NewDecoder(r)
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		return errors.Annotatef(contract.ErrInvalidInput, "wpxml: decode %s: %v", fileID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	authors := make(map[string]contract.Author, len(doc.Channel.Authors))
	for _, a := range doc.Channel.Authors {
		login := strings.TrimSpace(a.Login)
		s := slug.Make(a.Email)
		if s == "" {
			s = slug.Make(login)
		}
		name := strings.TrimSpace(a.DisplayName)
		if name == "" {
			name = login
		}
		authors[login] = contract.Author{URL: s, Slug: s, Name: name, Email: strings.TrimSpace(a.Email)}
	}
	attachments := map[string]string{}
	for _, it := range doc.Channel.Items {
		if it.PostType == "attachment" && it.AttachmentURL != "" {
			attachments[strings.TrimSpace(it.PostID)] = strings.TrimSpace(it.AttachmentURL)
		}
	}

	for _, it := range doc.Channel.Items {
		if it.PostType != "post" && it.PostType != "page" {
			continue
		}
		id := strings.TrimSpace(it.Link)
		if id == "" {
			id = it.PostID
		}
		status, ok := mapStatus(it.Status)
		if !ok {
			into.Notices = append(into.Notices, contract.Notice{Source: fileID, RecordID: id, Message: "skipped item with status " + it.Status})
			continue
		}
		p := contract.Post{
			SourceURL: strings.TrimSpace(it.Link),
			Slug:      strings.TrimSpace(it.PostName),
			Title:     strings.TrimSpace(it.Title),
			Status:    status,
			Type:      it.PostType,
			HTML:      it.encoded("content"),
			Excerpt:   strings.TrimSpace(it.encoded("excerpt")),
		}
		if p.Slug == "" {
			p.Slug = slug.Make(p.Title)
		}
		if in.autop {
			p.HTML = Autop(p.HTML)
		}
		p.CreatedAt = parseWPTime(it.PostDateGMT, it.PostDate)
		p.PublishedAt = p.CreatedAt
		p.UpdatedAt = parseWPTime(it.ModifiedGMT, "")
		if p.UpdatedAt.IsZero() || p.UpdatedAt.Before(p.CreatedAt) {
			p.UpdatedAt = p.CreatedAt
		}
		if p.CreatedAt.IsZero() {
			into.Notices = append(into.Notices, contract.Notice{Source: fileID, RecordID: id, Message: "missing post date"})
		}
		if thumb := it.meta("_thumbnail_id"); thumb != "" {
			if u, ok := attachments[thumb]; ok {
				p.FeatureImage = u
			} else {
				into.Notices = append(into.Notices, contract.Notice{Source: fileID, RecordID: id, Message: "feature image attachment " + thumb + " not found"})
			}
		}
		for _, c := range it.Categories {
			if c.Domain != "category" && c.Domain != "post_tag" {
				continue
			}
			s := strings.TrimSpace(c.Nicename)
			if s == "" {
				s = slug.Make(c.Name)
			}
			p.Tags = append(p.Tags, contract.Tag{URL: "/tag/" + s, Slug: s, Name: strings.TrimSpace(c.Name)})
		}
		if in.wpTag {
			p.Tags = append(p.Tags, MigratorTag)
		}
		a, ok := authors[strings.TrimSpace(it.Creator)]
		if !ok {
			a = MigratorAuthor
			if login := strings.TrimSpace(it.Creator); login != "" {
				s := slug.Make(login)
				a = contract.Author{URL: s, Slug: s, Name: login}
			}
		}
		p.Author = &a
		into.Posts = append(into.Posts, p)
	}
	return nil
}

func mapStatus(s string) (string, bool) {
	switch s {
	case "publish":
		return "published", true
	case "draft", "pending", "future", "private":
		return "draft", true
	}
	return "", false
}

// parseWPTime 优先使用 GMT 时间；GMT 缺失（草稿常见）时按 UTC 解析本地时间。
func parseWPTime(gmt, local string) time.Time {
	for _, v := range []string{gmt, local} {
		v = strings.TrimSpace(v)
		if v == "" || strings.HasPrefix(v, "0000-") {
			continue
		}
		if t, err := time.Parse(wpTime, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var blockTags = []string{"<p", "<div", "<h1", "<h2", "<h3", "<h4", "<h5", "<h6", "<ul", "<ol", "<blockquote", "<pre", "<figure", "<table", "<hr", "<!--"}

// Autop 把以空行分隔的纯文本段落包成 <p>，段内换行转为 <br>。以块级标签开头的段落原样保留。
func Autop(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\r\n", "\n")
	if s == "" {
		return ""
	}
	var out []string
	for _, para := range strings.Split(s, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if isBlock(para) {
			out = append(out, para)
			continue
		}
		out = append(out, "<p>"+strings.ReplaceAll(para, "\n", "<br>\n")+"</p>")
	}
	return strings.Join(out, "\n")
}

func isBlock(s string) bool {
	l := strings.ToLower(s)
	for _, t := range blockTags {
		if strings.HasPrefix(l, t) {
			return true
		}
	}
	return false
}
