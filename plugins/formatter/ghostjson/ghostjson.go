// Package ghostjson 把摄取结果规范化为 Ghost 导入 JSON。
// 同样输入产出同样结果：ID 按出现顺序分配，exported_on 取最大更新时间。
package ghostjson

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"

	"ghmigrate/pkg/contract"
	"ghmigrate/pkg/slug"
)

// Version 为导入文件声明的版本。
const Version = "5.0.0"

const timeLayout = "2006-01-02T15:04:05.000Z"

// Options 为规范化的可配置项。
type Options struct {
	// EmailDomain: 作者缺少邮箱时以 <slug>@<domain> 补齐。默认 example.com。
	EmailDomain string `json:"email_domain,omitempty"`
}

// Formatter 实现 contract.Formatter。
type Formatter struct {
	emailDomain string
}

// New 创建 Formatter；opts 可为 nil。
func New(opts *Options) *Formatter {
	f := &Formatter{emailDomain: "example.com"}
	if opts != nil && strings.TrimSpace(opts.EmailDomain) != "" {
		f.emailDomain = strings.TrimSpace(opts.EmailDomain)
	}
	return f
}

var _ contract.Formatter = (*Formatter)(nil)

var fallbackAuthor = contract.Author{URL: "migrator-added-author", Slug: "migrator-added-author", Name: "Migrator Added Author"}

// Format 过滤草稿与页面、去重标签与作者、分配顺序 ID。
func (f *Formatter) Format(ctx context.Context, in *contract.Ingested, opts contract.FormatOptions) (*contract.Document, error) {
	if in == nil {
		return nil, errors.Annotate(contract.ErrInvalidInput, "ghostjson: nil input")
	}
	b := builder{
		f:     f,
		tags:  map[string]string{},
		users: map[string]string{},
		slugs: map[string]int{},
		doc: &contract.Document{
			Meta: contract.DocumentMeta{Version: Version},
			Data: contract.DocumentData{
				Posts:        []contract.DocPost{},
				Tags:         []contract.DocTag{},
				Users:        []contract.DocUser{},
				PostsTags:    []contract.PostTag{},
				PostsAuthors: []contract.PostAuthor{},
			},
		},
	}
	var extra *contract.Tag
	if name := strings.TrimSpace(opts.AddTag); name != "" {
		s := slug.Make(name)
		extra = &contract.Tag{URL: "migrator-added-tag-" + s, Slug: s, Name: name}
	}
	var latest time.Time
	for _, p := range in.Posts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.Status == "draft" && !opts.Drafts {
			continue
		}
		if p.Type == "page" && !opts.Pages {
			continue
		}
		if extra != nil {
			p.Tags = append(append([]contract.Tag(nil), p.Tags...), *extra)
		}
		b.addPost(p)
		if p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt
		}
	}
	if !latest.IsZero() {
		b.doc.Meta.ExportedOn = latest.UnixMilli()
	}
	return b.doc, nil
}

type builder struct {
	f     *Formatter
	doc   *contract.Document
	tags  map[string]string
	users map[string]string
	slugs map[string]int
}

func (b *builder) addPost(p contract.Post) {
	d := &b.doc.Data
	id := strconv.Itoa(len(d.Posts) + 1)
	title := strings.TrimSpace(p.Title)
	s := strings.TrimSpace(p.Slug)
	if s == "" {
		s = slug.Make(title)
	}
	if s == "" {
		s = "untitled-" + id
	}
	// 重复 slug 追加序号
	if n := b.slugs[s]; n > 0 {
		b.slugs[s] = n + 1
		s = s + "-" + strconv.Itoa(n+1)
	} else {
		b.slugs[s] = 1
	}
	if title == "" {
		title = s
	}
	typ := p.Type
	if typ == "" {
		typ = "post"
	}
	status := "published"
	if p.Status == "draft" {
		status = "draft"
	}
	dp := contract.DocPost{
		ID:            id,
		Slug:          s,
		Title:         title,
		Status:        status,
		Type:          typ,
		HTML:          p.HTML,
		CustomExcerpt: excerpt(p.Excerpt),
		FeatureImage:  p.FeatureImage,
		PublishedAt:   formatTime(p.PublishedAt),
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
		SourceURL:     p.SourceURL,
	}
	d.Posts = append(d.Posts, dp)

	order := 0
	seen := map[string]bool{}
	for _, t := range p.Tags {
		tid := b.tag(t)
		if tid == "" || seen[tid] {
			continue
		}
		seen[tid] = true
		d.PostsTags = append(d.PostsTags, contract.PostTag{PostID: id, TagID: tid, SortOrder: order})
		order++
	}
	a := fallbackAuthor
	if p.Author != nil {
		a = *p.Author
	}
	d.PostsAuthors = append(d.PostsAuthors, contract.PostAuthor{PostID: id, AuthorID: b.user(a), SortOrder: 0})
}

func (b *builder) tag(t contract.Tag) string {
	s := strings.TrimSpace(t.Slug)
	if s == "" {
		s = slug.Make(t.Name)
	}
	if s == "" {
		return ""
	}
	if id, ok := b.tags[s]; ok {
		return id
	}
	d := &b.doc.Data
	id := strconv.Itoa(len(d.Tags) + 1)
	name := strings.TrimSpace(t.Name)
	if name == "" {
		name = s
	}
	d.Tags = append(d.Tags, contract.DocTag{ID: id, Slug: s, Name: name})
	b.tags[s] = id
	return id
}

func (b *builder) user(a contract.Author) string {
	s := strings.TrimSpace(a.Slug)
	if s == "" {
		s = slug.Make(a.Name)
	}
	if s == "" {
		s = fallbackAuthor.Slug
	}
	if id, ok := b.users[s]; ok {
		return id
	}
	d := &b.doc.Data
	id := strconv.Itoa(len(d.Users) + 1)
	email := strings.TrimSpace(a.Email)
	if email == "" {
		email = s + "@" + b.f.emailDomain
	}
	name := strings.TrimSpace(a.Name)
	if name == "" {
		name = s
	}
	d.Users = append(d.Users, contract.DocUser{ID: id, Slug: s, Name: name, Email: email})
	b.users[s] = id
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// excerpt: 自定义摘要上限 300 字符。
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > 300 {
		return string(r[:300])
	}
	return s
}
