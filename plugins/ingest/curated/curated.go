// Package curated 解析 Curated 导出 zip：每期一个 JSON 文件，转为帖子。
package curated

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/klauspost/compress/zip"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"ghmigrate/pkg/contract"
	"ghmigrate/pkg/slug"
)

// Options 为 Curated 导出的解析选项。
type Options struct {
	// AuthorName/AuthorEmail: 所有期刊的作者；为空时使用迁移器作者。
	AuthorName  string `json:"author_name,omitempty"`
	AuthorEmail string `json:"author_email,omitempty"`
	// TagCategories: 把栏目名作为标签。默认 true。
	TagCategories *bool `json:"tag_categories,omitempty"`
}

// Ingestor 实现 contract.Ingestor。
type Ingestor struct {
	author  contract.Author
	tagCats bool
}

// New 创建 Ingestor；opts 可为 nil。
func New(opts *Options) *Ingestor {
	in := &Ingestor{
		author:  contract.Author{URL: "migrator-added-author", Slug: "migrator-added-author", Name: "Migrator Added Author"},
		tagCats: true,
	}
	if opts == nil {
		return in
	}
	if name := strings.TrimSpace(opts.AuthorName); name != "" {
		s := slug.Make(opts.AuthorEmail)
		if s == "" {
			s = slug.Make(name)
		}
		in.author = contract.Author{URL: s, Slug: s, Name: name, Email: strings.TrimSpace(opts.AuthorEmail)}
	}
	if opts.TagCategories != nil {
		in.tagCats = *opts.TagCategories
	}
	return in
}

var _ contract.Ingestor = (*Ingestor)(nil)

type issue struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	PublishedAt string     `json:"published_at"`
	UpdatedAt   string     `json:"updated_at"`
	URL         string     `json:"url"`
	Categories  []category `json:"categories"`
}

type category struct {
	Name  string `json:"name"`
	Items []link `json:"items"`
}

type link struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Image       string `json:"image"`
}

// Ingest 读取整个 zip；按文件名顺序处理 .json 条目，单期解析失败记为提示并跳过。
func (in *Ingestor) Ingest(ctx context.Context, fileID contract.FileID, r io.Reader, into *contract.Ingested) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return errors.Annotatef(err, "curated: read %s", fileID)
	}
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return errors.Annotatef(contract.ErrInvalidInput, "curated: %s is not a zip: %v", fileID, err)
	}
	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".json") || strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return errors.Annotatef(contract.ErrInvalidInput, "curated: %s contains no issues", fileID)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		is, err := readIssue(f)
		if err != nil {
			into.Notices = append(into.Notices, contract.Notice{Source: fileID, RecordID: f.Name, Message: err.Error()})
			continue
		}
		p, err := in.toPost(is)
		if err != nil {
			into.Notices = append(into.Notices, contract.Notice{Source: fileID, RecordID: f.Name, Message: err.Error()})
			continue
		}
		into.Posts = append(into.Posts, p)
	}
	return nil
}

func readIssue(f *zip.File) (issue, error) {
	var is issue
	rc, err := f.Open()
	if err != nil {
		return is, err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(&is); err != nil {
		return is, errors.Annotate(err, "decode issue")
	}
	return is, nil
}

func (in *Ingestor) toPost(is issue) (contract.Post, error) {
	published, err := parseTime(is.PublishedAt)
	if err != nil {
		return contract.Post{}, errors.Annotatef(err, "issue %d published_at", is.Number)
	}
	updated, err := parseTime(is.UpdatedAt)
	if err != nil || updated.Before(published) {
		updated = published
	}
	title := strings.TrimSpace(is.Title)
	if title == "" {
		title = "Issue #" + strconv.Itoa(is.Number)
	}
	status := "published"
	if published.IsZero() {
		status = "draft"
	}
	body, err := renderIssue(is)
	if err != nil {
		return contract.Post{}, err
	}
	author := in.author
	p := contract.Post{
		SourceURL:   is.URL,
		Slug:        "issue-" + strconv.Itoa(is.Number),
		Title:       title,
		Status:      status,
		Type:        "post",
		HTML:        body,
		Excerpt:     strings.TrimSpace(is.Summary),
		PublishedAt: published,
		CreatedAt:   published,
		UpdatedAt:   updated,
		Author:      &author,
	}
	if in.tagCats {
		for _, c := range is.Categories {
			if s := slug.Make(c.Name); s != "" {
				p.Tags = append(p.Tags, contract.Tag{URL: "/tag/" + s, Slug: s, Name: strings.TrimSpace(c.Name)})
			}
		}
	}
	p.Tags = append(p.Tags, contract.Tag{URL: "migrator-added-tag", Slug: "hash-curated", Name: "#curated"})
	return p, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// renderIssue 以节点树构造正文：摘要段落，每个栏目一个 h2，每条链接一个 h3 + 描述 + 可选图片。
func renderIssue(is issue) (string, error) {
	root := &html.Node{Type: html.DocumentNode}
	if s := strings.TrimSpace(is.Summary); s != "" {
		root.AppendChild(elem(atom.P, nil, text(s)))
	}
	for _, c := range is.Categories {
		if name := strings.TrimSpace(c.Name); name != "" {
			root.AppendChild(elem(atom.H2, nil, text(name)))
		}
		for _, l := range c.Items {
			var head *html.Node
			if l.URL != "" {
				head = elem(atom.A, []html.Attribute{{Key: "href", Val: l.URL}}, text(l.Title))
			} else {
				head = text(l.Title)
			}
			root.AppendChild(elem(atom.H3, nil, head))
			if l.Image != "" {
				root.AppendChild(elem(atom.Img, []html.Attribute{{Key: "src", Val: l.Image}, {Key: "alt", Val: l.Title}}))
			}
			if d := strings.TrimSpace(l.Description); d != "" {
				root.AppendChild(elem(atom.P, nil, text(d)))
			}
		}
	}
	var buf bytes.Buffer
	for n := root.FirstChild; n != nil; n = n.NextSibling {
		if err := html.Render(&buf, n); err != nil {
			return "", errors.Annotate(err, "render issue")
		}
	}
	return buf.String(), nil
}

func elem(a atom.Atom, attrs []html.Attribute, children ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
	for _, c := range children {
		n.AppendChild(c)
	}
	return n
}

func text(s string) *html.Node { return &html.Node{Type: html.TextNode, Data: s} }
