// Package mobiledoc 把帖子 HTML 转为 Mobiledoc 0.3.1。
//
// 标准转换覆盖段落、标题、引用、列表、图片、分隔线与代码块；
// 遇到无法表示的元素（表格、iframe、脚本等）时转换失败。
// 失败时可退回单个 HTML 卡片，否则上报警告并保留原 HTML。
package mobiledoc

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"ghmigrate/pkg/contract"
)

// Version 为输出的 Mobiledoc 版本。
const Version = "0.3.1"

// ErrUnsupported: 标准转换无法表示的内容。
const ErrUnsupported = errors.ConstError("unsupported markup")

// Options 为转换选项。
type Options struct {
	// FallBackHTMLCard: 标准转换失败时退回 HTML 卡片。
	FallBackHTMLCard bool `json:"fallback_html_card,omitempty"`
}

// Converter 实现 contract.Converter：每篇帖子一个子任务。
type Converter struct {
	fallback bool
}

// New 创建 Converter；opts 可为 nil。
func New(opts *Options) *Converter {
	c := &Converter{}
	if opts != nil {
		c.fallback = opts.FallBackHTMLCard
	}
	return c
}

var _ contract.Converter = (*Converter)(nil)

// Convert 为每篇帖子生成一个任务；任务直接改写 doc 中对应帖子。
func (c *Converter) Convert(ctx context.Context, doc *contract.Document) ([]contract.Task, error) {
	if doc == nil {
		return nil, errors.Annotate(contract.ErrInvalidInput, "mobiledoc: nil document")
	}
	tasks := make([]contract.Task, 0, len(doc.Data.Posts))
	for i := range doc.Data.Posts {
		p := &doc.Data.Posts[i]
		tasks = append(tasks, contract.Task{
			Title: p.Slug,
			Run: func(ctx context.Context, rep contract.Reporter) error {
				return c.convertPost(ctx, p, rep)
			},
		})
	}
	return tasks, nil
}

func (c *Converter) convertPost(ctx context.Context, p *contract.DocPost, rep contract.Reporter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Mobiledoc != "" {
		return nil
	}
	md, err := FromHTML(p.HTML)
	if err != nil {
		if !errors.Is(err, ErrUnsupported) {
			return errors.Annotatef(err, "convert %s", p.Slug)
		}
		if !c.fallback {
			rep.Warn(p.ID, "kept html: "+err.Error())
			return nil
		}
		md = HTMLCard(p.HTML)
		rep.Warn(p.ID, "converted to html card: "+err.Error())
	}
	b, err := json.Marshal(md)
	if err != nil {
		return errors.Annotatef(err, "encode %s", p.Slug)
	}
	p.Mobiledoc = string(b)
	p.HTML = ""
	return nil
}

// Doc 为 Mobiledoc 文档。各切片元素按规范为异构数组。
type Doc struct {
	Version  string `json:"version"`
	Atoms    []any  `json:"atoms"`
	Cards    []any  `json:"cards"`
	Markups  []any  `json:"markups"`
	Sections []any  `json:"sections"`
}

func newDoc() *Doc {
	return &Doc{Version: Version, Atoms: []any{}, Cards: []any{}, Markups: []any{}, Sections: []any{}}
}

// HTMLCard 把整段 HTML 放入单个 html 卡片。
func HTMLCard(s string) *Doc {
	d := newDoc()
	d.Cards = append(d.Cards, []any{"html", map[string]string{"html": s}})
	d.Sections = append(d.Sections, []any{10, 0})
	return d
}

// 区块类型。
const (
	sectionMarkup = 1
	sectionImage  = 2
	sectionList   = 3
	sectionCard   = 10
)

// FromHTML 执行标准转换。
func FromHTML(s string) (*Doc, error) {
	nodes, err := html.ParseFragment(strings.NewReader(s), &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body})
	if err != nil {
		return nil, errors.Annotate(err, "parse html")
	}
	cv := &conv{doc: newDoc(), markups: map[string]int{}}
	if err := cv.blocks(nodes); err != nil {
		return nil, err
	}
	cv.flush()
	return cv.doc, nil
}

type conv struct {
	doc     *Doc
	markups map[string]int
	// inline: 顶层散落的行内节点，积累为隐式段落
	inline []*html.Node
}

var inlineAtoms = map[atom.Atom]bool{
	atom.A: true, atom.B: true, atom.Strong: true, atom.I: true, atom.Em: true, atom.U: true,
	atom.S: true, atom.Del: true, atom.Strike: true, atom.Code: true, atom.Sub: true, atom.Sup: true,
	atom.Span: true, atom.Small: true, atom.Font: true, atom.Br: true, atom.Mark: true, atom.Abbr: true,
}

var containerAtoms = map[atom.Atom]bool{
	atom.Div: true, atom.Section: true, atom.Article: true, atom.Figure: true, atom.Main: true, atom.Header: true, atom.Footer: true,
}

var markupSectionAtoms = map[atom.Atom]bool{
	atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true, atom.Blockquote: true,
}

func (cv *conv) blocks(nodes []*html.Node) error {
	for _, n := range nodes {
		switch n.Type {
		case html.CommentNode:
			continue
		case html.TextNode:
			if strings.TrimSpace(n.Data) == "" && len(cv.inline) == 0 {
				continue
			}
			cv.inline = append(cv.inline, n)
			continue
		case html.ElementNode:
		default:
			return errors.Annotatef(ErrUnsupported, "node type %d", n.Type)
		}
		if inlineAtoms[n.DataAtom] {
			cv.inline = append(cv.inline, n)
			continue
		}
		cv.flush()
		switch {
		case markupSectionAtoms[n.DataAtom]:
			markers, err := cv.markers(children(n))
			if err != nil {
				return err
			}
			if len(markers) > 0 || n.DataAtom != atom.P {
				cv.doc.Sections = append(cv.doc.Sections, []any{sectionMarkup, n.Data, markers})
			}
		case n.DataAtom == atom.Ul || n.DataAtom == atom.Ol:
			var items []any
			for li := n.FirstChild; li != nil; li = li.NextSibling {
				if li.Type == html.TextNode && strings.TrimSpace(li.Data) == "" {
					continue
				}
				if li.Type != html.ElementNode || li.DataAtom != atom.Li {
					return errors.Annotatef(ErrUnsupported, "%s inside %s", li.Data, n.Data)
				}
				m, err := cv.markers(children(li))
				if err != nil {
					return err
				}
				items = append(items, m)
			}
			cv.doc.Sections = append(cv.doc.Sections, []any{sectionList, n.Data, items})
		case n.DataAtom == atom.Img:
			src := attr(n, "src")
			if src == "" {
				continue
			}
			cv.doc.Sections = append(cv.doc.Sections, []any{sectionImage, src})
		case n.DataAtom == atom.Hr:
			cv.card("hr", map[string]string{})
		case n.DataAtom == atom.Pre:
			cv.card("code", map[string]string{"code": textContent(n)})
		case containerAtoms[n.DataAtom]:
			if err := cv.blocks(children(n)); err != nil {
				return err
			}
			cv.flush()
		default:
			return errors.Annotatef(ErrUnsupported, "<%s>", n.Data)
		}
	}
	return nil
}

func (cv *conv) card(name string, payload map[string]string) {
	cv.doc.Cards = append(cv.doc.Cards, []any{name, payload})
	cv.doc.Sections = append(cv.doc.Sections, []any{sectionCard, len(cv.doc.Cards) - 1})
}

// flush 把积累的行内节点写成隐式段落。
func (cv *conv) flush() {
	if len(cv.inline) == 0 {
		return
	}
	nodes := cv.inline
	cv.inline = nil
	markers, err := cv.markers(nodes)
	if err != nil || len(markers) == 0 {
		return
	}
	cv.doc.Sections = append(cv.doc.Sections, []any{sectionMarkup, "p", markers})
}

// marker: [type, openMarkups, closeCount, value]
type marker struct {
	atom   bool
	open   []int
	closed int
	value  any
}

func (m *marker) slice() []any {
	typ := 0
	if m.atom {
		typ = 1
	}
	open := m.open
	if open == nil {
		open = []int{}
	}
	return []any{typ, open, m.closed, m.value}
}

var spaces = regexp.MustCompile(`\s+`)

func (cv *conv) markers(nodes []*html.Node) ([]any, error) {
	var out []*marker
	var pending []int
	var walk func(n *html.Node) error
	walk = func(n *html.Node) error {
		switch n.Type {
		case html.CommentNode:
			return nil
		case html.TextNode:
			t := spaces.ReplaceAllString(n.Data, " ")
			if t == "" {
				return nil
			}
			out = append(out, &marker{open: pending, value: t})
			pending = nil
			return nil
		case html.ElementNode:
		default:
			return errors.Annotatef(ErrUnsupported, "node type %d", n.Type)
		}
		if n.DataAtom == atom.Br {
			cv.doc.Atoms = append(cv.doc.Atoms, []any{"soft-return", "", map[string]string{}})
			out = append(out, &marker{atom: true, open: pending, value: len(cv.doc.Atoms) - 1})
			pending = nil
			return nil
		}
		if !inlineAtoms[n.DataAtom] {
			return errors.Annotatef(ErrUnsupported, "<%s> inside text", n.Data)
		}
		idx, ok := cv.markup(n)
		before := len(out)
		if ok {
			pending = append(pending, idx)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		if !ok {
			return nil
		}
		if len(out) > before {
			out[len(out)-1].closed++
		} else if len(pending) > 0 {
			// 空元素：撤销未使用的打开
			pending = pending[:len(pending)-1]
		}
		return nil
	}
	for _, n := range nodes {
		if err := walk(n); err != nil {
			return nil, err
		}
	}
	// 段首尾空白
	if len(out) > 0 {
		if s, ok := out[0].value.(string); ok && !out[0].atom {
			out[0].value = strings.TrimLeft(s, " ")
		}
		last := out[len(out)-1]
		if s, ok := last.value.(string); ok && !last.atom {
			last.value = strings.TrimRight(s, " ")
		}
	}
	res := make([]any, 0, len(out))
	for _, m := range out {
		if s, ok := m.value.(string); ok && !m.atom && s == "" && len(m.open) == 0 && m.closed == 0 {
			continue
		}
		res = append(res, m.slice())
	}
	return res, nil
}

// markup 返回元素对应的 markup 下标；span 等透明元素返回 false。
func (cv *conv) markup(n *html.Node) (int, bool) {
	var tag string
	var attrs []string
	switch n.DataAtom {
	case atom.B, atom.Strong:
		tag = "strong"
	case atom.I, atom.Em:
		tag = "em"
	case atom.S, atom.Del, atom.Strike:
		tag = "s"
	case atom.U, atom.Code, atom.Sub, atom.Sup:
		tag = n.Data
	case atom.A:
		tag = "a"
		if href := attr(n, "href"); href != "" {
			attrs = []string{"href", href}
		}
	default:
		return 0, false
	}
	key := tag + "\x00" + strings.Join(attrs, "\x00")
	if i, ok := cv.markups[key]; ok {
		return i, true
	}
	m := []any{tag}
	if len(attrs) > 0 {
		m = append(m, attrs)
	}
	cv.doc.Markups = append(cv.doc.Markups, m)
	i := len(cv.doc.Markups) - 1
	cv.markups[key] = i
	return i, true
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
