package ghostjson

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghmigrate/pkg/contract"
)

var (
	harry = &contract.Author{Slug: "harry-example-com", Name: "Harry Potter", Email: "harry@example.com"}
	news  = contract.Tag{URL: "/tag/company-news", Slug: "company-news", Name: "Company News"}
	wp    = contract.Tag{URL: "migrator-added-tag", Slug: "hash-wp", Name: "#wp"}
	t0    = time.Date(2013, 6, 7, 3, 0, 44, 0, time.UTC)
)

func sample() *contract.Ingested {
	return &contract.Ingested{Posts: []contract.Post{
		{Slug: "draft-post", Title: "Draft", Status: "draft", Type: "post", HTML: "<p>d</p>", CreatedAt: t0, UpdatedAt: t0, Tags: []contract.Tag{news, wp}, Author: harry},
		{Slug: "basic-post", Title: "Basic", Status: "published", Type: "post", HTML: "<p>b</p>", PublishedAt: t0, CreatedAt: t0, UpdatedAt: t0.Add(time.Hour), Tags: []contract.Tag{news, news, wp}, Author: harry},
		{Slug: "services", Title: "Services", Status: "published", Type: "page", HTML: "<p>s</p>", CreatedAt: t0, UpdatedAt: t0, Tags: []contract.Tag{wp}},
		{Slug: "basic-post", Title: "Basic again", Status: "published", Type: "post", CreatedAt: t0, UpdatedAt: t0},
	}}
}

// 保留全部：顺序 ID、标签与作者去重、重复 slug 加序号
func TestFormatAll(t *testing.T) {
	doc, err := New(nil).Format(context.Background(), sample(), contract.FormatOptions{Drafts: true, Pages: true})
	require.NoError(t, err)

	d := doc.Data
	require.Len(t, d.Posts, 4)
	assert.Equal(t, []string{"1", "2", "3", "4"}, []string{d.Posts[0].ID, d.Posts[1].ID, d.Posts[2].ID, d.Posts[3].ID})
	assert.Equal(t, "basic-post-2", d.Posts[3].Slug)
	assert.Equal(t, "draft", d.Posts[0].Status)
	assert.Equal(t, "page", d.Posts[2].Type)
	assert.Equal(t, "2013-06-07T03:00:44.000Z", d.Posts[1].PublishedAt)
	assert.Empty(t, d.Posts[0].PublishedAt)

	assert.Equal(t, []contract.DocTag{{ID: "1", Slug: "company-news", Name: "Company News"}, {ID: "2", Slug: "hash-wp", Name: "#wp"}}, d.Tags)
	assert.Equal(t, []contract.PostTag{
		{PostID: "1", TagID: "1", SortOrder: 0}, {PostID: "1", TagID: "2", SortOrder: 1},
		{PostID: "2", TagID: "1", SortOrder: 0}, {PostID: "2", TagID: "2", SortOrder: 1},
		{PostID: "3", TagID: "2", SortOrder: 0},
	}, d.PostsTags)

	require.Len(t, d.Users, 2)
	assert.Equal(t, contract.DocUser{ID: "1", Slug: "harry-example-com", Name: "Harry Potter", Email: "harry@example.com"}, d.Users[0])
	assert.Equal(t, "migrator-added-author@example.com", d.Users[1].Email)
	assert.Equal(t, "2", d.PostsAuthors[2].AuthorID)
	assert.Len(t, d.PostsAuthors, 4)

	assert.Equal(t, t0.Add(time.Hour).UnixMilli(), doc.Meta.ExportedOn)
	assert.Equal(t, Version, doc.Meta.Version)
}

// 过滤草稿与页面，并追加自定义标签
func TestFormatFiltersAndAddTag(t *testing.T) {
	doc, err := New(&Options{EmailDomain: "migrated.invalid"}).Format(context.Background(), sample(), contract.FormatOptions{AddTag: "From WordPress"})
	require.NoError(t, err)

	d := doc.Data
	require.Len(t, d.Posts, 2)
	assert.Equal(t, "basic-post", d.Posts[0].Slug)
	assert.Equal(t, "basic-post-2", d.Posts[1].Slug)
	assert.Equal(t, "from-wordpress", d.Tags[len(d.Tags)-1].Slug)
	assert.Equal(t, "From WordPress", d.Tags[len(d.Tags)-1].Name)
	assert.Equal(t, "migrator-added-author@migrated.invalid", d.Users[1].Email)
	// 输入不被修改
	assert.Len(t, sample().Posts[1].Tags, 3)
}

// 同输入两次序列化字节一致；空输入的集合序列化为 []
func TestFormatDeterministic(t *testing.T) {
	f := New(nil)
	a, err := f.Format(context.Background(), sample(), contract.FormatOptions{Drafts: true, Pages: true})
	require.NoError(t, err)
	b, err := f.Format(context.Background(), sample(), contract.FormatOptions{Drafts: true, Pages: true})
	require.NoError(t, err)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	assert.Equal(t, string(ja), string(jb))

	empty, err := f.Format(context.Background(), &contract.Ingested{}, contract.FormatOptions{})
	require.NoError(t, err)
	je, _ := json.Marshal(empty)
	assert.JSONEq(t, `{"meta":{"exported_on":0,"version":"5.0.0"},"data":{"posts":[],"tags":[],"users":[],"posts_tags":[],"posts_authors":[]}}`, string(je))

	_, err = f.Format(context.Background(), nil, contract.FormatOptions{})
	assert.Error(t, err)
}
