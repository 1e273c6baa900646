package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
// 布尔开关为指针：nil 表示“未设置”，以便 Merge 区分显式 false。
type Config struct {
	// Source: 迁移来源（wp-xml | curated | substack-members）。
	Source string   `json:"source"`
	Inputs []string `json:"inputs"`

	Zip   *bool `json:"zip,omitempty"`
	Cache *bool `json:"cache,omitempty"`

	TmpPath    string `json:"tmp_path"`
	OutputPath string `json:"output_path"`
	CacheName  string `json:"cache_name"`

	// Limit: 会员批大小。
	Limit int `json:"limit"`
	// SizeLimit: 资源抓取的单文件上限（MB）；仅承载。
	SizeLimit   int `json:"size_limit"`
	Concurrency int `json:"concurrency"`

	KeepLocalArchive *bool  `json:"keep_local_archive,omitempty"`
	UploadName       string `json:"upload_name"`
	Verbose          *bool  `json:"verbose,omitempty"`

	Logging Logging `json:"logging"`
	Members Members `json:"members"`
	Posts   Posts   `json:"posts"`
	Output  Output  `json:"output"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 等级与日志目录；目录为空时写入工作区 logs/。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Members: 会员迁移的分批与标签。
type Members struct {
	// CompCap: comp 类别单批上限。
	CompCap int      `json:"comp_cap"`
	Labels  []string `json:"labels"`
}

// Posts: 内容迁移的过滤与转换开关。
type Posts struct {
	Drafts           *bool  `json:"drafts,omitempty"`
	Pages            *bool  `json:"pages,omitempty"`
	AddTag           string `json:"add_tag"`
	FallbackHTMLCard *bool  `json:"fallback_html_card,omitempty"`
}

// Output: 远端存储（为空表示不上传）。
type Output struct {
	Storage string          `json:"storage"`
	Options json.RawMessage `json:"options,omitempty"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader    json.RawMessage `json:"reader,omitempty"`
	Ingestor  json.RawMessage `json:"ingestor,omitempty"`
	Formatter json.RawMessage `json:"formatter,omitempty"`
	Converter json.RawMessage `json:"converter,omitempty"`
	Batcher   json.RawMessage `json:"batcher,omitempty"`
}

// Bool 返回指针值；nil 为 false。
func Bool(p *bool) bool { return p != nil && *p }

func boolPtr(v bool) *bool { return &v }
