package registry

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/juju/clock"

	"ghmigrate/pkg/contract"
	bfixed "ghmigrate/plugins/batcher/fixed"
	cmd "ghmigrate/plugins/converter/mobiledoc"
	fghost "ghmigrate/plugins/formatter/ghostjson"
	icur "ghmigrate/plugins/ingest/curated"
	imem "ghmigrate/plugins/ingest/memberscsv"
	iwp "ghmigrate/plugins/ingest/wpxml"
	rfs "ghmigrate/plugins/reader/filesystem"
	ufs "ghmigrate/plugins/uploader/fs"
	us3 "ghmigrate/plugins/uploader/s3"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewIngestor 工厂签名：接收原样 JSON Options。
type NewIngestor func(raw json.RawMessage) (contract.Ingestor, error)

// NewFormatter 工厂签名：接收原样 JSON Options。
type NewFormatter func(raw json.RawMessage) (contract.Formatter, error)

// NewConverter 工厂签名：接收原样 JSON Options。
type NewConverter func(raw json.RawMessage) (contract.Converter, error)

// NewBatcher 工厂签名：clk 只用于日志文件名的时间戳。
type NewBatcher func(raw json.RawMessage, clk clock.Clock) (*bfixed.Batcher, error)

// NewUploader 工厂签名：ctx 用于加载远端凭据。
type NewUploader func(ctx context.Context, raw json.RawMessage) (contract.Uploader, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Ingestor 工厂注册表；键即迁移来源名。
var Ingestor = map[string]NewIngestor{
	"wp-xml": func(raw json.RawMessage) (contract.Ingestor, error) {
		var opts iwp.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return iwp.New(&opts), nil
	},
	"substack-members": func(raw json.RawMessage) (contract.Ingestor, error) {
		var opts imem.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return imem.New(&opts), nil
	},
	"curated": func(raw json.RawMessage) (contract.Ingestor, error) {
		var opts icur.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return icur.New(&opts), nil
	},
}

// Formatter 工厂注册表。
var Formatter = map[string]NewFormatter{
	"ghost-json": func(raw json.RawMessage) (contract.Formatter, error) {
		var opts fghost.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fghost.New(&opts), nil
	},
}

// Converter 工厂注册表。
var Converter = map[string]NewConverter{
	"mobiledoc": func(raw json.RawMessage) (contract.Converter, error) {
		var opts cmd.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cmd.New(&opts), nil
	},
}

// Batcher 工厂注册表。
var Batcher = map[string]NewBatcher{
	// fixed: 按类别定长切批
	"fixed": func(raw json.RawMessage, clk clock.Clock) (*bfixed.Batcher, error) {
		var opts bfixed.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return bfixed.New(&opts, clk)
	},
}

// Uploader 工厂注册表；选项解码由各实现负责。
var Uploader = map[string]NewUploader{
	"s3": func(ctx context.Context, raw json.RawMessage) (contract.Uploader, error) { return us3.New(ctx, raw) },
	"fs": func(_ context.Context, raw json.RawMessage) (contract.Uploader, error) { return ufs.New(raw) },
}
