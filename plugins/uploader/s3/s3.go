// Package s3 把归档上传到 S3 兼容对象存储。
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/juju/errors"

	"ghmigrate/pkg/contract"
)

// Options: 最小必需配置。凭据缺省走 AWS 默认链（环境变量、共享配置、实例角色）。
type Options struct {
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"` // 例如 MinIO: http://127.0.0.1:9000
	// UsePathStyle: 使用 path-style 地址（多数自建存储需要）。
	UsePathStyle bool `json:"use_path_style,omitempty"`
	// AccessKeyEnv/SecretKeyEnv: 从这些环境变量读取静态凭据。
	AccessKeyEnv string `json:"access_key_env,omitempty"`
	SecretKeyEnv string `json:"secret_key_env,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
}

func (o *Options) defaults() {
	if o.ContentType == "" {
		o.ContentType = "application/zip"
	}
	o.Prefix = strings.Trim(o.Prefix, "/")
}

// PutObjectAPI 为 S3 客户端的最小子集。
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

// Uploader 实现 contract.Uploader。失败不重试。
type Uploader struct {
	api         PutObjectAPI
	bucket      string
	prefix      string
	contentType string
}

// New 从原样 JSON 选项构造上传器。
func New(ctx context.Context, raw json.RawMessage) (*Uploader, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, errors.Annotate(err, "s3 options")
		}
	}
	opts.defaults()
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.Annotate(contract.ErrInvalidInput, "s3: missing bucket")
	}
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyEnv != "" || opts.SecretKeyEnv != "" {
		id, secret := os.Getenv(opts.AccessKeyEnv), os.Getenv(opts.SecretKeyEnv)
		if id == "" || secret == "" {
			return nil, errors.Annotatef(contract.ErrInvalidInput, "s3: %s/%s not set", opts.AccessKeyEnv, opts.SecretKeyEnv)
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(id, secret, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Annotate(err, "s3: load aws config")
	}
	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewWithAPI(client, opts), nil
}

// NewWithAPI 使用给定客户端（测试与自定义客户端）。
func NewWithAPI(api PutObjectAPI, opts Options) *Uploader {
	opts.defaults()
	return &Uploader{api: api, bucket: opts.Bucket, prefix: opts.Prefix, contentType: opts.ContentType}
}

var _ contract.Uploader = (*Uploader)(nil)

// Key 返回对象键 <prefix>/<fileName>。
func (u *Uploader) Key(fileName string) string {
	if u.prefix == "" {
		return fileName
	}
	return path.Join(u.prefix, fileName)
}

// Upload 以单次 PutObject 上传；Location 为 s3://bucket/key。
func (u *Uploader) Upload(ctx context.Context, req contract.UploadRequest) (contract.UploadResult, error) {
	name := path.Base(strings.ReplaceAll(req.FileName, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return contract.UploadResult{}, errors.Annotatef(contract.ErrPathInvalid, "s3: bad file name %q", req.FileName)
	}
	key := u.Key(name)
	_, err := u.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(req.Body),
		ContentType: aws.String(u.contentType),
	})
	if err != nil {
		return contract.UploadResult{}, errors.Annotatef(err, "s3: put s3://%s/%s", u.bucket, key)
	}
	return contract.UploadResult{Location: "s3://" + u.bucket + "/" + key}, nil
}
