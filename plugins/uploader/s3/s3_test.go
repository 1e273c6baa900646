package s3

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghmigrate/pkg/contract"
)

type fakeAPI struct {
	bucket, key, ctype string
	body               []byte
	err                error
}

func (f *fakeAPI) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket, f.key, f.ctype = aws.ToString(in.Bucket), aws.ToString(in.Key), aws.ToString(in.ContentType)
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &awss3.PutObjectOutput{}, nil
}

// 对象键带前缀，Location 为 s3 URI
func TestUpload(t *testing.T) {
	api := &fakeAPI{}
	u := NewWithAPI(api, Options{Bucket: "migrations", Prefix: "/ghost/"})
	res, err := u.Upload(context.Background(), contract.UploadRequest{Body: []byte("zip"), FileName: "gh-wp-xml-site.zip"})
	require.NoError(t, err)

	assert.Equal(t, "s3://migrations/ghost/gh-wp-xml-site.zip", res.Location)
	assert.Equal(t, "migrations", api.bucket)
	assert.Equal(t, "ghost/gh-wp-xml-site.zip", api.key)
	assert.Equal(t, "application/zip", api.ctype)
	assert.Equal(t, []byte("zip"), api.body)
}

// 文件名只取基名；空名属于路径错误；客户端错误原样返回
func TestUploadErrors(t *testing.T) {
	api := &fakeAPI{}
	u := NewWithAPI(api, Options{Bucket: "b"})
	res, err := u.Upload(context.Background(), contract.UploadRequest{FileName: `dir\sub\a.zip`})
	require.NoError(t, err)
	assert.Equal(t, "s3://b/a.zip", res.Location)

	_, err = u.Upload(context.Background(), contract.UploadRequest{FileName: ""})
	assert.True(t, errors.Is(err, contract.ErrPathInvalid))

	denied := errors.New("AccessDenied")
	_, err = NewWithAPI(&fakeAPI{err: denied}, Options{Bucket: "b"}).Upload(context.Background(), contract.UploadRequest{FileName: "a.zip"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, denied))
}

// 选项校验：缺少 bucket、未知字段、缺少静态凭据
func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))

	_, err = New(context.Background(), json.RawMessage(`{"bucket":"b","x":1}`))
	assert.Error(t, err)

	t.Setenv("GHM_TEST_AK", "")
	_, err = New(context.Background(), json.RawMessage(`{"bucket":"b","access_key_env":"GHM_TEST_AK","secret_key_env":"GHM_TEST_SK"}`))
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))

	t.Setenv("GHM_TEST_AK", "id")
	t.Setenv("GHM_TEST_SK", "secret")
	u, err := New(context.Background(), json.RawMessage(`{"bucket":"b","region":"us-east-1","endpoint":"http://127.0.0.1:9000","use_path_style":true,"access_key_env":"GHM_TEST_AK","secret_key_env":"GHM_TEST_SK"}`))
	require.NoError(t, err)
	assert.Equal(t, "a.zip", u.Key("a.zip"))
}
