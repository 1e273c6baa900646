package contract

import "context"

// UploadRequest: 上传载荷与远端文件名。
type UploadRequest struct {
	Body     []byte
	FileName string
}

// UploadResult: Location 为远端可定位地址（URI/路径）。
type UploadResult struct {
	Location string
}

// Uploader: 远端存储。失败直接返回，不做重试。
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
}
