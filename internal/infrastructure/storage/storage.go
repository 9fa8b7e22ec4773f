package storage

import "context"

// Storage 对象存储，只负责上传并返回可访问的 URL
type Storage interface {
	Upload(ctx context.Context, object *UploadObject) (*UploadResponse, error)
}

type UploadObject struct {
	Prefix   string
	FileName string
	Mime     string
	Data     []byte
}

type UploadResponse struct {
	URL string
	Key string
}
