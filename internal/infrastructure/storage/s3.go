package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"rafflesystem/internal/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
)

type s3Storage struct {
	uploader *s3manager.Uploader
	cfg      config.StorageConfig
}

// NewS3Storage 兼容 S3 协议的对象存储（AWS S3 / R2 / MinIO）
func NewS3Storage(cfg config.StorageConfig) (Storage, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		Endpoint:         aws.String(cfg.Endpoint),
		S3ForcePathStyle: aws.Bool(true),
		DisableSSL:       aws.Bool(cfg.SSLDisabled),
	})
	if err != nil {
		return nil, fmt.Errorf("创建 S3 会话失败: %w", err)
	}

	return &s3Storage{
		uploader: s3manager.NewUploader(sess),
		cfg:      cfg,
	}, nil
}

// objectKey 加 uuid 前缀避免同名文件互相覆盖
func objectKey(object *UploadObject) string {
	return path.Join(object.Prefix, fmt.Sprintf("%s-%s", uuid.NewString(), path.Base(object.FileName)))
}

func (s *s3Storage) Upload(ctx context.Context, object *UploadObject) (*UploadResponse, error) {
	key := objectKey(object)

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(object.Data),
		ACL:         aws.String("public-read"),
		ContentType: aws.String(object.Mime),
	})
	if err != nil {
		return nil, fmt.Errorf("上传失败: bucket=%s, key=%s: %w", s.cfg.Bucket, key, err)
	}

	return &UploadResponse{
		URL: fmt.Sprintf("%s/%s/%s", s.cfg.PublicEndpoint, s.cfg.Bucket, key),
		Key: key,
	}, nil
}
