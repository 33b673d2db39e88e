// Package storage turns raw image bytes into opaque handles backed by S3 and
// resolves handles into short-lived download URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/config"
)

type ImageStore struct {
	client        *s3.Client
	presigner     *s3.PresignClient
	bucket        string
	presignExpiry time.Duration
}

// NewImageStore 创建 S3 客户端，配置了 Endpoint 时使用静态凭证和 path-style 访问（LocalStack）
func NewImageStore(ctx context.Context, cfg *config.Config) (*ImageStore, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("未配置签名图片存储桶")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.Region),
	}
	if cfg.Storage.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("无法加载 AWS 配置: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &ImageStore{
		client:        client,
		presigner:     s3.NewPresignClient(client),
		bucket:        cfg.Storage.Bucket,
		presignExpiry: time.Duration(cfg.Storage.PresignExpiry) * time.Second,
	}, nil
}

// Put 上传图片并返回句柄，句柄即对象的 key
func (s *ImageStore) Put(ctx context.Context, data []byte, contentType, ext string) (string, error) {
	key := fmt.Sprintf("signatures/%s/%s.%s", time.Now().Format("2006/01"), uuid.NewString(), ext)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("无法上传签名图片: %w", err)
	}

	return key, nil
}

// URL 为句柄生成临时下载地址
func (s *ImageStore) URL(ctx context.Context, handle string) (string, error) {
	request, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(handle),
	}, s3.WithPresignExpires(s.presignExpiry))
	if err != nil {
		return "", fmt.Errorf("无法生成签名图片地址: %w", err)
	}

	return request.URL, nil
}
