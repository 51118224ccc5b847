package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/zhouzirui/viva/backend/internal/logger"
)

// ErrObjectNotFound 对象或桶不存在
var ErrObjectNotFound = errors.New("object not found")

// Client 封装 MinIO 客户端，保存默认题库等小文件
type Client struct {
	mc     *minio.Client
	bucket string
}

// Config MinIO 连接参数
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// Region 为空时由服务端探测
	Region string
}

// NewClient creates a new storage client
func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Client{mc: mc, bucket: cfg.Bucket}, nil
}

// Bucket 默认桶名
func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket 桶不存在时创建
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	logger.Info("bucket created", "bucket", c.bucket)
	return nil
}

// Upload uploads a file to the specified bucket
func (c *Client) Upload(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := c.mc.PutObject(ctx, bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, name, err)
	}

	logger.Debug("file uploaded", "bucket", bucket, "name", name, "bytes", len(data))
	return nil
}

// Download 读取整个对象；不存在时返回 ErrObjectNotFound
func (c *Client) Download(ctx context.Context, bucket, name string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("get %s/%s: %w", bucket, name, err), err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("read %s/%s: %w", bucket, name, err), err)
	}
	return data, nil
}

// Healthy checks if MinIO is reachable
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.mc.BucketExists(ctx, c.bucket)
	return err == nil
}

func wrapNotFound(wrapped, cause error) error {
	switch minio.ToErrorResponse(cause).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %w", ErrObjectNotFound, wrapped)
	default:
		return wrapped
	}
}
