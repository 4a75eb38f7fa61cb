package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"storefront/internal/pkg/config"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
)

// Archiver 保存已验签的原始回调，用于事后对账
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) error
}

type AliyunOSSArchiver struct {
	bucket *oss.Bucket
}

func NewAliyunOSSArchiver(cfg config.OSSConfig) (*AliyunOSSArchiver, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, err
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, err
	}

	return &AliyunOSSArchiver{bucket: bucket}, nil
}

func (a *AliyunOSSArchiver) Put(ctx context.Context, key string, body []byte) error {
	return a.bucket.PutObject(key, bytes.NewReader(body), oss.WithContext(ctx), oss.ContentType("application/json"))
}

// ObjectKey 生成归档路径: prefix/gateway/YYYYMMDD/reference-uuid.json
func ObjectKey(prefix, gateway, reference string, at time.Time) string {
	name := fmt.Sprintf("%s-%s.json", reference, uuid.New().String())
	return path.Join(prefix, gateway, at.UTC().Format("20060102"), name)
}

// NopArchiver 未配置 OSS 时使用
type NopArchiver struct{}

func (NopArchiver) Put(context.Context, string, []byte) error { return nil }

// Task 归档任务
type Task struct {
	Archiver Archiver
	Key      string
	Body     []byte
}

func (t *Task) Kind() string { return "archive" }

func (t *Task) Run(ctx context.Context) error {
	return t.Archiver.Put(ctx, t.Key, t.Body)
}
