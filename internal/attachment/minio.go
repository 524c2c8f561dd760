package attachment

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"streetlight-api/internal/logger"
	"streetlight-api/internal/metrics"
)

// 文档注释：MinIO/S3 附件存储
// 背景：照片不再写入试算表储存格，改存对象存储，历史记录只保留可访问的 URL。
// 约束：对象键为 lights/<yyyy/mm/dd>/<uuid><ext>；URL = publicBase + "/" + 对象键；Remove 仅接受本存储产生的 URL。
type MinioStore struct {
	client     *minio.Client
	bucket     string
	publicBase string
	now        func() time.Time
}

func NewMinioStore(client *minio.Client, bucket, publicBase string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, publicBase: strings.TrimRight(publicBase, "/"), now: time.Now}
}

// EnsureBucket 桶不存在时创建
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	ok, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if ok {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	logger.L().Info("attachment_bucket_created", "bucket", m.bucket)
	return nil
}

func (m *MinioStore) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}

// Put 上传附件并返回 URL
func (m *MinioStore) Put(ctx context.Context, p *Payload) (string, error) {
	key := ObjectKey(m.now(), uuid.NewString(), p.Ext())
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(p.Data), int64(len(p.Data)), minio.PutObjectOptions{ContentType: p.ContentType})
	if err != nil {
		metrics.AttachmentUploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	metrics.AttachmentUploadsTotal.WithLabelValues("ok").Inc()
	logger.L().Debug("attachment_uploaded", "key", key, "bytes", len(p.Data))
	return m.publicBase + "/" + key, nil
}

// Remove 删除 Put 产生的对象（对账事务失败时清理）
func (m *MinioStore) Remove(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, m.publicBase+"/")
	if !ok || key == "" {
		return fmt.Errorf("url %q is not managed by this store", url)
	}
	return m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
}

// ObjectKey 按日期分目录生成对象键
func ObjectKey(t time.Time, id, ext string) string {
	return "lights/" + t.UTC().Format("2006/01/02") + "/" + id + ext
}
