package utils

import (
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"streetlight-api/internal/logger"
)

// OpenMinioFromEnv：MINIO_ENDPOINT / MINIO_ACCESS_KEY / MINIO_SECRET_KEY / MINIO_SECURE
// 约束：未配置 MINIO_ENDPOINT 时返回 nil, nil（附件功能停用）
func OpenMinioFromEnv() (*minio.Client, error) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		return nil, nil
	}
	secure := os.Getenv("MINIO_SECURE") == "true"
	logger.L().Debug("minio_env", "endpoint", endpoint, "secure", secure)
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
		Secure: secure,
	})
}
