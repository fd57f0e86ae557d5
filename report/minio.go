package report

import (
	"bytes"
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type MinIOStorage struct {
	minioClient *minio.Client
	bucketName  string
	logger      *zap.Logger
}

func NewMinIOStorage(minioClient *minio.Client, bucketName string, logger *zap.Logger) *MinIOStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinIOStorage{
		minioClient: minioClient,
		bucketName:  bucketName,
		logger:      logger,
	}
}

// StoreFile uploads fileData as fileName, creating the bucket when needed.
func (storage *MinIOStorage) StoreFile(ctx context.Context, fileName string, fileData []byte) error {
	err := storage.minioClient.MakeBucket(ctx, storage.bucketName, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := storage.minioClient.BucketExists(ctx, storage.bucketName)
		if errBucketExists != nil || !exists {
			return errors.Wrapf(err, "create bucket %s", storage.bucketName)
		}
	} else {
		storage.logger.Info("bucket created", zap.String("bucket", storage.bucketName))
	}

	info, err := storage.minioClient.PutObject(ctx, storage.bucketName, fileName, bytes.NewReader(fileData), int64(len(fileData)),
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return errors.Wrapf(err, "upload %s", fileName)
	}

	storage.logger.Info("report archived",
		zap.String("bucket", storage.bucketName),
		zap.String("object", fileName),
		zap.Int64("size", info.Size))
	return nil
}
