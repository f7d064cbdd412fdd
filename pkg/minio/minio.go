package minio

import (
	"bytes"
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"incentive-pipeline/pkg/config"
)

var Module = fx.Module("minio.client", fx.Provide(New))

// Bucket writes objects into the configured bucket.
type Bucket struct {
	client *minio.Client
	name   string
}

// New returns nil when MINIO.ENABLE is false.
func New(lc fx.Lifecycle, c *config.Config) (*Bucket, error) {
	if !c.Minio.Enable {
		zap.L().Info("MinIO archive disabled")
		return nil, nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Error("failed to create MinIO client", zap.Error(err))
		return nil, err
	}

	b := &Bucket{client: client, name: c.Minio.BucketName}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return b.ensure(ctx)
		},
	})
	return b, nil
}

func (b *Bucket) ensure(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.name)
	if err != nil {
		zap.L().Error("failed to check if bucket exists", zap.String("bucket", b.name), zap.Error(err))
		return err
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, b.name, minio.MakeBucketOptions{}); err != nil {
			zap.L().Error("failed to create bucket", zap.String("bucket", b.name), zap.Error(err))
			return err
		}
	}
	zap.L().Info("MinIO client initialized", zap.String("bucket", b.name), zap.Bool("bucketExists", exists))
	return nil
}

func (b *Bucket) Put(ctx context.Context, object string, body []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, b.name, object, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}
