package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"billingsync/internal/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// WebhookArchive keeps a copy of every verified webhook payload.
type WebhookArchive interface {
	Archive(ctx context.Context, event *models.BillingEvent, receivedAt time.Time) error
	EnsureBucketExists(ctx context.Context) error
	Ping(ctx context.Context) error
}

// objectStore is the part of *minio.Client the archive uses.
type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

type minioArchive struct {
	store  objectStore
	bucket string
}

func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
}

func NewMinioArchive(store objectStore, bucket string) WebhookArchive {
	return &minioArchive{store: store, bucket: bucket}
}

// ArchiveObjectName lays payloads out as <gateway>/yyyy/mm/dd/<event id>.json.
func ArchiveObjectName(gateway models.Gateway, eventID string, receivedAt time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", gateway, receivedAt.UTC().Format("2006/01/02"), eventID)
}

func (m *minioArchive) Archive(ctx context.Context, event *models.BillingEvent, receivedAt time.Time) error {
	name := ArchiveObjectName(event.Gateway, event.ID, receivedAt)
	_, err := m.store.PutObject(ctx, m.bucket, name, bytes.NewReader(event.Raw), int64(len(event.Raw)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"event-type": event.ProviderType,
		},
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}
	return nil
}

func (m *minioArchive) EnsureBucketExists(ctx context.Context) error {
	found, err := m.store.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !found {
		return m.store.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

func (m *minioArchive) Ping(ctx context.Context) error {
	_, err := m.store.BucketExists(ctx, m.bucket)
	return err
}

type noopArchive struct{}

// NoopArchive is used when no object storage is configured.
func NoopArchive() WebhookArchive { return noopArchive{} }

func (noopArchive) Archive(context.Context, *models.BillingEvent, time.Time) error { return nil }
func (noopArchive) EnsureBucketExists(context.Context) error                       { return nil }
func (noopArchive) Ping(context.Context) error                                     { return nil }
