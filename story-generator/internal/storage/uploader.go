package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseStorage "firebase.google.com/go/v4/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Uploader определяет интерфейс хранилища медиа-файлов.
type Uploader interface {
	// Upload загружает данные и возвращает публичный URL объекта.
	Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) (string, error)
}

// firebaseUploader - реализация Uploader поверх Firebase Storage (GCS).
type firebaseUploader struct {
	client *firebaseStorage.Client
	logger *zap.Logger
}

// NewFirebaseUploader создает клиент хранилища по файлу сервисного аккаунта.
func NewFirebaseUploader(ctx context.Context, credentialsFile string, logger *zap.Logger) (Uploader, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase app: %w", err)
	}

	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase storage client: %w", err)
	}

	logger.Info("Firebase storage client initialized")
	return &firebaseUploader{client: client, logger: logger}, nil
}

// Upload записывает объект в бакет и возвращает его публичный URL.
// Откат частично загруженных объектов при ошибках пайплайна не выполняется -
// этим занимается внешний lifecycle-процесс хранилища.
func (u *firebaseUploader) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) (string, error) {
	bucketHandle, err := u.client.Bucket(bucket)
	if err != nil {
		return "", fmt.Errorf("failed to get bucket %q: %w", bucket, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	w := bucketHandle.Object(objectPath).NewWriter(writeCtx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object %q: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object %q: %w", objectPath, err)
	}

	publicURL := fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, objectPath)
	u.logger.Debug("Object uploaded",
		zap.String("bucket", bucket),
		zap.String("path", objectPath),
		zap.Int("size_bytes", len(data)),
		zap.String("url", publicURL),
	)
	return publicURL, nil
}
