package imaging

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"duochat/contract"
	"duochat/errors"
	"duochat/observability"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Uploader compresses images into the byte budget and stores them, handing
// back the public reference the message row will carry as content.
type Uploader struct {
	blobs    contract.BlobStore
	bucket   string
	maxBytes int
	metrics  *observability.Metrics
	log      *slog.Logger
}

func NewUploader(blobs contract.BlobStore, bucket string, maxBytes int, metrics *observability.Metrics, log *slog.Logger) *Uploader {
	return &Uploader{blobs: blobs, bucket: bucket, maxBytes: maxBytes, metrics: metrics, log: log}
}

// Upload compresses img and writes it under a fresh uuid path. Returns the
// durable public reference. Compression failures pass through unchanged so
// the caller can distinguish ErrImageTooLarge from transport trouble.
func (u *Uploader) Upload(ctx context.Context, img image.Image) (string, error) {
	data, err := Compress(img, u.maxBytes, u.log)
	if err != nil {
		return "", err
	}

	path := uuid.New().String() + ".jpg"
	contentType := mimetype.Detect(data).String()

	if err := u.blobs.Upload(ctx, u.bucket, path, data, contentType); err != nil {
		return "", fmt.Errorf("%w: %s/%s: %v", errors.ErrUpload, u.bucket, path, err)
	}

	if u.metrics != nil {
		u.metrics.AddUploadBytes(uint64(len(data)))
	}

	reference := u.blobs.PublicURL(u.bucket, path)
	u.log.Info("Image uploaded", "path", path, "bytes", len(data))
	return reference, nil
}
