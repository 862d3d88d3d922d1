// Package blob is a disk-backed rendition of the bucketed blob storage API:
// each bucket is a directory under the root, and public references are built
// from a configured base URL. Chat images live in the single chat-images
// bucket; avatars have their own bucket and never share paths with chat
// uploads.
package blob

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"duochat/errors"
)

const (
	BucketChatImages = "chat-images"
	BucketAvatars    = "avatars"
)

type DiskStore struct {
	root    string
	baseURL string
	log     *slog.Logger
}

func NewDiskStore(root, baseURL string, log *slog.Logger) *DiskStore {
	return &DiskStore{root: root, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

// Upload writes the blob under bucket/name. The write goes through a temp
// file and a rename so a crashed upload never leaves a half-written blob
// behind a public reference.
func (d *DiskStore) Upload(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrUpload, err)
	}

	dir := filepath.Join(d.root, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrUpload, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrUpload, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", errors.ErrUpload, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", errors.ErrUpload, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", errors.ErrUpload, err)
	}

	d.log.Debug("Blob stored", "bucket", bucket, "name", name, "bytes", len(data), "content_type", contentType)
	return nil
}

// PublicURL returns the stable reference for a stored blob.
func (d *DiskStore) PublicURL(bucket, name string) string {
	return d.baseURL + "/" + bucket + "/" + name
}

// Remove deletes a blob; an absent path is treated as already removed.
func (d *DiskStore) Remove(ctx context.Context, bucket, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(d.root, bucket, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PathInBucket extracts the object path from a public reference, i.e. the
// segments after the bucket name. It returns "" when the reference does not
// point into the bucket.
func PathInBucket(reference, bucket string) string {
	u, err := url.Parse(reference)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, segment := range segments {
		if segment == bucket && i < len(segments)-1 {
			return path.Join(segments[i+1:]...)
		}
	}
	return ""
}
