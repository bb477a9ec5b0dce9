package supabase

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"citysnap-backend/internal/apperrors"
	storage "github.com/supabase-community/storage-go"
)

// StorageClient is a media.Store backed by a single Supabase Storage bucket.
type StorageClient struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) *StorageClient {
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
	}
}

func (s *StorageClient) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Storage("upload media", err)
	}

	contentType := contentTypeFor(name, data)
	upsert := true
	_, err := s.client.UploadFile(s.bucket, name, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", apperrors.Storage("upload media", fmt.Errorf("failed to upload %s to %s: %w", name, s.bucket, err))
	}

	return name, nil
}

func (s *StorageClient) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Storage("download media", err)
	}

	data, err := s.client.DownloadFile(s.bucket, name)
	if err != nil {
		return nil, apperrors.Storage("download media", fmt.Errorf("failed to download %s: %w", name, err))
	}
	return data, nil
}

func (s *StorageClient) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Storage("delete media", err)
	}

	if _, err := s.client.RemoveFile(s.bucket, []string{name}); err != nil {
		return apperrors.Storage("delete media", fmt.Errorf("failed to delete %s: %w", name, err))
	}
	return nil
}

// Locate returns the public object URL; buckets are expected to be public.
func (s *StorageClient) Locate(name string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, name)
}

func contentTypeFor(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
