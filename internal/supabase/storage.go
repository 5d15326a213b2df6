package supabase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	storage "github.com/supabase-community/storage-go"
)

const (
	listPageSize    = 1000
	deleteBatchSize = 100
)

// objectAPI is the subset of the storage-go client the object store uses.
type objectAPI interface {
	UploadFile(bucketID string, relativePath string, data io.Reader, fileOptions ...storage.FileOptions) (storage.FileUploadResponse, error)
	DownloadFile(bucketID string, filePath string, urlOptions ...storage.UrlOptions) ([]byte, error)
	ListFiles(bucketID string, queryPath string, options storage.FileSearchOptions) ([]storage.FileObject, error)
	RemoveFile(bucketID string, paths []string) ([]storage.FileUploadResponse, error)
}

type StorageClient struct {
	client  objectAPI
	bucket  string
	baseURL string
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) (*StorageClient, error) {
	if supabaseURL == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return newStorageClient(client, baseURL, bucket), nil
}

func newStorageClient(client objectAPI, baseURL, bucket string) *StorageClient {
	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
	}
}

// Put writes data under key, overwriting any previous object, and returns the
// durable public URL.
func (s *StorageClient) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	upsert := true
	_, err := s.client.UploadFile(s.bucket, key, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return s.GetPublicURL(key), nil
}

func (s *StorageClient) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.client.DownloadFile(s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}

	return data, nil
}

// List returns every key directly under prefix.
func (s *StorageClient) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimSuffix(prefix, "/")

	var keys []string
	for offset := 0; ; offset += listPageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		files, err := s.client.ListFiles(s.bucket, prefix, storage.FileSearchOptions{
			Limit:  listPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list files under %s: %w", prefix, err)
		}

		for _, file := range files {
			if file.Name == "" {
				continue
			}
			keys = append(keys, prefix+"/"+file.Name)
		}

		if len(files) < listPageSize {
			break
		}
	}

	return keys, nil
}

// Delete removes keys in batches. Every batch is attempted; the first error is returned.
func (s *StorageClient) Delete(ctx context.Context, keys []string) error {
	var firstErr error
	for start := 0; start < len(keys); start += deleteBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		if _, err := s.client.RemoveFile(s.bucket, keys[start:end]); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to delete files: %w", err)
		}
	}

	return firstErr
}

func (s *StorageClient) GetPublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s",
		s.baseURL, s.bucket, key)
}
