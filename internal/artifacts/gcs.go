package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSSink writes artifacts to a Google Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
}

// NewGCSSink wraps an existing storage client.
func NewGCSSink(client *storage.Client, bucket string) (*GCSSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSSink{client: client, bucket: bucket}, nil
}

// Put uploads the artifact and returns a gs:// URI.
func (s *GCSSink) Put(ctx context.Context, name string, contentType string, data []byte) (string, error) {
	clean := sanitizeName(name)
	if clean == "" {
		return "", fmt.Errorf("artifact name is required")
	}
	writer := s.client.Bucket(s.bucket).Object(clean).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy artifact: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, clean), nil
}
