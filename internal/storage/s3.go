package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"affidblock.io/internal/ids"
)

// S3 stores objects in an S3 bucket and serves reads via presigned URLs.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	region  string
}

var _ ObjectStore = (*S3)(nil)

// NewS3 wraps an S3 client for the given bucket.
func NewS3(client *s3.Client, bucket, region string) *S3 {
	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		region:  region,
	}
}

func (s *S3) Put(ctx context.Context, b []byte, name, contentType, folder string) (Object, error) {
	name = sanitizeName(name)
	if name == "" {
		return Object{}, fmt.Errorf("storage: object name is required")
	}
	key := path.Join(folder, ids.New()+"-"+name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return Object{}, fmt.Errorf("storage: put %s: %w", key, err)
	}
	return Object{
		Key:  key,
		URL:  fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key),
		Name: name,
		MIME: contentType,
	}, nil
}

func (s *S3) PresignGet(ctx context.Context, key string, lifetime time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("storage: object key is required")
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(lifetime))
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// sanitizeName strips path components and whitespace from a client-sent
// filename before it becomes part of an object key.
func sanitizeName(name string) string {
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	return strings.ReplaceAll(name, " ", "_")
}
