// Package storage is the object-store collaborator holding request
// documents and avatars. Upload failures surface to the caller; this
// layer does not retry.
package storage

import (
	"context"
	"time"
)

// Object describes a stored document.
type Object struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Name string `json:"name"`
	MIME string `json:"mime"`
}

// ObjectStore accepts bytes and hands back a retrieval URL.
type ObjectStore interface {
	Put(ctx context.Context, b []byte, name, contentType, folder string) (Object, error)
	PresignGet(ctx context.Context, key string, lifetime time.Duration) (string, error)
}
