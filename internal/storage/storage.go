// Package storage archives provisioning outputs to object storage.
package storage

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
	URL          string
}

// Archive stores a copy of each workspace's provisioning outputs under a
// per-workspace key prefix inside one bucket.
type Archive interface {
	UploadDirectory(ctx context.Context, localPath, keyPrefix string) (location string, err error)
	ListObjects(ctx context.Context, keyPrefix string) ([]ObjectInfo, error)
	DeletePrefix(ctx context.Context, keyPrefix string) error
	ObjectURL(ctx context.Context, key string, expires time.Duration) (string, error)
	WorkspacePrefix(owner, workspaceID string) string
}
