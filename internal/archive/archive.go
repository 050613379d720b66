// Package archive writes resolved conflicts, expired activities and backups
// to long-term JSON storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"screentime/internal/config"
)

// Driver names a storage backend.
type Driver string

const (
	DriverNone       Driver = "none"
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
)

// ErrInvalidKey is returned for empty or escaping object keys.
var ErrInvalidKey = errors.New("invalid archive key")

// Store persists JSON documents under slash-separated keys.
type Store interface {
	Driver() Driver
	PutJSON(ctx context.Context, key string, v interface{}) error
}

// ConflictKey is the object key for an archived conflict.
func ConflictKey(familyID, conflictID string) string {
	return path.Join("conflicts", familyID, conflictID+".json")
}

// ActivityKey is the object key for a batch of expired activities.
func ActivityKey(familyID string, at time.Time) string {
	return path.Join("activities", familyID, at.UTC().Format("20060102T150405.000000000Z")+".json")
}

// BackupKey is the object key for a full export.
func BackupKey(at time.Time) string {
	return path.Join("backups", at.UTC().Format("20060102T150405Z")+".json")
}

// Open selects a store from configuration. DriverNone yields a nil Store.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch Driver(cfg.ArchiveDriver) {
	case DriverNone, "":
		return nil, nil
	case DriverFilesystem:
		return NewFileStore(cfg.ArchivePath)
	case DriverS3:
		return NewS3Store(ctx, S3Config{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.ArchiveS3Bucket,
			Endpoint: cfg.ArchiveS3Endpoint,
		})
	default:
		return nil, fmt.Errorf("unsupported archive driver: %s", cfg.ArchiveDriver)
	}
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "" {
			return ErrInvalidKey
		}
	}
	return nil
}
