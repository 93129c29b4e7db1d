package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Store is the narrow contract the core expects from its file storage
// collaborator. Keys are relative paths namespaced by the core.
type Store interface {
	Store(ctx context.Context, key string, r io.Reader) error
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

var (
	ErrNotFound   = errors.New("storage: not found")
	ErrInvalidKey = errors.New("storage: invalid key")
)

// PhotoKey computes the storage key for a mission photo:
// missions/{childID}/{missionID}/{uuid}{ext}. The original file name only
// contributes its extension; everything else is namespaced ids.
func PhotoKey(childID, missionID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("missions/%s/%s/%s%s", childID, missionID, uuid.New().String(), ext)
}

// AssetKey computes the storage key for a note asset.
func AssetKey(childID, noteID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("notes/%s/%s/%s%s", childID, noteID, uuid.New().String(), ext)
}

// ValidateKey rejects keys that could escape the storage root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return ErrInvalidKey
	}
	return nil
}
