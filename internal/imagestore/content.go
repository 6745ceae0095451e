package imagestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wonny/coarank/backend/pkg/config"
)

// KeyPrefix is the namespace of certificate images inside a store.
const KeyPrefix = "certificates/"

// HashImage returns the SHA-256 hex digest of image bytes. It is the
// identity of a certificate image everywhere in the system.
func HashImage(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// KeyFor returns the content-addressed key of an image hash.
func KeyFor(hash string) string {
	if len(hash) < 2 {
		return KeyPrefix + hash
	}
	return KeyPrefix + hash[:2] + "/" + hash
}

// ContentStore stores images under their content hash. Storing the same
// bytes twice is a no-op.
type ContentStore struct {
	store Store
}

// NewContentStore wraps a Store.
func NewContentStore(store Store) *ContentStore {
	return &ContentStore{store: store}
}

// Store returns the underlying backend.
func (c *ContentStore) Store() Store { return c.store }

// PutImage stores data and reports whether a new blob was written.
func (c *ContentStore) PutImage(ctx context.Context, data []byte, metadata map[string]string) (hash, key string, created bool, err error) {
	hash = HashImage(data)
	key = KeyFor(hash)

	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		return hash, key, false, fmt.Errorf("check image %s: %w", hash, err)
	}
	if exists {
		return hash, key, false, nil
	}

	opts := PutOptions{
		ContentType: http.DetectContentType(data),
		Metadata:    metadata,
	}
	if _, err := c.store.Put(ctx, key, bytes.NewReader(data), opts); err != nil {
		// Lost a race with another writer of the same bytes.
		if errors.Is(err, ErrExists) {
			return hash, key, false, nil
		}
		return hash, key, false, fmt.Errorf("store image %s: %w", hash, err)
	}
	return hash, key, true, nil
}

// GetImage loads the bytes of a stored image.
func (c *ContentStore) GetImage(ctx context.Context, hash string) ([]byte, Info, error) {
	info, rc, err := c.store.Get(ctx, KeyFor(hash))
	if err != nil {
		return nil, Info{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, Info{}, fmt.Errorf("read image %s: %w", hash, err)
	}
	return data, info, nil
}

// HasImage reports whether an image with this hash is stored.
func (c *ContentStore) HasImage(ctx context.Context, hash string) (bool, error) {
	return c.store.Exists(ctx, KeyFor(hash))
}

// Open builds the store selected by cfg.Blob.Driver.
func Open(ctx context.Context, cfg *config.Config) (*ContentStore, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Blob.Driver {
	case string(DriverFilesystem), "":
		store, err = NewFSStore(cfg.Blob.FSRoot)
	case string(DriverS3):
		store, err = NewS3Store(ctx, S3Config{
			Bucket:    cfg.Blob.S3Bucket,
			Region:    cfg.Blob.S3Region,
			Endpoint:  cfg.Blob.S3Endpoint,
			PathStyle: cfg.Blob.S3PathStyle,
		})
	case string(DriverMemory):
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Blob.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewContentStore(store), nil
}
