// Package assets remembers platform ids of uploaded media so later
// dispatches can reuse them instead of uploading again.
package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/wehubfusion/Herald/pkg/storage"
	"go.uber.org/zap"
)

// Store maps asset tags to platform ids.
type Store interface {
	Lookup(ctx context.Context, tag string) (id string, ok bool, err error)
	Save(ctx context.Context, tag, id string) error
}

// MemoryStore keeps ids in a bounded in-process cache.
type MemoryStore struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewMemoryStore creates a cache holding up to maxEntries ids for ttl each.
// A zero ttl keeps entries until evicted.
func NewMemoryStore(maxEntries int64, ttl time.Duration) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create asset cache: %w", err)
	}
	return &MemoryStore{cache: cache, ttl: ttl}, nil
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(_ context.Context, tag string) (string, bool, error) {
	v, ok := s.cache.Get(tag)
	if !ok {
		return "", false, nil
	}
	id, ok := v.(string)
	return id, ok, nil
}

// Save implements Store. The id is visible to Lookup once Save returns.
func (s *MemoryStore) Save(_ context.Context, tag, id string) error {
	if tag == "" {
		return errors.New("asset tag is required")
	}
	if !s.cache.SetWithTTL(tag, id, 1, s.ttl) {
		return fmt.Errorf("asset cache rejected %q", tag)
	}
	s.cache.Wait()
	return nil
}

// Close releases the cache.
func (s *MemoryStore) Close() {
	s.cache.Close()
}

// BlobStore persists ids as records in blob storage.
type BlobStore struct {
	records  *storage.RecordClient
	platform string
}

// NewBlobStore creates a store for one platform's ids.
func NewBlobStore(records *storage.RecordClient, platform string) *BlobStore {
	return &BlobStore{records: records, platform: platform}
}

// Lookup implements Store.
func (s *BlobStore) Lookup(ctx context.Context, tag string) (string, bool, error) {
	rec, ok, err := s.records.Load(ctx, s.platform, tag)
	if err != nil || !ok {
		return "", false, err
	}
	return rec.ID, true, nil
}

// Save implements Store.
func (s *BlobStore) Save(ctx context.Context, tag, id string) error {
	return s.records.Save(ctx, storage.AssetRecord{Platform: s.platform, Tag: tag, ID: id})
}

// TieredStore reads through a fast store in front of a durable one.
type TieredStore struct {
	front  Store
	back   Store
	logger *zap.Logger
}

// NewTieredStore creates a read-through store.
func NewTieredStore(front, back Store, logger *zap.Logger) *TieredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredStore{front: front, back: back, logger: logger}
}

// Lookup implements Store. Hits in the durable store warm the front store.
func (s *TieredStore) Lookup(ctx context.Context, tag string) (string, bool, error) {
	if id, ok, err := s.front.Lookup(ctx, tag); err == nil && ok {
		return id, true, nil
	}
	id, ok, err := s.back.Lookup(ctx, tag)
	if err != nil || !ok {
		return "", false, err
	}
	if err := s.front.Save(ctx, tag, id); err != nil {
		s.logger.Debug("Failed to warm asset cache", zap.String("tag", tag), zap.Error(err))
	}
	return id, true, nil
}

// Save implements Store. The durable store is written first.
func (s *TieredStore) Save(ctx context.Context, tag, id string) error {
	if err := s.back.Save(ctx, tag, id); err != nil {
		return err
	}
	return s.front.Save(ctx, tag, id)
}
