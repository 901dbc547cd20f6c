package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AssetRecord remembers the platform id of an uploaded asset.
type AssetRecord struct {
	Platform  string    `json:"platform"`
	Tag       string    `json:"tag"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordClient reads and writes asset records, one blob per record.
type RecordClient struct {
	blobClient BlobStorageClient
	logger     *zap.Logger
}

// NewRecordClient creates a record client on top of blobClient.
func NewRecordClient(blobClient BlobStorageClient, logger *zap.Logger) *RecordClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordClient{blobClient: blobClient, logger: logger}
}

// RecordPath returns the blob path of a platform's asset record.
func RecordPath(platform, tag string) string {
	return fmt.Sprintf("assets/%s/%s.json", url.PathEscape(platform), url.PathEscape(strings.ToLower(tag)))
}

// Save writes rec, replacing any previous record for the same tag.
func (c *RecordClient) Save(ctx context.Context, rec AssetRecord) error {
	if rec.Tag == "" {
		return errors.New("asset tag is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal asset record: %w", err)
	}

	path := RecordPath(rec.Platform, rec.Tag)
	if _, err := c.blobClient.Upload(ctx, path, data, map[string]string{"platform": rec.Platform}); err != nil {
		return err
	}
	c.logger.Debug("Saved asset record", zap.String("path", path), zap.String("id", rec.ID))
	return nil
}

// Load returns the record for tag. ok is false when none exists.
func (c *RecordClient) Load(ctx context.Context, platform, tag string) (rec AssetRecord, ok bool, err error) {
	data, err := c.blobClient.Download(ctx, RecordPath(platform, tag))
	if errors.Is(err, ErrBlobNotFound) {
		return AssetRecord{}, false, nil
	}
	if err != nil {
		return AssetRecord{}, false, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return AssetRecord{}, false, fmt.Errorf("failed to unmarshal asset record: %w", err)
	}
	return rec, true, nil
}
