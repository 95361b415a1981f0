// Package cache stores converted results keyed by the conversion request so
// identical uploads skip the vendor round-trip.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache defines the interface for result cache backends.
// Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key builds the cache key for converting data from inputFormat to outputFormat.
func Key(inputFormat, outputFormat string, data []byte) string {
	sum := sha256.Sum256(data)
	return "conv:" + inputFormat + ":" + outputFormat + ":" + hex.EncodeToString(sum[:])
}
