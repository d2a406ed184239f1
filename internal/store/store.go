package store

import (
	"context"
	"errors"
	"time"
)

// SessionStore persists small per-match records by key. Implementations must
// be safe for concurrent use.
type SessionStore interface {
	// Get returns ErrMiss when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

var ErrMiss = errors.New("store: miss")

const keyPrefix = "matchstate:meta:"

func MetaKey(matchID string) string { return keyPrefix + matchID }

// DefaultTTL bounds how long an untouched record survives in stores that
// support expiry.
const DefaultTTL = 24 * time.Hour
