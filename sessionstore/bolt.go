// Package sessionstore provides durable key/value stores for the session record.
package sessionstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pilab-dev/datelink/domain"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const (
	bucketName     = "session"
	metadataSuffix = "_meta"
)

type itemMetadata struct {
	ExpiresAtUnixNano int64
}

// BoltStore keeps session values in a bbolt file so they survive process restarts.
type BoltStore struct {
	db  *bbolt.DB
	ttl time.Duration
	now func() time.Time
}

// BoltOption configures a BoltStore.
type BoltOption func(*BoltStore)

// WithTTL expires values ttl after they are written. Zero keeps them forever.
func WithTTL(ttl time.Duration) BoltOption {
	return func(s *BoltStore) { s.ttl = ttl }
}

// WithBoltClock overrides the time source used for expiry.
func WithBoltClock(now func() time.Time) BoltOption {
	return func(s *BoltStore) { s.now = now }
}

// OpenBoltStore opens (or creates) the database file at dbPath.
func OpenBoltStore(dbPath string, opts ...BoltOption) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db at %s: %w", dbPath, err)
	}

	s := &BoltStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketName + metadataSuffix)); err != nil {
			return fmt.Errorf("failed to create metadata bucket for %s: %w", bucketName, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("path", dbPath).Msg("bbolt session store opened")

	return s, nil
}

// Set implements domain.SessionStore.
func (s *BoltStore) Set(_ context.Context, key, value string) error {
	meta := itemMetadata{}
	if s.ttl > 0 {
		meta.ExpiresAtUnixNano = s.now().Add(s.ttl).UnixNano()
	}

	var metaBuf bytes.Buffer
	if err := gob.NewEncoder(&metaBuf).Encode(meta); err != nil {
		return fmt.Errorf("failed to encode metadata for key %s: %w", key, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(bucketName)).Put([]byte(key), []byte(value)); err != nil {
			return fmt.Errorf("failed to put value for key %s: %w", key, err)
		}
		return tx.Bucket([]byte(bucketName+metadataSuffix)).Put([]byte(key), metaBuf.Bytes())
	})
}

// Get implements domain.SessionStore. Expired values are reported absent.
func (s *BoltStore) Get(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)

	err := s.db.View(func(tx *bbolt.Tx) error {
		valBytes := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if valBytes == nil {
			return nil
		}

		if metaBytes := tx.Bucket([]byte(bucketName + metadataSuffix)).Get([]byte(key)); metaBytes != nil {
			var meta itemMetadata
			if err := gob.NewDecoder(bytes.NewReader(metaBytes)).Decode(&meta); err != nil {
				return fmt.Errorf("failed to decode metadata for key %s: %w", key, err)
			}
			if meta.ExpiresAtUnixNano != 0 && s.now().UnixNano() > meta.ExpiresAtUnixNano {
				log.Debug().Str("key", key).Msg("session value expired")
				return nil
			}
		}

		// string() copies; the slice is only valid inside the transaction.
		value = string(valBytes)
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}

	return value, found, nil
}

// Remove implements domain.SessionStore. Removing a missing key is not an error.
func (s *BoltStore) Remove(_ context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(bucketName)).Delete([]byte(key)); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", key, err)
		}
		return tx.Bucket([]byte(bucketName + metadataSuffix)).Delete([]byte(key))
	})
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ domain.SessionStore = (*BoltStore)(nil)
