package store

import (
	"context"
	"errors"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/model"
)

var ErrNotFound = errors.New("key not found")

// Store is a key-value store with per-key expiry. A zero ttl means the key never expires.
// Consume, SetNX and CompareAndSwap must be atomic: for a given live key exactly
// one caller observes the value or wins the write.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes value only when key holds no live value.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndSwap replaces the value of a live key if it still equals old.
	// The key keeps its expiry.
	CompareAndSwap(ctx context.Context, key string, old []byte, value []byte) (bool, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Consume(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Purger is implemented by stores that do not expire keys on their own.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func Put(ctx context.Context, s Store, key string, record model.Record, ttl time.Duration) error {
	raw, err := model.Encode(record)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw, ttl)
}

func Load(ctx context.Context, s Store, key string, record model.Record) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return model.Decode(raw, record)
}

// Take atomically consumes key and decodes it into record.
func Take(ctx context.Context, s Store, key string, record model.Record) error {
	raw, err := s.Consume(ctx, key)
	if err != nil {
		return err
	}
	return model.Decode(raw, record)
}

// PutIfAbsent encodes record and writes it only when key is free.
func PutIfAbsent(ctx context.Context, s Store, key string, record model.Record, ttl time.Duration) (bool, error) {
	raw, err := model.Encode(record)
	if err != nil {
		return false, err
	}
	return s.SetNX(ctx, key, raw, ttl)
}

// LoadRaw decodes key into record and returns the stored bytes for a later Swap.
func LoadRaw(ctx context.Context, s Store, key string, record model.Record) ([]byte, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := model.Decode(raw, record); err != nil {
		return nil, err
	}
	return raw, nil
}

// Swap writes record if key still holds previous. A false result means another
// writer changed or removed the key first.
func Swap(ctx context.Context, s Store, key string, previous []byte, record model.Record) (bool, error) {
	raw, err := model.Encode(record)
	if err != nil {
		return false, err
	}
	return s.CompareAndSwap(ctx, key, previous, raw)
}
