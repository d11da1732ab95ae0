// Package redispresence stores presence records in Redis hashes, one hash
// per record keyed by user. Every mark refreshes the hash TTL so presence of
// a client that crashed without closing expires on its own.
package redispresence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmynk/eventsync/internal/presence"
)

const (
	keyPrefix       = "eventsync:presence:"
	DefaultTTL      = 10 * time.Minute
	maxMarkAttempts = 3
)

// Service implements presence.Service on Redis.
type Service struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ presence.Service = (*Service)(nil)

// New wraps a connected client. A non-positive ttl selects DefaultTTL.
func New(rdb *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{rdb: rdb, ttl: ttl}
}

func key(recordID string) string {
	return keyPrefix + recordID
}

// Mark implements presence.Service. Background marks may land out of order,
// so a record older than the stored one is dropped. The read and the write
// run under WATCH and are retried when another client touches the hash.
func (s *Service) Mark(ctx context.Context, rec presence.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode presence record: %w", err)
	}

	k := key(rec.RecordID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, k, rec.User).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		var prev presence.Record
		if err == nil && json.Unmarshal([]byte(raw), &prev) == nil && rec.UpdatedAt.Before(prev.UpdatedAt) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, rec.User, data)
			pipe.Expire(ctx, k, s.ttl)
			return nil
		})
		return err
	}

	for range maxMarkAttempts {
		err = s.rdb.Watch(ctx, txf, k)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to mark presence: %w", err)
	}
	return nil
}

// List implements presence.Service. Undecodable entries are skipped.
func (s *Service) List(ctx context.Context, recordID string) ([]presence.Record, error) {
	fields, err := s.rdb.HGetAll(ctx, key(recordID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}
	records := make([]presence.Record, 0, len(fields))
	for _, raw := range fields {
		var rec presence.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Clear removes every presence record of recordID.
func (s *Service) Clear(ctx context.Context, recordID string) error {
	if err := s.rdb.Del(ctx, key(recordID)).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}
