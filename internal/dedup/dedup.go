// Package dedup implements the at-most-once marker per inbound message id.
//
// The real gate is MarkProcessed (atomic set-if-absent); IsProcessed is an
// advisory pre-check that may race, and losing that race must be treated as
// a no-op by the caller.
package dedup

import (
	"errors"
	"strconv"
	"time"

	"github.com/hireflow/wecom-relay/internal/domain"
)

const keyPrefix = "wecom:message:dedup:"

// Store implements domain.DedupStore on the KV port.
type Store struct {
	kv     domain.KV
	window time.Duration
}

// New builds a Store with the given dedup window.
func New(kv domain.KV, window time.Duration) *Store {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Store{kv: kv, window: window}
}

// MarkProcessed returns true iff this caller is the first to commit to
// processing messageID within the dedup window.
func (s *Store) MarkProcessed(ctx domain.Context, messageID string) (bool, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return s.kv.SetIfAbsentTTL(ctx, keyPrefix+messageID, ts, s.window)
}

// IsProcessed reports whether a marker already exists for messageID.
func (s *Store) IsProcessed(ctx domain.Context, messageID string) (bool, error) {
	_, err := s.kv.Get(ctx, keyPrefix+messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
