// Package history implements the append-only capped per-conversation log.
package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hireflow/wecom-relay/internal/domain"
)

const keyPrefix = "chat:history:"

// Store implements domain.HistoryStore on the KV port. The log is capped at
// maxPerChat entries and its TTL is refreshed on every append.
type Store struct {
	kv         domain.KV
	maxPerChat int
	ttl        time.Duration
}

// New builds a history Store.
func New(kv domain.KV, maxPerChat int, ttl time.Duration) *Store {
	if maxPerChat <= 0 {
		maxPerChat = 20
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Store{kv: kv, maxPerChat: maxPerChat, ttl: ttl}
}

func key(chatID string) string { return keyPrefix + chatID }

// Append adds one turn, trims to the cap, and refreshes the TTL. Entries
// with a zero timestamp are stamped with the current wall clock; timestamps
// in the future are clamped to now.
func (s *Store) Append(ctx domain.Context, chatID string, entry domain.HistoryEntry) error {
	now := time.Now().UnixMilli()
	if entry.Timestamp == 0 || entry.Timestamp > now {
		entry.Timestamp = now
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("op=history.Append: %w", err)
	}
	k := key(chatID)
	if err := s.kv.ListAppend(ctx, k, string(b)); err != nil {
		return err
	}
	if err := s.kv.ListTrim(ctx, k, int64(-s.maxPerChat), -1); err != nil {
		return err
	}
	return s.kv.Expire(ctx, k, s.ttl)
}

// GetForContext returns the stored turns as role/content pairs, skipping the
// entry whose message id equals excludeMessageID so the current turn can be
// passed to the Agent separately as user_message.
func (s *Store) GetForContext(ctx domain.Context, chatID, excludeMessageID string) ([]domain.ContextMessage, error) {
	entries, err := s.GetDetail(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ContextMessage, 0, len(entries))
	for _, e := range entries {
		if excludeMessageID != "" && e.MessageID == excludeMessageID {
			continue
		}
		if strings.TrimSpace(e.Content) == "" {
			continue
		}
		out = append(out, domain.ContextMessage{Role: e.Role, Content: e.Content})
	}
	return out, nil
}

// GetDetail returns the full entries for analytics.
func (s *Store) GetDetail(ctx domain.Context, chatID string) ([]domain.HistoryEntry, error) {
	raw, err := s.kv.ListRange(ctx, key(chatID), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e domain.HistoryEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			// A corrupt entry should not poison the whole conversation.
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ScanChatIDs lists every chat id with stored history, for bulk export sweeps.
func (s *Store) ScanChatIDs(ctx domain.Context) ([]string, error) {
	var (
		cursor uint64
		ids    []string
	)
	for {
		next, keys, err := s.kv.Scan(ctx, cursor, keyPrefix+"*", 100)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, keyPrefix))
		}
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}

// EntryFromRecord builds a history entry from an inbound record with the
// passthrough metadata the analytics sink expects.
func EntryFromRecord(rec domain.InboundRecord, role domain.Role, content string) domain.HistoryEntry {
	raw, _ := json.Marshal(rec.Payload)
	return domain.HistoryEntry{
		Role:          role,
		Content:       content,
		Timestamp:     rec.Timestamp,
		MessageID:     rec.MessageID,
		CandidateName: rec.ContactName,
		OrgID:         rec.OrgID,
		BotID:         rec.BotID,
		MessageType:   rec.MessageType,
		Source:        rec.Source,
		IsRoom:        rec.IsRoom(),
		Payload:       raw,
		Avatar:        rec.Avatar,
		ExternalUID:   rec.ExternalUID,
	}
}
