package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

const sessionKeyPrefix = "quiz:session:"

// SessionStore persists session snapshots as JSON values keyed by chat,
// so in-flight quizzes survive a process restart. Snapshots carry a safety
// TTL; a healthy session rewrites its key on every mutation long before
// it expires.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Save(ctx context.Context, snap domain.SessionSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snap.ChatID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session snapshot: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, chatID int64) error {
	if err := s.client.Del(ctx, s.key(chatID)).Err(); err != nil {
		return fmt.Errorf("delete session snapshot: %w", err)
	}
	return nil
}

// LoadIncomplete scans for every persisted snapshot still in a
// non-terminal state. Called once at startup for recovery.
func (s *SessionStore) LoadIncomplete(ctx context.Context) ([]domain.SessionSnapshot, error) {
	var out []domain.SessionSnapshot
	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session snapshot %s: %w", iter.Val(), err)
		}
		var snap domain.SessionSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal session snapshot %s: %w", iter.Val(), err)
		}
		if !snap.Status.Terminal() {
			out = append(out, snap)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan session snapshots: %w", err)
	}
	return out, nil
}

func (s *SessionStore) key(chatID int64) string {
	return fmt.Sprintf("%s%d", sessionKeyPrefix, chatID)
}
