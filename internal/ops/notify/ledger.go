package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SentLedger remembers the days an SMS escalation went out, so that
// repeated runs on the same day do not page twice.
type SentLedger interface {
	SentOn(ctx context.Context, day string) (bool, error)
	MarkSent(ctx context.Context, day string) error
}

// Compile-time interface checks.
var (
	_ SentLedger = (*FileLedger)(nil)
	_ SentLedger = (*RedisLedger)(nil)
)

// ---------------------------------------------------------------------------
// File ledger
// ---------------------------------------------------------------------------

// FileLedger keeps the last SMS day in a small JSON file.
type FileLedger struct {
	Path string
	mu   sync.Mutex
}

// NewFileLedger creates a FileLedger at path.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{Path: path}
}

type ledgerFile struct {
	SMSSentOn string `json:"sms_sent_on"`
}

// SentOn reports whether an SMS was recorded for day.
func (l *FileLedger) SentOn(_ context.Context, day string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return false, err
	}
	return f.SMSSentOn == day, nil
}

// MarkSent records day as the last SMS day.
func (l *FileLedger) MarkSent(_ context.Context, day string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(ledgerFile{SMSSentOn: day})
	if err != nil {
		return err
	}
	return os.WriteFile(l.Path, data, 0o644)
}

// ---------------------------------------------------------------------------
// Redis ledger
// ---------------------------------------------------------------------------

const (
	redisKeyPrefix = "eodcollector:sms:"
	redisTTL       = 48 * time.Hour
)

// RedisLedger shares the SMS day across hosts through a Redis key that
// expires after two days.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger creates a RedisLedger for the server at addr.
func NewRedisLedger(addr, password string) *RedisLedger {
	return &RedisLedger{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})}
}

func redisKey(day string) string { return redisKeyPrefix + day }

// SentOn reports whether the key for day exists.
func (l *RedisLedger) SentOn(ctx context.Context, day string) (bool, error) {
	n, err := l.client.Exists(ctx, redisKey(day)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSent sets the key for day.
func (l *RedisLedger) MarkSent(ctx context.Context, day string) error {
	return l.client.Set(ctx, redisKey(day), time.Now().UTC().Format(time.RFC3339), redisTTL).Err()
}

// Close releases the Redis connection pool.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
