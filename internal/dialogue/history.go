package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultHistoryTTL = 2 * time.Hour

// HistoryStore persists the message history of one dialogue thread.
// Load returns an empty history for a thread that has never been saved.
type HistoryStore interface {
	Load(ctx context.Context, threadID string) ([]llm.ChatMessage, error)
	Save(ctx context.Context, threadID string, history []llm.ChatMessage) error
}

// RedisHistoryStore keeps each thread as a JSON document with a TTL.
type RedisHistoryStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisHistoryStore(client *redis.Client, ttl time.Duration) *RedisHistoryStore {
	if client == nil {
		panic("dialogue: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}
	return &RedisHistoryStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("azentyk.internal.dialogue.history"),
	}
}

func (s *RedisHistoryStore) Save(ctx context.Context, threadID string, history []llm.ChatMessage) error {
	ctx, span := s.tracer.Start(ctx, "dialogue.save_history")
	defer span.End()

	data, err := json.Marshal(history)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("dialogue: failed to marshal history: %w", err)
	}
	if err := s.redis.Set(ctx, threadKey(threadID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("dialogue: failed to persist history: %w", err)
	}
	return nil
}

func (s *RedisHistoryStore) Load(ctx context.Context, threadID string) ([]llm.ChatMessage, error) {
	ctx, span := s.tracer.Start(ctx, "dialogue.load_history")
	defer span.End()

	data, err := s.redis.Get(ctx, threadKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("dialogue: failed to load history: %w", err)
	}

	var history []llm.ChatMessage
	if err := json.Unmarshal(data, &history); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("dialogue: failed to decode history: %w", err)
	}
	return history, nil
}

func threadKey(id string) string {
	return fmt.Sprintf("dialogue:thread:%s", id)
}

// MemoryHistoryStore is the single-process HistoryStore. Threads idle for
// longer than the TTL are dropped, matching RedisHistoryStore.
type MemoryHistoryStore struct {
	mu      sync.Mutex
	threads map[string]memoryThread
	ttl     time.Duration
	now     func() time.Time
}

type memoryThread struct {
	messages []llm.ChatMessage
	savedAt  time.Time
}

func NewMemoryHistoryStore(ttl time.Duration) *MemoryHistoryStore {
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}
	return &MemoryHistoryStore{
		threads: make(map[string]memoryThread),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryHistoryStore) Load(_ context.Context, threadID string) ([]llm.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok || s.expired(thread, s.now()) {
		delete(s.threads, threadID)
		return nil, nil
	}
	return append([]llm.ChatMessage(nil), thread.messages...), nil
}

func (s *MemoryHistoryStore) Save(_ context.Context, threadID string, history []llm.ChatMessage) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, thread := range s.threads {
		if s.expired(thread, now) {
			delete(s.threads, id)
		}
	}
	s.threads[threadID] = memoryThread{messages: append([]llm.ChatMessage(nil), history...), savedAt: now}
	return nil
}

// Len reports how many threads are held.
func (s *MemoryHistoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}

func (s *MemoryHistoryStore) expired(thread memoryThread, now time.Time) bool {
	return !now.Before(thread.savedAt.Add(s.ttl))
}
