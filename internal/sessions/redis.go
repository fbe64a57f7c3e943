package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSessionTTL  = 2 * time.Hour
	maxDestroyAttempts = 3

	fieldCallerID  = "caller_id"
	fieldSessionID = "session_id"
	fieldTurnCount = "turn_count"
	fieldPhase     = "phase"
	fieldStartedAt = "started_at"
	fieldUpdatedAt = "updated_at"
)

// RedisStore keeps sessions in Redis so any API instance can serve the next
// turn of a call.
type RedisStore struct {
	client       *redis.Client
	ttl          time.Duration
	destroyedTTL time.Duration
	tracer       trace.Tracer
	now          func() time.Time
}

// NewRedisStore builds a Redis-backed session store. ttl bounds how long an
// abandoned call keeps its state.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("sessions: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisStore{
		client:       client,
		ttl:          ttl,
		destroyedTTL: defaultDestroyedTTL,
		tracer:       otel.Tracer("azentyk.internal.sessions"),
		now:          time.Now,
	}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Create(ctx context.Context, callerID string, cfg DialogueConfig) (string, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.create")
	defer span.End()

	sessionID := uuid.NewString()
	cfg.SessionID = sessionID
	cfg.CallerID = callerID
	if strings.TrimSpace(cfg.ThreadID) == "" {
		cfg.ThreadID = uuid.NewString()
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("sessions: marshal config: %w", err)
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	callKey := callStateKey(callerID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, callKey)
		pipe.HSet(ctx, callKey, map[string]any{
			fieldCallerID:  callerID,
			fieldSessionID: sessionID,
			fieldTurnCount: 0,
			fieldPhase:     string(PhaseGreeting),
			fieldStartedAt: now,
			fieldUpdatedAt: now,
		})
		pipe.Expire(ctx, callKey, s.ttl)
		pipe.Set(ctx, sessionConfigKey(sessionID), data, s.ttl)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("sessions: create session: %w", err)
	}
	return sessionID, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (DialogueConfig, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.get")
	defer span.End()

	closed, err := s.IsDestroyed(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return DialogueConfig{}, err
	}
	if closed {
		return DialogueConfig{}, ErrSessionClosed
	}

	data, err := s.client.Get(ctx, sessionConfigKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return DialogueConfig{}, ErrSessionNotFound
		}
		span.RecordError(err)
		return DialogueConfig{}, fmt.Errorf("sessions: load config: %w", err)
	}
	var cfg DialogueConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		span.RecordError(err)
		return DialogueConfig{}, fmt.Errorf("sessions: decode config: %w", err)
	}
	return cfg, nil
}

func (s *RedisStore) Touch(ctx context.Context, callerID string, delta int) (CallState, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.touch")
	defer span.End()

	now := s.now().UTC().Format(time.RFC3339Nano)
	callKey := callStateKey(callerID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, callKey, fieldCallerID, callerID)
		pipe.HSetNX(ctx, callKey, fieldStartedAt, now)
		pipe.HIncrBy(ctx, callKey, fieldTurnCount, int64(delta))
		pipe.HSet(ctx, callKey, fieldUpdatedAt, now)
		pipe.Expire(ctx, callKey, s.ttl)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return CallState{}, fmt.Errorf("sessions: touch caller: %w", err)
	}

	fields, err := s.client.HGetAll(ctx, callKey).Result()
	if err != nil {
		span.RecordError(err)
		return CallState{}, fmt.Errorf("sessions: read caller: %w", err)
	}
	state := decodeCallState(fields)
	if !state.Phase.Terminal() && state.Phase != PhaseListening {
		if err := s.client.HSet(ctx, callKey, fieldPhase, string(PhaseListening)).Err(); err != nil {
			span.RecordError(err)
			return CallState{}, fmt.Errorf("sessions: set phase: %w", err)
		}
		state.Phase = PhaseListening
	}
	return state, nil
}

func (s *RedisStore) SetPhase(ctx context.Context, callerID string, phase Phase) error {
	callKey := callStateKey(callerID)
	exists, err := s.client.Exists(ctx, callKey).Result()
	if err != nil {
		return fmt.Errorf("sessions: check caller: %w", err)
	}
	if exists == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, callKey, fieldPhase, string(phase), fieldUpdatedAt, s.now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("sessions: set phase: %w", err)
	}
	return nil
}

func (s *RedisStore) Destroy(ctx context.Context, callerID, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "sessions.destroy")
	defer span.End()

	callKey := callStateKey(callerID)
	destroy := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, callKey, fieldSessionID).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		// A newer call from the same number keeps its state.
		dropCaller := current == "" || sessionID == "" || current == sessionID

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if dropCaller {
				pipe.Del(ctx, callKey)
			}
			if sessionID != "" {
				pipe.Del(ctx, sessionConfigKey(sessionID))
				pipe.Set(ctx, destroyedKey(sessionID), "1", s.destroyedTTL)
			}
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxDestroyAttempts; attempt++ {
		err = s.client.Watch(ctx, destroy, callKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: destroy session: %w", err)
	}
	return nil
}

func (s *RedisStore) IsDestroyed(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, destroyedKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("sessions: check destroyed: %w", err)
	}
	return n > 0, nil
}

func decodeCallState(fields map[string]string) CallState {
	state := CallState{
		CallerID:  fields[fieldCallerID],
		SessionID: fields[fieldSessionID],
		Phase:     Phase(fields[fieldPhase]),
	}
	if n, err := strconv.Atoi(fields[fieldTurnCount]); err == nil {
		state.TurnCount = n
	}
	if t, err := time.Parse(time.RFC3339Nano, fields[fieldStartedAt]); err == nil {
		state.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt]); err == nil {
		state.UpdatedAt = t
	}
	return state
}

func callStateKey(callerID string) string {
	return fmt.Sprintf("voice:call:%s", callerID)
}

func sessionConfigKey(sessionID string) string {
	return fmt.Sprintf("voice:session:%s", sessionID)
}

func destroyedKey(sessionID string) string {
	return fmt.Sprintf("voice:destroyed:%s", sessionID)
}
