package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeImplementations(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, time.Hour),
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sessionID, err := store.Create(ctx, "+15550100199", DialogueConfig{
				PatientData: "Incoming caller +15550100199",
				CurrentDate: "Monday, 19 October 2026",
			})
			require.NoError(t, err)
			require.NotEmpty(t, sessionID)

			cfg, err := store.Get(ctx, sessionID)
			require.NoError(t, err)
			assert.Equal(t, sessionID, cfg.SessionID)
			assert.Equal(t, "+15550100199", cfg.CallerID)
			assert.NotEmpty(t, cfg.ThreadID, "a thread id is generated when none is supplied")

			state, err := store.Touch(ctx, "+15550100199", 1)
			require.NoError(t, err)
			assert.Equal(t, 1, state.TurnCount)
			assert.Equal(t, PhaseListening, state.Phase)
			assert.Equal(t, sessionID, state.SessionID)

			state, err = store.Touch(ctx, "+15550100199", 1)
			require.NoError(t, err)
			assert.Equal(t, 2, state.TurnCount)

			require.NoError(t, store.Destroy(ctx, "+15550100199", sessionID))

			_, err = store.Get(ctx, sessionID)
			assert.True(t, errors.Is(err, ErrSessionClosed), "got %v", err)

			closed, err := store.IsDestroyed(ctx, sessionID)
			require.NoError(t, err)
			assert.True(t, closed)
		})
	}
}

func TestStoreDestroyIsIdempotent(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sessionID, err := store.Create(ctx, "caller-1", DialogueConfig{})
			require.NoError(t, err)

			require.NoError(t, store.Destroy(ctx, "caller-1", sessionID))
			require.NoError(t, store.Destroy(ctx, "caller-1", sessionID))

			// A late turn touches the caller but must not bring the session back.
			_, err = store.Touch(ctx, "caller-1", 1)
			require.NoError(t, err)
			_, err = store.Get(ctx, sessionID)
			assert.ErrorIs(t, err, ErrSessionClosed)
		})
	}
}

func TestStoreUnknownSession(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestStoreTouchCreatesMissingCaller(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			state, err := store.Touch(context.Background(), "walk-in", 1)
			require.NoError(t, err)
			assert.Equal(t, 1, state.TurnCount)
			assert.Equal(t, "walk-in", state.CallerID)
		})
	}
}

func TestStoreDestroyKeepsNewerCall(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := store.Create(ctx, "caller-2", DialogueConfig{})
			require.NoError(t, err)
			second, err := store.Create(ctx, "caller-2", DialogueConfig{})
			require.NoError(t, err)

			require.NoError(t, store.Destroy(ctx, "caller-2", first))

			_, err = store.Get(ctx, second)
			require.NoError(t, err)
			state, err := store.Touch(ctx, "caller-2", 1)
			require.NoError(t, err)
			assert.Equal(t, second, state.SessionID)
		})
	}
}

func TestStoreTerminalPhaseSticks(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Create(ctx, "caller-3", DialogueConfig{})
			require.NoError(t, err)
			require.NoError(t, store.SetPhase(ctx, "caller-3", PhaseBooking))

			state, err := store.Touch(ctx, "caller-3", 1)
			require.NoError(t, err)
			assert.Equal(t, PhaseBooking, state.Phase)
		})
	}
}

func TestMemoryStoreConcurrentCalls(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 50)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := string(rune('a'+i%26)) + "-caller"
			id, err := store.Create(ctx, caller+string(rune('0'+i/26)), DialogueConfig{})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		require.False(t, seen[id], "session ids must be unique")
		seen[id] = true
		_, err := store.Get(ctx, id)
		require.NoError(t, err)
	}
}

func TestMemoryStorePrunesDestroyedIDs(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Destroy(ctx, "c", "old"))
	now = now.Add(25 * time.Hour)
	require.NoError(t, store.Destroy(ctx, "c", "new"))

	oldClosed, _ := store.IsDestroyed(ctx, "old")
	newClosed, _ := store.IsDestroyed(ctx, "new")
	assert.False(t, oldClosed)
	assert.True(t, newClosed)
}

func TestRedisStoreKeysExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStore(client, time.Minute)

	sessionID, err := store.Create(context.Background(), "caller-ttl", DialogueConfig{})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.Get(context.Background(), sessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStoreExpiresAbandonedCalls(t *testing.T) {
	store := NewMemoryStore(WithSessionTTL(time.Minute))
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	abandoned, err := store.Create(ctx, "caller-gone", DialogueConfig{})
	require.NoError(t, err)
	active, err := store.Create(ctx, "caller-here", DialogueConfig{})
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, err = store.Touch(ctx, "caller-here", 1)
	require.NoError(t, err)

	now = now.Add(45 * time.Second)
	_, ok := store.State("caller-gone")
	assert.False(t, ok, "an idle call expires after the session ttl")
	state, ok := store.State("caller-here")
	require.True(t, ok, "touching a call refreshes its ttl")
	assert.Equal(t, 1, state.TurnCount)

	_, err = store.Get(ctx, abandoned)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(ctx, active)
	assert.ErrorIs(t, err, ErrSessionNotFound, "configs expire from creation like the redis keys")

	_, err = store.Create(ctx, "caller-new", DialogueConfig{})
	require.NoError(t, err)
	store.mu.RLock()
	defer store.mu.RUnlock()
	assert.Len(t, store.calls, 2)
	assert.Len(t, store.configs, 1)
	assert.NotContains(t, store.calls, "caller-gone")
}

// newCallOnFirstRead simulates a new call from the same number landing
// between Destroy's read of the caller key and its transaction.
type newCallOnFirstRead struct {
	once  sync.Once
	other *redis.Client
	key   string
}

func (h *newCallOnFirstRead) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *newCallOnFirstRead) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *newCallOnFirstRead) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if cmd.Name() == "hget" {
			h.once.Do(func() {
				_ = h.other.HSet(ctx, h.key, fieldSessionID, "newer-session").Err()
			})
		}
		return err
	}
}

func TestRedisStoreDestroyWatchesCallerKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer other.Close()
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	sessionID, err := store.Create(ctx, "caller-race", DialogueConfig{})
	require.NoError(t, err)
	client.AddHook(&newCallOnFirstRead{other: other, key: callStateKey("caller-race")})

	require.NoError(t, store.Destroy(ctx, "caller-race", sessionID))

	current, err := other.HGet(ctx, callStateKey("caller-race"), fieldSessionID).Result()
	require.NoError(t, err, "the newer call's state survives")
	assert.Equal(t, "newer-session", current)
	closed, err := store.IsDestroyed(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.False(t, mr.Exists(sessionConfigKey(sessionID)))
}
