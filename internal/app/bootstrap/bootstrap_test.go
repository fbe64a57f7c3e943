package bootstrap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/azentyk/voice-appointments/internal/config"
	"github.com/azentyk/voice-appointments/internal/dialogue"
	"github.com/azentyk/voice-appointments/internal/locks"
	"github.com/azentyk/voice-appointments/internal/notify"
	"github.com/azentyk/voice-appointments/internal/sessions"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

func localConfig() *appconfig.Config {
	return &appconfig.Config{
		Env:              "development",
		PublicBaseURL:    "https://voice.example.com",
		VoiceName:        "Polly.Joanna",
		VoiceLanguage:    "en-us",
		WebhookRateLimit: 10,
		WebhookRateBurst: 20,
		UseMemoryQueue:   true,
		WorkerCount:      1,
		AppointmentStore: backendMemory,
		SessionBackend:   backendMemory,
		RetrievalBackend: "static",
		RetrievalTopK:    3,
		EmailProvider:    "none",
		AdminJWTSecret:   "secret",
	}
}

func TestBuildRequiresConfig(t *testing.T) {
	if _, err := Build(context.Background(), nil, aws.Config{}, logging.New("error")); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestBuildLocalStackServesCalls(t *testing.T) {
	app, err := Build(context.Background(), localConfig(), aws.Config{Region: "us-east-1"}, logging.New("error"))
	require.NoError(t, err)
	defer app.Close()
	require.NotNil(t, app.Worker)

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	form := url.Values{"From": {"+919876543210"}, "CallSid": {"CA1"}}
	req := httptest.NewRequest(http.MethodPost, "/incoming_call", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "<Gather")
	assert.Contains(t, string(body), "our assistant is unavailable right now")

	rec = httptest.NewRecorder()
	app.Ops.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "azentyk_voice_active_sessions")

	rec = httptest.NewRecorder()
	app.Ops.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/incoming_call", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "ops handler carries no webhooks")
}

func TestBuildProductionRequiresModel(t *testing.T) {
	cfg := localConfig()
	cfg.Env = "production"
	_, err := Build(context.Background(), cfg, aws.Config{Region: "us-east-1"}, logging.New("error"))
	require.Error(t, err)
}

func TestBuildJobQueueRequiresURL(t *testing.T) {
	cfg := localConfig()
	cfg.UseMemoryQueue = false
	_, err := BuildJobQueue(cfg, aws.Config{}, logging.New("error"))
	require.Error(t, err)
}

func TestBuildRedisClient(t *testing.T) {
	logger := logging.New("error")
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, logger, true); client != nil {
		t.Fatalf("expected nil client without an address")
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	require.NotNil(t, client)
	defer client.Close()

	mr.Close()
	if unreachable := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true); unreachable != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestBuildSessionStoreBackends(t *testing.T) {
	logger := logging.New("error")
	cfg := localConfig()
	cfg.SessionBackend = backendRedis

	_, isMemory := BuildSessionStore(cfg, nil, logger).(*sessions.MemoryStore)
	assert.True(t, isMemory, "redis backend without a client falls back to memory")

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, false)
	defer client.Close()

	_, isRedis := BuildSessionStore(cfg, client, logger).(*sessions.RedisStore)
	assert.True(t, isRedis)
	_, isRedisHistory := BuildHistoryStore(cfg, client).(*dialogue.RedisHistoryStore)
	assert.True(t, isRedisHistory)
	_, isRedisLock := BuildLocker(cfg, client).(*locks.RedisLocker)
	assert.True(t, isRedisLock)
	_, isLocalLock := BuildLocker(cfg, nil).(*locks.LocalLocker)
	assert.True(t, isLocalLock)
}

func TestBuildEmailSenderSelection(t *testing.T) {
	logger := logging.New("error")
	cases := []struct {
		name  string
		setup func(*appconfig.Config)
		check func(t *testing.T, s notify.EmailSender)
	}{
		{
			name:  "disabled",
			setup: func(c *appconfig.Config) { c.EmailProvider = "none" },
			check: func(t *testing.T, s notify.EmailSender) { assert.Nil(t, s) },
		},
		{
			name:  "auto without credentials",
			setup: func(c *appconfig.Config) { c.EmailProvider = "auto" },
			check: func(t *testing.T, s notify.EmailSender) { assert.Nil(t, s) },
		},
		{
			name: "auto prefers sendgrid",
			setup: func(c *appconfig.Config) {
				c.EmailProvider = "auto"
				c.SendGridAPIKey = "SG.key"
				c.SESFromEmail = "care@example.com"
			},
			check: func(t *testing.T, s notify.EmailSender) {
				_, ok := s.(*notify.SendGridSender)
				assert.True(t, ok)
			},
		},
		{
			name: "ses",
			setup: func(c *appconfig.Config) {
				c.EmailProvider = "ses"
				c.SESFromEmail = "care@example.com"
			},
			check: func(t *testing.T, s notify.EmailSender) {
				_, ok := s.(*notify.SESSender)
				assert.True(t, ok)
			},
		},
		{
			name:  "stub",
			setup: func(c *appconfig.Config) { c.EmailProvider = "stub" },
			check: func(t *testing.T, s notify.EmailSender) {
				_, ok := s.(*notify.StubEmailSender)
				assert.True(t, ok)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := localConfig()
			tc.setup(cfg)
			tc.check(t, buildEmailSender(cfg, aws.Config{Region: "us-east-1"}, logger))
		})
	}
}
