package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/azentyk/voice-appointments/pkg/logging"
)

func newProxy(baseURL string, client *http.Client) *proxy {
	if client == nil {
		client = &http.Client{Timeout: time.Second}
	}
	return &proxy{
		cfg:    config{upstreamBaseURL: baseURL, upstreamTimeout: time.Second},
		client: client,
		logger: logging.New("error"),
	}
}

func event(method, path, body string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RawPath: path,
		Body:    body,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{Method: method, Path: path},
		},
	}
}

func TestHandleShortCircuits(t *testing.T) {
	p := newProxy("http://example.com", nil)
	cases := []struct {
		name   string
		evt    events.APIGatewayV2HTTPRequest
		status int
	}{
		{name: "health", evt: event(http.MethodGet, "/health", ""), status: http.StatusOK},
		{name: "unknown path", evt: event(http.MethodPost, "/webhooks/unknown", ""), status: http.StatusNotFound},
		{name: "get on webhook", evt: event(http.MethodGet, "/incoming_call", ""), status: http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := p.handle(context.Background(), tc.evt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.StatusCode)
			}
		})
	}
}

func TestHandleInvalidBase64Body(t *testing.T) {
	evt := event(http.MethodPost, "/process_incoming", "not-base64")
	evt.IsBase64Encoded = true

	resp, err := newProxy("http://example.com", nil).handle(context.Background(), evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest || resp.Body != "invalid body" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Body)
	}
}

func TestHandleForwardsCallWebhook(t *testing.T) {
	type captured struct {
		path    string
		query   string
		headers http.Header
		body    string
	}
	reqCh := make(chan captured, 1)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqCh <- captured{path: r.URL.Path, query: r.URL.RawQuery, headers: r.Header.Clone(), body: string(body)}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte("<Response><Hangup></Hangup></Response>"))
	}))
	defer upstream.Close()

	evt := event(http.MethodPost, "/process_incoming", base64.StdEncoding.EncodeToString([]byte("SpeechResult=bye")))
	evt.IsBase64Encoded = true
	evt.RawQueryString = "session_id=abc"
	evt.Headers = map[string]string{
		"Content-Type":       "application/x-www-form-urlencoded",
		"X-Twilio-Signature": "sig",
	}
	evt.RequestContext.DomainName = "voice.example.com"
	evt.RequestContext.HTTP.SourceIP = "54.0.0.1"

	resp, err := newProxy(upstream.URL, upstream.Client()).handle(context.Background(), evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if resp.Headers["content-type"] != "text/xml" {
		t.Fatalf("expected content-type to be forwarded, got %q", resp.Headers["content-type"])
	}

	got := <-reqCh
	if got.path != "/process_incoming" || got.query != "session_id=abc" {
		t.Fatalf("unexpected upstream target %s?%s", got.path, got.query)
	}
	if got.body != "SpeechResult=bye" {
		t.Fatalf("expected decoded body, got %q", got.body)
	}
	checks := map[string]string{
		"X-Twilio-Signature": "sig",
		"X-Forwarded-Host":   "voice.example.com",
		"X-Forwarded-Proto":  "https",
		"X-Real-Ip":          "54.0.0.1",
		"Content-Type":       "application/x-www-form-urlencoded",
	}
	for header, want := range checks {
		if v := got.headers.Get(header); v != want {
			t.Fatalf("expected %s=%q, got %q", header, want, v)
		}
	}
}

func TestHandleUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	resp, err := newProxy(url, nil).handle(context.Background(), event(http.MethodPost, "/incoming_call", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, resp.StatusCode)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("UPSTREAM_BASE_URL", "")
	if _, err := loadConfig(); err == nil {
		t.Fatalf("expected error without upstream")
	}

	t.Setenv("UPSTREAM_BASE_URL", "https://api.example.com/")
	t.Setenv("UPSTREAM_TIMEOUT", "")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.upstreamBaseURL != "https://api.example.com" || cfg.upstreamTimeout != defaultUpstreamTimeout {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("UPSTREAM_TIMEOUT", "soon")
	if _, err := loadConfig(); err == nil {
		t.Fatalf("expected error for invalid timeout")
	}
}
