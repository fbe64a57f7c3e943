package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{bucket: *input.Bucket, key: *input.Key, body: body})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("operation error S3: GetObject, NoSuchKey: key not found")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func fixedStore(mock *mockS3Client) *Store {
	store := NewStore(mock, "test-bucket", nil)
	store.now = func() time.Time { return time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC) }
	return store
}

func TestStore_ArchiveCall(t *testing.T) {
	mock := newMockS3()
	store := fixedStore(mock)

	record := CallRecord{
		SessionID:  "sess-123",
		CallerHash: HashPhone("+919876543210"),
		Outcome:    "booking",
		Labels:     Labels{Category: "booking"},
		Messages: []Message{
			{Role: "user", Content: "Book cardiology in Chennai"},
			{Role: "assistant", Content: "Sure!"},
		},
	}
	require.NoError(t, store.ArchiveCall(context.Background(), record))

	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "test-bucket", mock.putCalls[0].bucket)
	assert.Equal(t, "calls/v1/by-date/2026/10/19/sess-123.json", mock.putCalls[0].key)

	var decoded CallRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, "sess-123", decoded.SessionID)
	assert.Equal(t, recordVersion, decoded.Version)

	assert.Equal(t, "calls/v1/manifests/2026-10.jsonl", mock.putCalls[1].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, "sess-123", entry.SessionID)
	assert.Equal(t, 2, entry.MessageCount)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())
	assert.NoError(t, store.ArchiveCall(context.Background(), CallRecord{}))
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := fixedStore(mock)

	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{SessionID: "s-1"}))
	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{SessionID: "s-2"}))

	lastPut := mock.putCalls[len(mock.putCalls)-1]
	lines := bytes.Split(bytes.TrimSpace(lastPut.body), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadFailure(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("AccessDenied")
	store := fixedStore(mock)

	err := store.AppendManifest(context.Background(), ManifestEntry{SessionID: "s-1"})
	require.Error(t, err)
	assert.Empty(t, mock.putCalls, "manifest must not be clobbered on read failure")
}

func TestArchiverScrubsAndLabels(t *testing.T) {
	mock := newMockS3()
	client := llm.NewScriptedClient(llm.Response{
		Text: "```json\n{\"category\":\"booking\",\"sentiment\":\"positive\",\"contains_phi\":false,\"needs_review\":false}\n```",
	})
	archiver := NewArchiver(fixedStore(mock), NewLabeler(client, "labeler-model"), nil)

	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	ok := archiver.Archive(context.Background(), CallInput{
		SessionID: "sess-9",
		CallerID:  "+919876543210",
		StartedAt: start,
		EndedAt:   start.Add(95 * time.Second),
		TurnCount: 6,
		Outcome:   "booking",
		Messages: []Message{
			{Role: "user", Content: "my email is priya@example.com and number 9876543210"},
		},
	})
	require.True(t, ok)

	var decoded CallRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, "my email is [EMAIL] and number [PHONE]", decoded.Messages[0].Content)
	assert.Equal(t, 95, decoded.DurationSeconds)
	assert.Equal(t, HashPhone("+919876543210"), decoded.CallerHash)
	assert.True(t, decoded.Labels.AutoLabeled)
	assert.Equal(t, "positive", decoded.Labels.Sentiment)
	assert.Equal(t, "labeler-model", decoded.Labels.LabelModel)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.NotContains(t, reqs[0].Messages[0].Content, "priya@example.com", "labeler sees scrubbed text")
}

func TestArchiverFallsBackWhenLabelerFails(t *testing.T) {
	mock := newMockS3()
	client := llm.NewScriptedClient()
	client.FailNext(errors.New("throttled"))
	archiver := NewArchiver(fixedStore(mock), NewLabeler(client, "m"), nil)

	require.True(t, archiver.Archive(context.Background(), CallInput{
		SessionID: "sess-10",
		Outcome:   "cancel",
		Messages:  []Message{{Role: "user", Content: "cancel please"}},
	}))
	var decoded CallRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, "cancel", decoded.Labels.Category)
	assert.False(t, decoded.Labels.AutoLabeled)
}

func TestNilArchiverIsNoop(t *testing.T) {
	archiver := NewArchiver(NewStore(nil, "", nil), nil, nil)
	assert.Nil(t, archiver)
	assert.False(t, archiver.Archive(context.Background(), CallInput{SessionID: "x"}))
}
