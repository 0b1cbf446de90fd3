package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte // key -> body
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
	m.putCalls = append(m.putCalls, putCall{
		bucket: *input.Bucket,
		key:    *input.Key,
		body:   body,
	})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &notFoundError{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "NoSuchKey: key not found" }

func TestStore_PutConversation(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)

	now := time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC)
	record := &ConversationRecord{
		Version:        "1.0",
		ConversationID: "conv-123",
		TenantID:       "acct-456",
		PhoneHash:      HashPhone("+15551234567"),
		ArchivedAt:     now,
		MessageCount:   2,
		Status:         "completed",
		Messages: []Message{
			{Role: "user", Content: "Book Botox, my email is jane@example.com", Timestamp: now},
			{Role: "assistant", Content: "Sure! Call me at 555-123-4567", Timestamp: now},
		},
	}

	err := store.PutConversation(context.Background(), record)
	require.NoError(t, err)

	// Conversation write, then manifest append.
	require.Len(t, mock.putCalls, 2)
	assert.Contains(t, mock.putCalls[0].key, "conversations/v1/by-date/2026/02/12/conv-123.json")

	var decoded ConversationRecord
	err = json.Unmarshal(mock.putCalls[0].body, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "conv-123", decoded.ConversationID)
	assert.Contains(t, decoded.Messages[0].Content, "[EMAIL]")
	assert.Contains(t, decoded.Messages[1].Content, "[PHONE]")
	assert.NotContains(t, decoded.Messages[0].Content, "jane@example.com")

	assert.Contains(t, mock.putCalls[1].key, "conversations/v1/manifests/2026-02.jsonl")
	var entry ManifestEntry
	err = json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry)
	require.NoError(t, err)
	assert.Equal(t, "conv-123", entry.ConversationID)
	assert.Equal(t, "acct-456", entry.TenantID)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())

	err := store.PutConversation(context.Background(), &ConversationRecord{})
	assert.NoError(t, err) // no-op, no error, no S3 call
}

func TestStore_Enabled_RequiresBucketAndClient(t *testing.T) {
	assert.False(t, NewStore(newMockS3(), "", nil).Enabled())
	assert.False(t, NewStore(nil, "test-bucket", nil).Enabled())
	assert.True(t, NewStore(newMockS3(), "test-bucket", nil).Enabled())
}

func TestStore_ManifestAppend_Accumulates(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first := &ConversationRecord{ConversationID: "conv-1", ArchivedAt: now}
	second := &ConversationRecord{ConversationID: "conv-2", ArchivedAt: now}

	require.NoError(t, store.PutConversation(context.Background(), first))
	require.NoError(t, store.PutConversation(context.Background(), second))

	manifestKey := "conversations/v1/manifests/2026-03.jsonl"
	lines := bytes.Split(bytes.TrimSpace(mock.objects[manifestKey]), []byte("\n"))
	require.Len(t, lines, 2)

	var e1, e2 ManifestEntry
	require.NoError(t, json.Unmarshal(lines[0], &e1))
	require.NoError(t, json.Unmarshal(lines[1], &e2))
	assert.Equal(t, "conv-1", e1.ConversationID)
	assert.Equal(t, "conv-2", e2.ConversationID)
}
