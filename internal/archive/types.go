package archive

import "time"

// Message is a single conversation turn, trimmed to what a compliance
// record needs — no training-classification labels, since this archive
// exists to satisfy retention/audit requirements after TTL purge, not to
// curate LLM fine-tuning data.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationRecord is the JSON document written to S3 for one purged
// conversation.
type ConversationRecord struct {
	Version         string    `json:"version"`
	ConversationID  string    `json:"conversation_id"`
	TenantID        string    `json:"tenant_id"`
	PhoneHash       string    `json:"phone_hash"`
	ArchivedAt      time.Time `json:"archived_at"`
	DurationSeconds int       `json:"duration_seconds"`
	MessageCount    int       `json:"message_count"`
	Status          string    `json:"status"`
	Messages        []Message `json:"messages"`
}

// ManifestEntry is one JSONL line in the monthly manifest, letting an
// operator locate what was archived for a tenant without listing every S3
// key under conversations/.
type ManifestEntry struct {
	ConversationID string `json:"conversation_id"`
	TenantID       string `json:"tenant_id"`
	S3Key          string `json:"s3_key"`
	ArchivedAt     string `json:"archived_at"`
	MessageCount   int    `json:"message_count"`
	Status         string `json:"status"`
}
