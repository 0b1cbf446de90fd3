// Package archive writes a conversation's message log to S3 as a compliance
// snapshot right before internal/conversation.Store.CleanupExpired purges it
// from Postgres, so a tenant's TTL-expired threads remain auditable without
// keeping them in the hot conversations table indefinitely.
//
// Grounded on the teacher's internal/archive, which did the same
// write-before-delete for LLM training-data curation; trimmed down to the
// Store/PutObject/manifest mechanics and dropped the classifier (medical
// liability risk, prompt-injection labeling) since this system archives for
// retention and audit, not model training.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

// S3API is the subset of the S3 client Store needs, so tests can fake it
// without standing up a real bucket.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives conversation records to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewStore builds a Store. If bucket is empty or s3Client is nil, Enabled
// reports false and every write is a no-op — archival is an optional
// compliance feature, not a hard dependency of the purge flow.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled reports whether archival is actually configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// PutConversation writes record as JSON to S3 and appends a line to the
// monthly manifest. A manifest failure is logged but does not fail the
// archive — the conversation itself is already durably written.
func (s *Store) PutConversation(ctx context.Context, record *ConversationRecord) error {
	if !s.Enabled() {
		return nil
	}

	scrubMessages(record.Messages)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	now := record.ArchivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	key := fmt.Sprintf("conversations/v1/by-date/%d/%02d/%02d/%s.json",
		now.Year(), now.Month(), now.Day(), record.ConversationID)

	if _, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	s.logger.Info("archive: wrote conversation to S3",
		"conversation_id", record.ConversationID, "s3_key", key, "message_count", record.MessageCount)

	entry := ManifestEntry{
		ConversationID: record.ConversationID,
		TenantID:       record.TenantID,
		S3Key:          key,
		ArchivedAt:     now.Format(time.RFC3339),
		MessageCount:   record.MessageCount,
		Status:         record.Status,
	}
	if err := s.appendManifest(ctx, entry, now); err != nil {
		s.logger.Warn("archive: failed to append manifest", "error", err, "conversation_id", record.ConversationID)
	}

	return nil
}

// appendManifest does a read-modify-write of the monthly JSONL manifest,
// since S3 has no native append.
func (s *Store) appendManifest(ctx context.Context, entry ManifestEntry, now time.Time) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	key := fmt.Sprintf("conversations/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		defer getResp.Body.Close()
		buf := new(bytes.Buffer)
		if _, readErr := buf.ReadFrom(getResp.Body); readErr == nil {
			existing = buf.Bytes()
		}
	}

	existing = append(existing, line...)
	existing = append(existing, '\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(existing),
		ContentType: aws.String("application/x-ndjson"),
	})
	return err
}
