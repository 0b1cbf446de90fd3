package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Conversation lifecycle states.
const (
	StatusActive               = "active"
	StatusAwaitingConfirmation = "awaiting_confirmation"
	StatusCompleted            = "completed"
	StatusExpired              = "expired"
	StatusCancelled            = "cancelled"
)

func isTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Context carries the engine's per-conversation scratch state: the pending
// booking draft offered for confirmation, the contact already created in the
// CRM for this thread, and the reschedule target when the thread began from
// a reminder reply rather than a fresh booking request.
type Context struct {
	AwaitingConfirmation      bool     `json:"awaiting_confirmation,omitempty"`
	PendingBookingID          string   `json:"pending_booking_id,omitempty"`
	PendingAlternatives       []string `json:"pending_alternatives,omitempty"`
	ReschedulingAppointmentID string   `json:"rescheduling_appointment_id,omitempty"`
	CRMContactID              string   `json:"crm_contact_id,omitempty"`
	PatientName               string   `json:"patient_name,omitempty"`
	PatientEmail              string   `json:"patient_email,omitempty"`
	Reason                    string   `json:"reason,omitempty"`
}

// Conversation is a single chat thread between a tenant and a phone number.
type Conversation struct {
	ID                   uuid.UUID
	Key                  string
	TenantID             string
	Phone                string
	Status               string
	Channel              string
	Context              Context
	MessageCount         int
	CustomerMessageCount int
	AIMessageCount       int
	StartedAt            time.Time
	LastMessageAt        *time.Time
	EndedAt              *time.Time
	ExpiresAt            time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Message is a single turn persisted to the conversation's message log.
type Message struct {
	ID        uuid.UUID
	Key       string
	Role      string
	Content   string
	FromPhone string
	ToPhone   string
	CreatedAt time.Time
}

// MessageInput is what callers hand AppendMessage; ID and CreatedAt are
// filled in when left zero.
type MessageInput struct {
	ID        string
	Role      string
	Content   string
	FromPhone string
	ToPhone   string
	Timestamp time.Time
}

// Store persists conversations and their message logs to Postgres, and
// implements the get-or-create, expiry, and truncation rules the
// conversation engine depends on.
type Store struct {
	db             *sql.DB
	ttl            time.Duration
	maxMessages    int
	excludedPhones map[string]struct{}
}

// NewStore builds a Store. ttl is the conversation inactivity window;
// maxMessages bounds the message log truncated on every append.
func NewStore(db *sql.DB, ttl time.Duration, maxMessages int) *Store {
	if db == nil {
		panic("conversation: db required")
	}
	if maxMessages <= 0 {
		maxMessages = 40
	}
	return &Store{db: db, ttl: ttl, maxMessages: maxMessages, excludedPhones: make(map[string]struct{})}
}

// NewStoreWithExclusions builds a Store that silently no-ops for the given
// phone numbers (load-test and QA lines that should never hit the database).
func NewStoreWithExclusions(db *sql.DB, ttl time.Duration, maxMessages int, excludePhones []string) *Store {
	s := NewStore(db, ttl, maxMessages)
	for _, phone := range excludePhones {
		digits := normalizePhoneDigits(phone)
		if digits != "" {
			s.excludedPhones[digits] = struct{}{}
		}
	}
	return s
}

func normalizePhoneDigits(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 10 {
		return "1" + d
	}
	return d
}

func (s *Store) isPhoneExcluded(phone string) bool {
	if s == nil || len(s.excludedPhones) == 0 {
		return false
	}
	_, excluded := s.excludedPhones[normalizePhoneDigits(phone)]
	return excluded
}

// baseKey is the conversation key before any session suffix is appended.
func baseKey(tenantID, phone string) string {
	return fmt.Sprintf("sms:%s:%s", tenantID, phone)
}

// parseKey extracts the tenant id and phone from a conversation key,
// tolerating an optional trailing ":sN" session suffix.
func parseKey(key string) (tenantID, phone string, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 || parts[0] != "sms" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// GetOrCreate implements the conversation store's core allocation rule: an
// active, non-expired conversation for (tenant, phone) is reused as-is; a
// conversation under the base key that exists but is terminal gets a new
// session key with an incrementing numeric suffix; otherwise a fresh
// conversation is created under the base key.
func (s *Store) GetOrCreate(ctx context.Context, tenantID, phone string) (*Conversation, error) {
	if s.isPhoneExcluded(phone) {
		return nil, nil
	}

	active, err := s.findActive(ctx, tenantID, phone)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}

	key := baseKey(tenantID, phone)
	existing, err := s.getByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !isTerminalStatus(existing.Status) {
			return existing, nil
		}
		suffix, err := s.nextSessionSuffix(ctx, tenantID, phone)
		if err != nil {
			return nil, err
		}
		key = fmt.Sprintf("%s:s%d", key, suffix)
	}

	conv, err := s.create(ctx, tenantID, phone, key)
	if err != nil && isDuplicateKeyError(err) {
		// Lost a race with another request allocating the same key; the
		// winner's row is now readable.
		return s.getByKey(ctx, key)
	}
	return conv, err
}

func isDuplicateKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}

func (s *Store) nextSessionSuffix(ctx context.Context, tenantID, phone string) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_key FROM conversations WHERE tenant_id = $1 AND phone = $2`,
		tenantID, phone,
	)
	if err != nil {
		return 0, fmt.Errorf("conversation: list sessions: %w", err)
	}
	defer rows.Close()

	highest := 1
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return 0, fmt.Errorf("conversation: scan session key: %w", err)
		}
		idx := strings.LastIndex(key, ":s")
		if idx < 0 {
			continue
		}
		n, err := strconv.Atoi(key[idx+2:])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1, rows.Err()
}

func (s *Store) create(ctx context.Context, tenantID, phone, key string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New(),
		Key:       key,
		TenantID:  tenantID,
		Phone:     phone,
		Status:    StatusActive,
		Channel:   "sms",
		StartedAt: now,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	ctxJSON, err := json.Marshal(conv.Context)
	if err != nil {
		return nil, fmt.Errorf("conversation: marshal context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			id, conversation_key, tenant_id, phone, status, channel, context,
			message_count, customer_message_count, ai_message_count,
			started_at, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, $8, $9, $10, $11)
	`, conv.ID, conv.Key, conv.TenantID, conv.Phone, conv.Status, conv.Channel, ctxJSON,
		conv.StartedAt, conv.ExpiresAt, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("conversation: create: %w", err)
	}
	return conv, nil
}

// findActive returns the most recently updated active or awaiting-
// confirmation conversation for (tenant, phone) that has not yet expired.
func (s *Store) findActive(ctx context.Context, tenantID, phone string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id = $1 AND phone = $2
			AND status IN ('`+StatusActive+`', '`+StatusAwaitingConfirmation+`')
			AND expires_at > $3
		ORDER BY updated_at DESC
		LIMIT 1
	`, tenantID, phone, time.Now().UTC())
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: find active: %w", err)
	}
	return conv, nil
}

// Get reads a conversation by key. If it has passed its expiry, its status
// is transitioned to expired and persisted before the record is returned.
func (s *Store) Get(ctx context.Context, key string) (*Conversation, error) {
	conv, err := s.getByKey(ctx, key)
	if err != nil || conv == nil {
		return conv, err
	}
	if conv.Status != StatusExpired && !conv.ExpiresAt.IsZero() && time.Now().UTC().After(conv.ExpiresAt) {
		if err := s.UpdateStatus(ctx, key, StatusExpired); err != nil {
			return nil, err
		}
		conv.Status = StatusExpired
	}
	return conv, nil
}

func (s *Store) getByKey(ctx context.Context, key string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE conversation_key = $1`, key)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get: %w", err)
	}
	return conv, nil
}

const conversationColumns = `
	id, conversation_key, tenant_id, phone, status, channel, context,
	message_count, customer_message_count, ai_message_count,
	started_at, last_message_at, ended_at, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var contextJSON []byte
	var lastMessageAt, endedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.Key, &c.TenantID, &c.Phone, &c.Status, &c.Channel, &contextJSON,
		&c.MessageCount, &c.CustomerMessageCount, &c.AIMessageCount,
		&c.StartedAt, &lastMessageAt, &endedAt, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &c.Context); err != nil {
			return nil, fmt.Errorf("conversation: unmarshal context: %w", err)
		}
	}
	if lastMessageAt.Valid {
		c.LastMessageAt = &lastMessageAt.Time
	}
	if endedAt.Valid {
		c.EndedAt = &endedAt.Time
	}
	return &c, nil
}

// UpdateContext persists the engine's scratch state for a conversation.
func (s *Store) UpdateContext(ctx context.Context, key string, c Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("conversation: marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE conversations SET context = $1, updated_at = $2 WHERE conversation_key = $3`,
		data, time.Now().UTC(), key)
	return err
}

// UpdateStatus transitions a conversation's status.
func (s *Store) UpdateStatus(ctx context.Context, key, status string) error {
	now := time.Now().UTC()
	if status == StatusCompleted || status == StatusCancelled {
		_, err := s.db.ExecContext(ctx, `
			UPDATE conversations SET status = $1, ended_at = $2, updated_at = $2 WHERE conversation_key = $3
		`, status, now, key)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET status = $1, updated_at = $2 WHERE conversation_key = $3`, status, now, key)
	return err
}

// AppendMessage inserts a message into the log, bumps the per-role
// counters, and truncates the log from the head down to the configured
// maximum.
func (s *Store) AppendMessage(ctx context.Context, key string, msg MessageInput) error {
	msgID := uuid.New()
	if msg.ID != "" {
		if parsed, err := uuid.Parse(msg.ID); err == nil {
			msgID = parsed
		}
	}
	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, conversation_key, role, content, from_phone, to_phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, msgID, key, msg.Role, msg.Content, msg.FromPhone, msg.ToPhone, timestamp)
	if err != nil {
		return fmt.Errorf("conversation: insert message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation: read insert result: %w", err)
	}
	if affected == 0 {
		return nil
	}

	counterColumn := "message_count"
	switch msg.Role {
	case "user":
		counterColumn = "customer_message_count"
	case "assistant":
		counterColumn = "ai_message_count"
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE conversations SET
			message_count = message_count + 1,
			%s = %s + 1,
			last_message_at = $1,
			updated_at = $1
		WHERE conversation_key = $2
	`, counterColumn, counterColumn), timestamp, key)
	if err != nil {
		return fmt.Errorf("conversation: update counters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM conversation_messages
		WHERE conversation_key = $1 AND id NOT IN (
			SELECT id FROM conversation_messages
			WHERE conversation_key = $1
			ORDER BY created_at DESC
			LIMIT $2
		)
	`, key, s.maxMessages)
	if err != nil {
		return fmt.Errorf("conversation: truncate message log: %w", err)
	}
	return nil
}

// Messages returns the message log for a conversation, oldest first.
func (s *Store) Messages(ctx context.Context, key string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_key, role, content, from_phone, to_phone, created_at
		FROM conversation_messages
		WHERE conversation_key = $1
		ORDER BY created_at ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Key, &m.Role, &m.Content, &m.FromPhone, &m.ToPhone, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// HasAssistantMessage reports whether an assistant turn has been recorded,
// used to decide whether the engine is greeting a brand-new thread.
func (s *Store) HasAssistantMessage(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM conversation_messages WHERE conversation_key = $1 AND role = 'assistant' LIMIT 1
	`, key).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("conversation: check assistant messages: %w", err)
	}
	return true, nil
}

// ListByPhone returns every conversation (every session suffix included)
// a tenant has with a canonicalized phone, newest first, for the
// delete-conversations CLI's --preview mode.
func (s *Store) ListByPhone(ctx context.Context, tenantID, phone string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_key, tenant_id, phone, status, channel, message_count,
		       customer_message_count, ai_message_count, started_at, last_message_at,
		       ended_at, expires_at, created_at, updated_at
		FROM conversations WHERE tenant_id = $1 AND phone = $2 ORDER BY created_at DESC
	`, tenantID, phone)
	if err != nil {
		return nil, fmt.Errorf("conversation: list by phone: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Key, &c.TenantID, &c.Phone, &c.Status, &c.Channel, &c.MessageCount,
			&c.CustomerMessageCount, &c.AIMessageCount, &c.StartedAt, &c.LastMessageAt,
			&c.EndedAt, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan conversation: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteByPhone permanently removes every conversation a tenant has with a
// canonicalized phone and returns how many rows were removed. Messages cascade
// via conversation_messages' foreign key on conversation_key, mirroring how
// CleanupExpired relies on the same cascade for TTL purges.
func (s *Store) DeleteByPhone(ctx context.Context, tenantID, phone string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE tenant_id = $1 AND phone = $2`, tenantID, phone)
	if err != nil {
		return 0, fmt.Errorf("conversation: delete by phone: %w", err)
	}
	return result.RowsAffected()
}

// ListExpired returns every conversation past its expiry, for archival
// before CleanupExpired deletes them.
func (s *Store) ListExpired(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_key, tenant_id, phone, status, channel, message_count,
		       customer_message_count, ai_message_count, started_at, last_message_at,
		       ended_at, expires_at, created_at, updated_at
		FROM conversations WHERE expires_at <= $1
	`, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("conversation: list expired: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Key, &c.TenantID, &c.Phone, &c.Status, &c.Channel, &c.MessageCount,
			&c.CustomerMessageCount, &c.AIMessageCount, &c.StartedAt, &c.LastMessageAt,
			&c.EndedAt, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan expired conversation: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CleanupExpired deletes every conversation past its expiry and returns
// how many rows were removed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("conversation: cleanup expired: %w", err)
	}
	return result.RowsAffected()
}
