package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tenantID, phone, ok := parseKey("sms:tenant-1:5215512345678")
	require.True(t, ok)
	assert.Equal(t, "tenant-1", tenantID)
	assert.Equal(t, "5215512345678", phone)

	tenantID, phone, ok = parseKey("sms:tenant-1:5215512345678:s2")
	require.True(t, ok)
	assert.Equal(t, "tenant-1", tenantID)
	assert.Equal(t, "5215512345678", phone)

	_, _, ok = parseKey("not-a-key")
	assert.False(t, ok)
}

func TestGetOrCreate_ReusesActiveConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(strColumns()).AddRow(
		uuid.New(), "sms:tenant-1:555", "tenant-1", "555", StatusActive, "sms", []byte(`{}`),
		1, 1, 0, now, now, nil, now.Add(time.Hour), now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM conversations").WillReturnRows(rows)

	store := NewStore(db, 24*time.Hour, 40)
	conv, err := store.GetOrCreate(context.Background(), "tenant-1", "555")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, StatusActive, conv.Status)
}

func TestGetOrCreate_AllocatesSessionSuffixForTerminalConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM conversations").WillReturnRows(sqlmock.NewRows(strColumns()))

	now := time.Now().UTC()
	terminalRows := sqlmock.NewRows(strColumns()).AddRow(
		uuid.New(), "sms:tenant-1:555", "tenant-1", "555", StatusCompleted, "sms", []byte(`{}`),
		3, 2, 1, now, now, now, now.Add(-time.Hour), now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE conversation_key").WillReturnRows(terminalRows)

	mock.ExpectQuery("SELECT conversation_key FROM conversations").
		WillReturnRows(sqlmock.NewRows([]string{"conversation_key"}).AddRow("sms:tenant-1:555"))

	mock.ExpectExec("INSERT INTO conversations").WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewStore(db, 24*time.Hour, 40)
	conv, err := store.GetOrCreate(context.Background(), "tenant-1", "555")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "sms:tenant-1:555:s2", conv.Key)
	assert.Equal(t, StatusActive, conv.Status)
}

func TestGetOrCreate_CreatesFreshConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM conversations").WillReturnRows(sqlmock.NewRows(strColumns()))
	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE conversation_key").WillReturnRows(sqlmock.NewRows(strColumns()))
	mock.ExpectExec("INSERT INTO conversations").WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewStore(db, 24*time.Hour, 40)
	conv, err := store.GetOrCreate(context.Background(), "tenant-1", "555")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "sms:tenant-1:555", conv.Key)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), conv.ExpiresAt, time.Minute)
}

func TestExcludedPhone_SkipsPersistence(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStoreWithExclusions(db, time.Hour, 40, []string{"5215512345678"})
	conv, err := store.GetOrCreate(context.Background(), "tenant-1", "5215512345678")
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func strColumns() []string {
	return []string{
		"id", "conversation_key", "tenant_id", "phone", "status", "channel", "context",
		"message_count", "customer_message_count", "ai_message_count",
		"started_at", "last_message_at", "ended_at", "expires_at", "created_at", "updated_at",
	}
}
