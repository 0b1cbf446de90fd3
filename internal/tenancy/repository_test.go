package tenancy

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetByChatPlatformPhoneIDReturnsAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "display_name", "chat_platform_phone_id", "crm_calendar_id", "location_id",
		"assigned_user_id", "email", "status", "custom_prompt",
		"payments_connected_account_id", "payments_onboarding_complete", "payments_charges_enabled",
		"payments_payouts_enabled", "payments_details_submitted", "payments_price_cents",
		"payments_currency", "payments_description",
		"subscription_customer_id", "subscription_tier_id", "subscription_status", "subscription_period_end",
		"subscription_is_free_account", "subscription_free_account_reason", "subscription_free_account_expires_at",
		"created_at", "updated_at",
	}).AddRow(
		"acct-1", "Clinic One", "phone-id-1", "cal-1", "loc-1",
		"user-1", "clinic@example.com", StatusActive, "",
		"acct_connected", true, true,
		true, true, int64(150000),
		"mxn", "consulta",
		"cus_1", "tier_1", SubscriptionActive, now,
		false, "", nil,
		now, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE chat_platform_phone_id = \\$1").
		WithArgs("phone-id-1").
		WillReturnRows(rows)

	repo := NewRepository(db)
	acct, err := repo.GetByChatPlatformPhoneID(context.Background(), "phone-id-1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", acct.ID)
	assert.True(t, acct.Payments.Enabled())
	assert.True(t, acct.HasAccess(now))
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sqlmock.ErrCancelled)

	repo := NewRepository(db)
	_, err = repo.GetByID(context.Background(), "missing")
	assert.Error(t, err)
}

func TestUpdatePaymentsConfigExecutesUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE accounts SET").WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewRepository(db)
	err = repo.UpdatePaymentsConfig(context.Background(), "acct-1", PaymentsConfig{
		ConnectedAccountID: "acct_connected", OnboardingComplete: true, ChargesEnabled: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
