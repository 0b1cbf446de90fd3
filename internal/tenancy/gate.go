package tenancy

import (
	"context"
	"time"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

// Gate evaluates tenant access before a chat message reaches the
// conversation engine, implementing C13. Grounded on
// original_source/app/api/middleware/subscription.py, adapted to the
// teacher's constructor-with-logger idiom.
type Gate struct {
	enforcementEnabled bool
	now                func() time.Time
	logger             *logging.Logger
}

// NewGate builds a subscription gate. When enforcementEnabled is false the
// gate always allows, per spec §4.13 — this is the default for pre-launch.
func NewGate(enforcementEnabled bool, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{enforcementEnabled: enforcementEnabled, now: time.Now, logger: logger}
}

// WithClock overrides the gate's time source for testing.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Allow reports whether the tenant may proceed into the conversation engine.
func (g *Gate) Allow(ctx context.Context, account *Account) bool {
	_ = ctx
	if !g.enforcementEnabled {
		return true
	}
	if account == nil {
		return false
	}
	allowed := account.HasAccess(g.now())
	if !allowed {
		g.logger.Info("subscription gate denied access", "account_id", account.ID, "status", account.Subscription.Status)
	}
	return allowed
}

// SubscriptionRequiredMessage is the single non-templated text sent on
// denial, per spec §4.13 — the conversation must not be created or updated.
const SubscriptionRequiredMessage = "Lo sentimos, este servicio no está disponible actualmente. Por favor contacta directamente al consultorio."
