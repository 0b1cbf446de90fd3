// Command reminder-job runs the daily appointment-reminder batch once and
// exits, for invocation from a cron scheduler rather than running inside
// the always-on API process. Grounded on
// original_source/run_reminder_job.py's argparse/exit-code contract: exit 0
// when every reminder sent cleanly, 1 when the batch finished but some
// per-appointment sends failed, 2 on a fatal error before or during the run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/vitalishealth/bookingai/internal/booking"
	"github.com/vitalishealth/bookingai/internal/chatplatform"
	appconfig "github.com/vitalishealth/bookingai/internal/config"
	"github.com/vitalishealth/bookingai/internal/crm/ghlclient"
	"github.com/vitalishealth/bookingai/internal/crmauth"
	"github.com/vitalishealth/bookingai/internal/reminders"
	"github.com/vitalishealth/bookingai/internal/tenancy"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

func main() {
	timezone := flag.String("timezone", "America/Los_Angeles", "timezone to evaluate each tenant's reminder window in")
	dryRun := flag.Bool("dry-run", false, "log actions without sending reminder messages")
	flag.Parse()

	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		fmt.Printf("FATAL ERROR: unknown timezone %q: %v\n", *timezone, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Printf("FATAL ERROR: connect to postgres: %v\n", err)
		os.Exit(2)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	accounts := tenancy.NewRepository(sqlDB)
	bookingStore := booking.NewStore(sqlDB)
	remindersStore := reminders.NewStore(sqlDB)

	crmAuth := crmauth.New(crmauth.Config{
		ClientID:     cfg.CRMClientID,
		ClientSecret: cfg.CRMClientSecret,
		RedirectURI:  cfg.CallbackURI,
		APIBaseURL:   cfg.CRMAPIBaseURL,
	}, pool, logger)
	crmClient := ghlclient.New(cfg.CRMAPIBaseURL, crmAuth, logger)
	chatClient := chatplatform.New(cfg.ChatPlatformBaseURL, cfg.ChatPlatformBearer, logger)

	var sender reminders.Sender = chatClient
	if *dryRun {
		logger.Info("reminder-job: running in dry-run mode, no messages will be sent")
		sender = dryRunSender{logger: logger}
	}

	dispatcher := reminders.NewDispatcher(accounts, bookingStore, remindersStore, crmClient, sender, loc, logger)

	logger.Info("reminder-job: starting", "timezone", *timezone, "dry_run", *dryRun)

	result, err := dispatcher.RunDaily(ctx, time.Now().In(loc))
	if err != nil {
		fmt.Printf("FATAL ERROR: %v\n", err)
		os.Exit(2)
	}

	fmt.Print(summarize(result))
	os.Exit(exitCode(result))
}

// summarize renders the batch result the way run_reminder_job.py's main()
// prints its summary block, including the per-error listing when the run
// finished with partial failures.
func summarize(result *reminders.Result) string {
	var b strings.Builder
	fmt.Fprintln(&b, "Reminder Job Summary:")
	fmt.Fprintf(&b, "  Total Accounts: %d\n", result.TenantsProcessed)
	fmt.Fprintf(&b, "  Total Appointments: %d\n", result.BookingsSeen)
	fmt.Fprintf(&b, "  Reminders Sent: %d\n", result.RemindersSent)
	fmt.Fprintf(&b, "  Errors: %d\n", len(result.Errors))
	if len(result.Errors) > 0 {
		fmt.Fprintln(&b, "\nErrors encountered:")
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}
	return b.String()
}

// exitCode mirrors run_reminder_job.py's sys.exit(0 if len(errors) == 0
// else 1) contract for a completed run — exit 2 is reserved for a fatal
// error that prevented the run from completing at all.
func exitCode(result *reminders.Result) int {
	if len(result.Errors) > 0 {
		return 1
	}
	return 0
}

// dryRunSender logs instead of delivering, for --dry-run.
type dryRunSender struct {
	logger *logging.Logger
}

func (d dryRunSender) SendText(ctx context.Context, phoneNumberID, to, text string) (string, error) {
	d.logger.Info("reminder-job: dry-run, would send reminder", "phone_number_id", phoneNumberID, "to", to)
	return "dry-run", nil
}
