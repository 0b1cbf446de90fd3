// Command delete-conversations performs a confirmed batch delete of every
// conversation a tenant has with a given phone, for honoring a patient's
// deletion request out of band from the API. Grounded on the teacher's
// scripts/purge (an admin-endpoint-calling CLI for the same "erase one
// phone's data" operation), adapted to talk to the database directly the
// way cmd/migrate already does, since this system's admin surface has no
// equivalent per-phone erasure endpoint to call.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	appconfig "github.com/vitalishealth/bookingai/internal/config"
	"github.com/vitalishealth/bookingai/internal/conversation"
	"github.com/vitalishealth/bookingai/internal/phone"
	"github.com/vitalishealth/bookingai/internal/tenancy"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

func main() {
	phoneFlag := flag.String("phone", "", "phone number to delete conversations for (required)")
	accountID := flag.String("account-id", "", "tenant account id")
	accountName := flag.String("account-name", "", "tenant display name, alternative to --account-id")
	preview := flag.Bool("preview", false, "list matching conversations without deleting them")
	force := flag.Bool("force", false, "skip the interactive confirmation prompt")
	flag.Parse()

	if err := validateFlags(*phoneFlag, *accountID, *accountName); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Printf("error: connect to postgres: %v\n", err)
		os.Exit(2)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	accounts := tenancy.NewRepository(sqlDB)
	store := conversation.NewStore(sqlDB, time.Duration(cfg.ConversationTTLHours)*time.Hour, cfg.MaxConversationMessages)

	var account *tenancy.Account
	if *accountID != "" {
		account, err = accounts.GetByID(ctx, *accountID)
	} else {
		account, err = accounts.GetByDisplayName(ctx, *accountName)
	}
	if err != nil {
		fmt.Printf("error: resolve account: %v\n", err)
		os.Exit(2)
	}

	canonical := phone.Canonicalize(*phoneFlag)
	if canonical == "" {
		fmt.Printf("error: could not canonicalize phone %q\n", *phoneFlag)
		os.Exit(2)
	}

	matches, err := store.ListByPhone(ctx, account.ID, canonical)
	if err != nil {
		fmt.Printf("error: list conversations: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Found %d conversation(s) for %s under account %s (%s):\n", len(matches), canonical, account.ID, account.DisplayName)
	for _, c := range matches {
		fmt.Printf("  - %s  status=%s  messages=%d  started=%s\n", c.Key, c.Status, c.MessageCount, c.StartedAt.Format(time.RFC3339))
	}
	if len(matches) == 0 {
		os.Exit(0)
	}
	if *preview {
		os.Exit(0)
	}

	if !*force {
		fmt.Printf("Delete all %d conversation(s) above? [y/N]: ", len(matches))
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if !confirmed(answer) {
			fmt.Println("aborted")
			os.Exit(0)
		}
	}

	deleted, err := store.DeleteByPhone(ctx, account.ID, canonical)
	if err != nil {
		fmt.Printf("error: delete conversations: %v\n", err)
		os.Exit(2)
	}
	logger.Info("delete-conversations: deleted conversations", "account_id", account.ID, "phone", canonical, "count", deleted)
	fmt.Printf("Deleted %d conversation(s).\n", deleted)
}

// validateFlags enforces spec.md §6's flag contract: --phone is required,
// and exactly one of --account-id/--account-name identifies the tenant.
func validateFlags(phone, accountID, accountName string) error {
	if strings.TrimSpace(phone) == "" {
		return errors.New("--phone is required")
	}
	if accountID == "" && accountName == "" {
		return errors.New("exactly one of --account-id or --account-name is required")
	}
	if accountID != "" && accountName != "" {
		return errors.New("exactly one of --account-id or --account-name is required")
	}
	return nil
}

// confirmed reports whether a line read from the interactive [y/N] prompt
// counts as a yes.
func confirmed(answer string) bool {
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
