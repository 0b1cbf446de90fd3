package main

import (
	"context"
	"testing"
	"time"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	logger := logging.New("error")
	if pool := connectPostgresPool(context.Background(), "", logger); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
}

func TestConnectSQLDBNilPoolReturnsNil(t *testing.T) {
	logger := logging.New("error")
	if db := connectSQLDB(nil, logger); db != nil {
		t.Fatalf("expected nil db for nil pool")
	}
}

func TestRunConversationPurgeLoopStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.New("error")

	done := make(chan struct{})
	go func() {
		runConversationPurgeLoop(ctx, nil, nil, logger)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runConversationPurgeLoop did not stop after context cancel")
	}
}
