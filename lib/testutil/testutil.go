package testutil

import (
	"context"
	"fmt"
	"testing"
	"wisppos-backend/lib/kvstore"
	"wisppos-backend/lib/telemetry"
)

type ServiceParams struct {
	Name string
	// Sqlite backs the store with an in-memory sqlite database instead of
	// the plain memory store.
	Sqlite bool
}

type ServiceResult struct {
	Store kvstore.Store
}

// SetupService sets up telemetry for the test and gives it a fresh store,
// the returned function releases both.
func SetupService(t testing.TB, params ServiceParams) (ServiceResult, func()) {
	cleanup := telemetry.SetupForTesting(fmt.Sprintf("test:%s", params.Name))

	if !params.Sqlite {
		return ServiceResult{Store: kvstore.NewMemoryStore()}, cleanup
	}

	db, err := kvstore.OpenSqliteFile(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	store, err := kvstore.NewSqliteStore(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	return ServiceResult{Store: store}, func() {
		store.Close()
		cleanup()
	}
}
