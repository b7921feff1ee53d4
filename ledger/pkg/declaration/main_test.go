package declaration_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	apitesting "github.com/givestake/ledger/api/testing"
	ledgertesting "github.com/givestake/ledger/utils/pkg/testing"
)

var (
	testDB  *apitesting.DB
	testLog *slog.Logger
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	testLog = ledgertesting.NewLogger()

	var err error
	testDB, err = apitesting.NewDB(ctx, testLog, nil)
	if err != nil {
		slog.Error("failed to start PostgreSQL container", "error", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	os.Exit(code)
}
