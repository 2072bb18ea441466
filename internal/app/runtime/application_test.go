package runtime

import (
	"io"
	"testing"

	"github.com/trackfolio/backend/internal/config"
	"github.com/trackfolio/backend/pkg/logger"
)

func quietLog() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

func TestBuildStoresFallsBackToMemory(t *testing.T) {
	cfg := &config.Config{}

	stores, db, err := buildStores(cfg, quietLog())
	if err != nil {
		t.Fatalf("build stores: %v", err)
	}
	if db != nil {
		t.Fatalf("expected no database handle without a DSN")
	}
	if stores.Prices == nil || stores.Rates == nil || stores.Assets == nil || stores.Users == nil || stores.Sessions == nil {
		t.Fatalf("expected every store to be populated: %+v", stores)
	}
}

func TestOpenDatabaseRequiresDriver(t *testing.T) {
	if _, err := openDatabase(config.DatabaseConfig{DSN: "postgres://localhost/x"}); err == nil {
		t.Fatalf("expected missing driver to fail")
	}
}
