package database

import (
	"path/filepath"
	"testing"

	"classengage-backend/internal/config"
	"classengage-backend/internal/models"
)

func TestConnectSQLiteAndMigrate(t *testing.T) {
	cfg := &config.Config{DBDriver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "engage.db")}
	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []interface{}{&models.Session{}, &models.Response{}, &models.Connection{}, &models.SessionSnapshot{}} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("missing table for %T", table)
		}
	}
	if !db.Migrator().HasIndex(&models.Response{}, "idx_response_unique") {
		t.Error("response uniqueness index missing")
	}
}

func TestConnectRejectsUnknownDriver(t *testing.T) {
	if _, err := Connect(&config.Config{DBDriver: "oracle"}); err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
}
