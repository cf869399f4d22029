package migrate

import (
	"path/filepath"
	"runtime"
	"testing"
)

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate caller")
	}
	return filepath.Join(filepath.Dir(file), "migrations")
}

func TestValidateDirAcceptsShippedMigrations(t *testing.T) {
	if err := ValidateDir(migrationsDir(t)); err != nil {
		t.Fatalf("shipped migrations failed validation: %v", err)
	}
}

func TestCreateSQLMigrationRejectsEmptyName(t *testing.T) {
	if _, err := CreateSQLMigration(t.TempDir(), ""); err == nil {
		t.Fatal("expected error for empty name")
	}
}
