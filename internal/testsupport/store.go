package testsupport

import (
	"testing"

	"cratemind/internal/config"
	"cratemind/internal/store/memstore"
	"cratemind/internal/store/sqlstore"
)

// MustOpenStore opens a sqlstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// NewMemStore returns an in-memory repository closed at test cleanup.
func NewMemStore(t testing.TB) *memstore.Store {
	t.Helper()
	s := memstore.New()
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}
