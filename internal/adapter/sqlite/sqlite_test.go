package sqlite_test

import (
	"testing"

	"github.com/neomorfeo/subiq/internal/adapter/sqlite"
)

// newTestStore opens an in-memory database with migrations applied.
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
