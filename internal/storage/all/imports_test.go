package all

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"datadict/internal/storage"
)

func TestAllKindsRegistered(t *testing.T) {
	t.Parallel()
	want := []string{"bolt", "mssql", "mysql", "postgres", "sqlite"}
	if diff := cmp.Diff(want, storage.Kinds()); diff != "" {
		t.Fatalf("kinds (-want +got):\n%s", diff)
	}
}
