package storage

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"

	"datadict/internal/column"
)

func TestRegisterAndNew(t *testing.T) {
	t.Parallel()
	boom := errors.New("connect refused")
	var got Config
	Register("test-registry", func(_ context.Context, cfg Config) (Backend, error) {
		got = cfg
		return nil, boom
	})

	_, err := New(context.Background(), Config{Kind: "Test-Registry", DSN: "dsn"})
	if !errors.Is(err, boom) {
		t.Fatalf("New err = %v, want %v", err, boom)
	}
	if got.DSN != "dsn" {
		t.Fatalf("factory cfg = %+v", got)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Register did not panic")
		}
	}()
	Register("test-registry", nil)
}

func TestNew_UnknownKind(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{Kind: "nosuch"})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
	if len(errors.GetAllHints(err)) == 0 {
		t.Fatal("expected a hint listing registered kinds")
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()
	a := column.NewSet(column.New(1, "b"), column.New(0, "a"))
	b := column.NewSet(column.New(0, "a"), column.New(1, "b"))
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("fingerprint depends on declaration order")
	}
	c := column.NewSet(column.New(0, "a"), column.New(1, "c"))
	if Fingerprint(a) == Fingerprint(c) {
		t.Fatal("fingerprint ignores column names")
	}
}
