package postgres

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()
	if !IsUniqueViolation(errors.Wrap(&pgconn.PgError{Code: "23505"}, "insert")) {
		t.Fatal("23505 not classified as unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "42P01"}) {
		t.Fatal("42P01 classified as unique violation")
	}
	if IsUniqueViolation(errors.New("plain")) {
		t.Fatal("plain error classified as unique violation")
	}
}

func TestIdent(t *testing.T) {
	t.Parallel()
	if got := ident("column_1_city"); got != `"column_1_city"` {
		t.Fatalf("ident = %s", got)
	}
	if got := ident(`we"ird`); got != `"we""ird"` {
		t.Fatalf("ident = %s", got)
	}
}
