package httpds

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNameFromURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"https://host/exports/part-0001.csv.gz?sig=abc", "part-0001.csv.gz"},
		{"http://host/a%20b.csv", "a b.csv"},
		{"https://host/", ""},
		{"https://host", ""},
	}
	for _, tt := range tests {
		got := NameFromURL(tt.in)
		if tt.want == "" {
			if !strings.HasPrefix(got, "url-") || len(got) != len("url-")+16 {
				t.Errorf("NameFromURL(%q) = %q, want a url- hash", tt.in, got)
			}
			if NameFromURL(tt.in) != got {
				t.Errorf("NameFromURL(%q) is not stable", tt.in)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("NameFromURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSibling(t *testing.T) {
	t.Parallel()
	got, err := Sibling("https://host/exports/part-0001.csv?sig=abc", "columns.csv")
	if err != nil {
		t.Fatalf("Sibling() error = %v", err)
	}
	if want := "https://host/exports/columns.csv?sig=abc"; got != want {
		t.Fatalf("Sibling() = %q, want %q", got, want)
	}
}

func TestRemoteOpen(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "A;X\nB;Y\n")
	}))
	defer srv.Close()

	r := NewRemote(fastClient(0), srv.URL+"/data/part-1.csv", "")
	if r.Name() != "part-1.csv" {
		t.Fatalf("Name() = %q", r.Name())
	}
	rc, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil || string(b) != "A;X\nB;Y\n" {
		t.Fatalf("body = %q, err = %v", b, err)
	}
}
