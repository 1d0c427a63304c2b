package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ggoodman/debugsession-go/store"
	"github.com/ggoodman/debugsession-go/store/storetest"
)

func TestFileStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) store.Store {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return s
	})
}

func TestKeysAreEscaped(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := s.Set(ctx, "../escape/attempt", []byte("x")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || filepath.Dir(filepath.Join(s.Dir(), entries[0].Name())) != s.Dir() {
		t.Fatalf("unexpected layout: %v", entries)
	}
	if v, ok, _ := s.Get(ctx, "../escape/attempt"); !ok || string(v) != "x" {
		t.Fatalf("got (%q, %v)", v, ok)
	}
}

func TestNewRequiresDir(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}
