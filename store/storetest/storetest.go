// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/debugsession-go/store"
)

// Factory creates a fresh store for one subtest.
type Factory func(t *testing.T) store.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("EmptyValueIsPresent", func(t *testing.T) { testEmptyValue(t, factory) })
	t.Run("KeysAreIndependent", func(t *testing.T) { testIndependentKeys(t, factory) })
	t.Run("ReturnedBytesAreCopies", func(t *testing.T) { testCopies(t, factory) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, factory) })
}

func key(t *testing.T, name string) string {
	return fmt.Sprintf("storetest:%s:%d", name, time.Now().UnixNano())
}

func mustGet(t *testing.T, s store.Store, k string) ([]byte, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), k)
	if err != nil {
		t.Fatalf("Get(%q): %v", k, err)
	}
	return v, ok
}

func mustSet(t *testing.T, s store.Store, k string, v []byte) {
	t.Helper()
	if err := s.Set(context.Background(), k, v); err != nil {
		t.Fatalf("Set(%q): %v", k, err)
	}
}

func testGetMissing(t *testing.T, factory Factory) {
	s := factory(t)
	if v, ok := mustGet(t, s, key(t, "missing")); ok || v != nil {
		t.Fatalf("missing key returned (%q, %v)", v, ok)
	}
}

func testSetAndGet(t *testing.T, factory Factory) {
	s := factory(t)
	k := key(t, "set")
	mustSet(t, s, k, []byte(`{"id":"abc"}`))
	v, ok := mustGet(t, s, k)
	if !ok || string(v) != `{"id":"abc"}` {
		t.Fatalf("got (%q, %v)", v, ok)
	}
}

func testOverwrite(t *testing.T, factory Factory) {
	s := factory(t)
	k := key(t, "overwrite")
	mustSet(t, s, k, []byte("first"))
	mustSet(t, s, k, []byte("second"))
	if v, _ := mustGet(t, s, k); string(v) != "second" {
		t.Fatalf("got %q", v)
	}
}

func testEmptyValue(t *testing.T, factory Factory) {
	s := factory(t)
	k := key(t, "empty")
	mustSet(t, s, k, []byte("something"))
	mustSet(t, s, k, nil)
	v, ok := mustGet(t, s, k)
	if !ok {
		t.Fatal("empty value should be present")
	}
	if len(v) != 0 {
		t.Fatalf("got %q, want empty", v)
	}
}

func testIndependentKeys(t *testing.T, factory Factory) {
	s := factory(t)
	a, b := key(t, "a"), key(t, "b")
	mustSet(t, s, a, []byte("A"))
	mustSet(t, s, b, []byte("B"))
	if v, _ := mustGet(t, s, a); string(v) != "A" {
		t.Fatalf("a = %q", v)
	}
	if v, _ := mustGet(t, s, b); string(v) != "B" {
		t.Fatalf("b = %q", v)
	}
}

func testCopies(t *testing.T, factory Factory) {
	s := factory(t)
	k := key(t, "copy")
	in := []byte("original")
	mustSet(t, s, k, in)
	in[0] = 'X'
	v, _ := mustGet(t, s, k)
	if string(v) != "original" {
		t.Fatalf("store aliased caller slice: %q", v)
	}
	v[0] = 'Y'
	again, _ := mustGet(t, s, k)
	if !bytes.Equal(again, []byte("original")) {
		t.Fatalf("store returned aliased slice: %q", again)
	}
}

func testConcurrentWriters(t *testing.T, factory Factory) {
	s := factory(t)
	k := key(t, "concurrent")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Set(context.Background(), k, []byte(fmt.Sprintf("v%02d", i)))
		}(i)
	}
	wg.Wait()
	v, ok := mustGet(t, s, k)
	if !ok || len(v) != 3 || v[0] != 'v' {
		t.Fatalf("after concurrent writes got (%q, %v)", v, ok)
	}
}
