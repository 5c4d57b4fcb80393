package kvstore

import (
	"bytes"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetDelete(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get([]byte("k1"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("v1")) {
		t.Errorf("expected v1, got %q", got)
	}
	if !s.Has([]byte("k1")) {
		t.Error("Has should report stored key")
	}

	if err := s.Delete([]byte("k1")); err != nil {
		t.Fatal(err)
	}
	if s.Has([]byte("k1")) {
		t.Error("Has should report deleted key as absent")
	}
}

func TestKeysAndDeletePrefix(t *testing.T) {
	s := newTestStore(t)

	for _, k := range []string{"cache/v1/a", "cache/v1/b", "cache/v2/c", "draft/x"} {
		if err := s.Set([]byte(k), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.Keys([]byte("cache/v1/"))
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under cache/v1/, got %d", len(keys))
	}

	if err := s.DeletePrefix([]byte("cache/")); err != nil {
		t.Fatal(err)
	}
	keys, err = s.Keys([]byte("cache/"))
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no cache keys after DeletePrefix, got %d", len(keys))
	}
	if !s.Has([]byte("draft/x")) {
		t.Error("DeletePrefix must not touch other prefixes")
	}
}
