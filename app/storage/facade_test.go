package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type failingStore struct {
	failAfter int
	calls     int
	backing   *MemoryStore
}

func (s *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.broken() {
		return "", false, errors.New("store offline")
	}
	return s.backing.Get(ctx, key)
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if s.broken() {
		return errors.New("store offline")
	}
	return s.backing.Set(ctx, key, value)
}

func (s *failingStore) Remove(ctx context.Context, key string) error {
	if s.broken() {
		return errors.New("store offline")
	}
	return s.backing.Remove(ctx, key)
}

func (s *failingStore) broken() bool {
	s.calls++
	return s.calls > s.failAfter
}

func TestFacadeRoundTrip(t *testing.T) {
	f := NewFacade(NewMemoryStore(), nil)

	f.Set("k1", "v1")
	value, ok := f.Get("k1")
	if !ok || value != "v1" {
		t.Fatalf("expected v1, got %q ok=%v", value, ok)
	}

	f.Remove("k1")
	if _, ok := f.Get("k1"); ok {
		t.Fatal("expected key removed")
	}
}

func TestFacadeDegradesSilentlyAndLogsOnce(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := &failingStore{failAfter: 1, backing: NewMemoryStore()}
	f := NewFacade(store, logger.WithField("module", "storage"))

	f.Set("k1", "v1")
	// Primary is now broken; these must not fail, just land in memory.
	f.Set("k2", "v2")
	f.Set("k3", "v3")
	f.Remove("k3")

	if value, ok := f.Get("k2"); !ok || value != "v2" {
		t.Fatalf("expected fallback read of k2, got %q ok=%v", value, ok)
	}
	if _, ok := f.Get("k3"); ok {
		t.Fatal("expected k3 removed from fallback")
	}

	degradations := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			degradations++
		}
	}
	if degradations != 1 {
		t.Fatalf("expected exactly one degradation warning, got %d", degradations)
	}
}

func TestFacadeNilPrimaryStartsDegraded(t *testing.T) {
	f := NewFacade(nil, nil)
	f.Set("k", "v")
	if value, ok := f.Get("k"); !ok || value != "v" {
		t.Fatalf("expected in-memory value, got %q ok=%v", value, ok)
	}
}
