package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	p := NewMemoryProvider(10)
	ctx := context.Background()

	if _, err := p.Get(ctx, "absent"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := p.Set(ctx, "k", []byte("value"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := p.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "value" {
		t.Fatalf("got %q, expected %q", got, "value")
	}

	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after delete, got %v", err)
	}
}

func TestMemoryProviderTTL(t *testing.T) {
	p := NewMemoryProvider(10)
	ctx := context.Background()

	if err := p.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := p.Get(ctx, "k"); err != nil {
		t.Fatalf("entry expired too early: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after TTL, got %v", err)
	}
}

func TestMemoryProviderBound(t *testing.T) {
	p := NewMemoryProvider(4)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := p.Set(ctx, fmt.Sprintf("key-%d", i), []byte{byte(i)}, 0); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}
	if got := p.Len(); got > 4 {
		t.Fatalf("provider holds %d entries, bound is 4", got)
	}
}

func TestMemoryProviderCopiesValues(t *testing.T) {
	p := NewMemoryProvider(10)
	ctx := context.Background()

	value := []byte("original")
	if err := p.Set(ctx, "k", value, 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value[0] = 'X'

	got, err := p.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value aliased caller memory: %q", got)
	}

	got[0] = 'Y'
	again, err := p.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(again) != "original" {
		t.Fatalf("returned value aliased cache memory: %q", again)
	}
}

func TestNoopProvider(t *testing.T) {
	p := NoopProvider{}
	ctx := context.Background()

	if err := p.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("noop set failed: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("noop cache must always miss, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("noop close failed: %v", err)
	}
}
