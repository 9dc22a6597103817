package memory

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p := New()

	if _, ok, err := p.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing): ok=%v err=%v", ok, err)
	}

	ok, err := p.Set(ctx, "k", []byte("v1"), 2, 0)
	if err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("Get: got=%q ok=%v err=%v", got, ok, err)
	}

	// overwrite in place
	if _, err := p.Set(ctx, "k", []byte("v2"), 2, 0); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, _ = p.Get(ctx, "k")
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("after overwrite: %q", got)
	}

	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("key survived Del")
	}
	// deleting an absent key is a no-op
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del(absent): %v", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	p := New()

	if _, err := p.Set(ctx, "short", []byte("x"), 1, 20*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := p.Set(ctx, "forever", []byte("y"), 1, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, ok, _ := p.Get(ctx, "short"); !ok {
		t.Fatalf("entry expired before its TTL")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := p.Get(ctx, "short"); ok {
		t.Fatalf("entry visible past its TTL")
	}
	if _, ok, _ := p.Get(ctx, "forever"); !ok {
		t.Fatalf("zero TTL must mean no expiry")
	}

	// the expired read reaped the entry
	if n := p.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestCloseDropsEntries(t *testing.T) {
	ctx := context.Background()
	p := New()

	_, _ = p.Set(ctx, "k", []byte("v"), 1, 0)
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("entry survived Close")
	}
}
