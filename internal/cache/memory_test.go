package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "eta:1", []byte("3600"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, ok, err := m.Get(ctx, "eta:1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(value) != "3600" {
		t.Errorf("Get() value = %q, want %q", value, "3600")
	}
}

func TestMemoryGetMissing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "eta:404")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true for missing key, want false")
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "eta:2", []byte("60"), time.Nanosecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, ok, err := m.Get(ctx, "eta:2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true for expired key, want false")
	}
	if m.Size() != 0 {
		t.Errorf("Size() = %d after expiry, want 0", m.Size())
	}
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "setting:preemption", []byte("true"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	_, ok, err := m.Get(ctx, "setting:preemption")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Error("Get() ok = false for zero-TTL key, want true")
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "eta:3", []byte("10"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := m.Delete(ctx, "eta:3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, ok, err := m.Get(ctx, "eta:3")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true after Delete(), want false")
	}
}

func TestMemoryOverwrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "eta:4", []byte("100"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := m.Set(ctx, "eta:4", []byte("200"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, ok, err := m.Get(ctx, "eta:4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(value) != "200" {
		t.Errorf("Get() value = %q, want %q", value, "200")
	}
}
