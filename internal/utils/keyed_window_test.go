package utils

import (
	"testing"
	"time"
)

func TestKeyedWindowsIsolatesKeys(t *testing.T) {
	windows := NewKeyedWindows(time.Minute)
	now := time.Now()
	windows.Hit("u1", now)
	if count := windows.Hit("u1", now.Add(time.Second)); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
	if count := windows.Hit("u2", now); count != 1 {
		t.Fatalf("expected 1 for u2, got %d", count)
	}
	windows.Reset("u1")
	if count := windows.Hit("u1", now.Add(2*time.Second)); count != 1 {
		t.Fatalf("expected reset window, got %d", count)
	}
}
