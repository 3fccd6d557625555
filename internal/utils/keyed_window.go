package utils

import (
	"sync"
	"time"
)

// KeyedWindows keeps one SlidingWindow per key.
type KeyedWindows struct {
	mu      sync.Mutex
	window  time.Duration
	windows map[string]*SlidingWindow
}

func NewKeyedWindows(window time.Duration) *KeyedWindows {
	return &KeyedWindows{window: window, windows: make(map[string]*SlidingWindow)}
}

// Hit records an event for key and returns the number of events inside the window.
func (k *KeyedWindows) Hit(key string, now time.Time) int {
	return k.get(key).Add(now)
}

// Reset forgets every event recorded for key.
func (k *KeyedWindows) Reset(key string) {
	k.mu.Lock()
	delete(k.windows, key)
	k.mu.Unlock()
}

func (k *KeyedWindows) get(key string) *SlidingWindow {
	k.mu.Lock()
	defer k.mu.Unlock()
	window := k.windows[key]
	if window == nil {
		window = NewSlidingWindow(k.window)
		k.windows[key] = window
	}
	return window
}
