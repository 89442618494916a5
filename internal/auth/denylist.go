package auth

import (
	"sync"
	"time"
)

// MemoryDenylist is a process-local Denylist. Entries are dropped once the
// token they refer to would have expired anyway.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryDenylist returns an empty denylist.
func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{entries: make(map[string]time.Time), now: time.Now}
}

// Revoke records jti as revoked until the given time.
func (d *MemoryDenylist) Revoke(jti string, until time.Time) {
	if jti == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweepLocked()
	if !until.After(d.now()) {
		return
	}
	d.entries[jti] = until
}

// Revoked reports whether jti is currently revoked.
func (d *MemoryDenylist) Revoked(jti string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.entries[jti]
	if !ok {
		return false
	}
	if !until.After(d.now()) {
		delete(d.entries, jti)
		return false
	}
	return true
}

// Len returns the number of live entries.
func (d *MemoryDenylist) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweepLocked()
	return len(d.entries)
}

func (d *MemoryDenylist) sweepLocked() {
	now := d.now()
	for jti, until := range d.entries {
		if !until.After(now) {
			delete(d.entries, jti)
		}
	}
}
