package executor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ignite/caseyos/internal/store"
)

// SuppressionCache is an in-memory Bloom filter sitting in front of the
// Contact suppression check: every executor.Execute
// call would otherwise round-trip the repository purely to answer "is
// this email suppressed", and the overwhelming majority of recipients
// are not. A negative answer from the filter is exact; a positive
// answer still falls back to the repository, so false positives only
// cost an extra lookup and never let a suppressed send through.
type SuppressionCache struct {
	mu        sync.RWMutex
	bitArray  []uint64
	size      uint64
	hashCount uint
	loadedAt  time.Time
}

// NewSuppressionCache sizes the filter for expectedElements at roughly a
// 1% false-positive rate.
func NewSuppressionCache(expectedElements uint64) *SuppressionCache {
	m := expectedElements * 10
	if m == 0 {
		m = 1024
	}
	return &SuppressionCache{
		bitArray:  make([]uint64, (m+63)/64),
		size:      m,
		hashCount: 7,
	}
}

func (c *SuppressionCache) hash(element string, seed uint) uint64 {
	h := uint64(seed)*0x9e3779b97f4a7c15 + 1
	for i := 0; i < len(element); i++ {
		h ^= uint64(element[i])
		h *= 0x517cc1b727220a95
	}
	return h
}

func (c *SuppressionCache) add(email string) {
	lower := strings.ToLower(strings.TrimSpace(email))
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := uint(0); i < c.hashCount; i++ {
		idx := c.hash(lower, i) % c.size
		c.bitArray[idx/64] |= 1 << (idx % 64)
	}
}

// MightContain reports whether email may be suppressed. false is exact;
// true requires a repository check to confirm.
func (c *SuppressionCache) MightContain(email string) bool {
	lower := strings.ToLower(strings.TrimSpace(email))
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := uint(0); i < c.hashCount; i++ {
		idx := c.hash(lower, i) % c.size
		if c.bitArray[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// Refresh rebuilds the filter from the suppression repository. Callers
// run this on a timer (e.g. every few minutes) since the filter cannot
// remove entries once added.
func (c *SuppressionCache) Refresh(ctx context.Context, contacts store.Contacts) error {
	emails, err := contacts.ListSuppressed(ctx)
	if err != nil {
		return err
	}
	fresh := NewSuppressionCache(uint64(len(emails)) + 1)
	for _, e := range emails {
		fresh.add(e)
	}
	c.mu.Lock()
	c.bitArray, c.size, c.hashCount, c.loadedAt = fresh.bitArray, fresh.size, fresh.hashCount, time.Now().UTC()
	c.mu.Unlock()
	return nil
}

// RunRefresh refreshes on the given interval until ctx is cancelled.
func (c *SuppressionCache) RunRefresh(ctx context.Context, contacts store.Contacts, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx, contacts)
		}
	}
}
