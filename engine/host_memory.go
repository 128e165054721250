package engine

import (
	"sync"
	"time"
)

// hostEntry stores the strategy that last succeeded for a host.
type hostEntry struct {
	strategy  string
	expiresAt time.Time
}

// HostMemory remembers which strategy last cleared each host so a sticky
// session can try it first. Entries expire after the TTL and are pruned by
// a background goroutine.
type HostMemory struct {
	store sync.Map // host (string) -> *hostEntry
	ttl   time.Duration
	done  chan struct{}
	once  sync.Once
}

// NewHostMemory creates a HostMemory and starts its prune loop.
func NewHostMemory(ttl time.Duration) *HostMemory {
	hm := &HostMemory{
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go hm.cleanupLoop(pruneInterval(ttl))
	return hm
}

// Get returns the remembered strategy for host, or "" if none or expired.
func (hm *HostMemory) Get(host string) string {
	val, ok := hm.store.Load(host)
	if !ok {
		return ""
	}
	entry := val.(*hostEntry)
	if time.Now().After(entry.expiresAt) {
		hm.store.Delete(host)
		return ""
	}
	return entry.strategy
}

// Set records the strategy that succeeded for host.
func (hm *HostMemory) Set(host, strategy string) {
	hm.store.Store(host, &hostEntry{
		strategy:  strategy,
		expiresAt: time.Now().Add(hm.ttl),
	})
}

// Delete forgets host.
func (hm *HostMemory) Delete(host string) {
	hm.store.Delete(host)
}

// Stop terminates the prune loop. It is safe to call more than once.
func (hm *HostMemory) Stop() {
	hm.once.Do(func() { close(hm.done) })
}

func (hm *HostMemory) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-hm.done:
			return
		case <-ticker.C:
			now := time.Now()
			hm.store.Range(func(key, value any) bool {
				if now.After(value.(*hostEntry).expiresAt) {
					hm.store.Delete(key)
				}
				return true
			})
		}
	}
}

func pruneInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > time.Hour {
		return time.Hour
	}
	return ttl
}
