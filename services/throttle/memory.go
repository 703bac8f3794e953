package throttlesvc

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/portal/core"
)

type attempts struct {
	count   int
	expires time.Time
}

// MemoryThrottle counts attempts in process memory (DEV, tests, single instance).
type MemoryThrottle struct {
	maxAttempts int
	window      time.Duration
	now         func() time.Time

	mu   sync.Mutex
	keys map[string]attempts
}

var _ core.Throttle = (*MemoryThrottle)(nil)

func NewMemoryThrottle(maxAttempts int, window time.Duration) *MemoryThrottle {
	return &MemoryThrottle{maxAttempts: maxAttempts, window: window, now: time.Now, keys: make(map[string]attempts)}
}

// get returns the live attempts of key; callers hold mu.
func (t *MemoryThrottle) get(key string) attempts {
	a, ok := t.keys[key]
	if ok && !t.now().Before(a.expires) {
		delete(t.keys, key)
		return attempts{}
	}
	return a
}

func (t *MemoryThrottle) Allowed(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(key).count < t.maxAttempts, nil
}

func (t *MemoryThrottle) Fail(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.get(key)
	if a.count == 0 {
		a.expires = t.now().Add(t.window)
	}
	a.count++
	t.keys[key] = a
	return nil
}

func (t *MemoryThrottle) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	delete(t.keys, key)
	t.mu.Unlock()
	return nil
}
