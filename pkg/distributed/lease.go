package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned by Acquire while another holder owns the key.
var ErrLeaseHeld = errors.New("lease is held by another instance")

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)
	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)
)

// Lease is a renewable Redis lock. The key expires after ttl unless the
// holder keeps renewing it, so a crashed holder frees it on its own.
type Lease struct {
	client redis.UniversalClient
	key    string
	holder string
	ttl    time.Duration

	mu      sync.Mutex
	held    bool
	stopRen context.CancelFunc
	lost    func(error)
}

// NewLease creates a lease on key. holder identifies this instance; a random
// value is used when it is empty.
func NewLease(client redis.UniversalClient, key, holder string, ttl time.Duration) *Lease {
	if holder == "" {
		holder = randomHolder()
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Lease{client: client, key: key, holder: holder, ttl: ttl}
}

func randomHolder() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// OnLost registers a callback invoked when renewal finds the key owned by
// someone else or gone.
func (l *Lease) OnLost(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lost = fn
}

// Acquire takes the lease without blocking. Acquiring a lease already held by
// this instance is a no-op.
func (l *Lease) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil
	}
	ok, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return ErrLeaseHeld
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l.held = true
	l.stopRen = cancel
	go l.renew(renewCtx)
	return nil
}

// Release gives the lease up. Only the key written by this holder is deleted.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false
	l.stopRen()

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *Lease) renew(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int64()
			if ctx.Err() != nil {
				return
			}
			if err == nil && n == 1 {
				continue
			}
			if err == nil {
				err = ErrLeaseHeld
			}
			l.markLost(err)
			return
		}
	}
}

func (l *Lease) markLost(err error) {
	l.mu.Lock()
	l.held = false
	lost := l.lost
	l.mu.Unlock()

	if lost != nil {
		lost(err)
	}
}
