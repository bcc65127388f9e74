package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/pkg/errors"
)

var (
	ErrLockNotAcquired = errors.New(errors.ErrCodeConflict, "redis: lock not acquired")
	ErrLockNotHeld     = errors.New(errors.ErrCodeConflict, "redis: lock not held by this owner")
)

// ─────────────────────────────────────────────────────────────────────────────
// Lock factory
// ─────────────────────────────────────────────────────────────────────────────

// LockFactory builds named mutexes. Workers take one mutex per document so
// a redelivered queue message cannot be processed twice concurrently.
type LockFactory struct {
	client *Client
	logger logging.Logger
}

// NewLockFactory wires a factory over an established client.
func NewLockFactory(client *Client, log logging.Logger) *LockFactory {
	return &LockFactory{client: client, logger: log}
}

// LockOption customizes a single mutex.
type LockOption func(*lockConfig)

// WithLockTTL bounds how long the lock survives a crashed holder.
func WithLockTTL(ttl time.Duration) LockOption {
	return func(c *lockConfig) { c.ttl = ttl }
}

// WithRetryDelay sets the pause between acquisition attempts.
func WithRetryDelay(delay time.Duration) LockOption {
	return func(c *lockConfig) { c.retryDelay = delay }
}

// WithRetryCount caps acquisition attempts before Lock gives up.
func WithRetryCount(count int) LockOption {
	return func(c *lockConfig) { c.retryCount = count }
}

// WithWatchdog keeps the lock alive while a long analysis runs.
func WithWatchdog(enabled bool) LockOption {
	return func(c *lockConfig) { c.watchdogEnabled = enabled }
}

type lockConfig struct {
	ttl              time.Duration
	retryDelay       time.Duration
	retryCount       int
	watchdogEnabled  bool
	watchdogInterval time.Duration
}

// NewMutex creates a mutex identified by name. Each mutex instance carries
// its own fencing token, so only the goroutine that locked it can unlock.
func (f *LockFactory) NewMutex(name string, opts ...LockOption) *Mutex {
	cfg := lockConfig{
		ttl:        30 * time.Second,
		retryDelay: 100 * time.Millisecond,
		retryCount: 30,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.watchdogEnabled && cfg.watchdogInterval == 0 {
		cfg.watchdogInterval = cfg.ttl / 3
	}

	return &Mutex{
		client: f.client,
		name:   name,
		token:  uuid.New().String(),
		config: cfg,
		logger: f.logger,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Mutex
// ─────────────────────────────────────────────────────────────────────────────

// Mutex is a single-holder distributed lock built on SET NX with a fencing
// token. Unlock and Extend verify the token server-side so an expired
// holder cannot release a lock that was re-acquired by someone else.
type Mutex struct {
	client         *Client
	name           string
	token          string
	config         lockConfig
	logger         logging.Logger
	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
}

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func lockKey(name string) string {
	return "defectwise:lock:" + name
}

// Lock blocks until the mutex is acquired, the retry budget is exhausted
// or the context is canceled.
func (m *Mutex) Lock(ctx context.Context) error {
	key := lockKey(m.name)
	for i := 0; i < m.config.retryCount; i++ {
		ok, err := m.client.Underlying().SetNX(ctx, key, m.token, m.config.ttl).Result()
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeCacheError, "redis: acquire lock")
		}
		if ok {
			if m.config.watchdogEnabled {
				m.startWatchdog()
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.config.retryDelay):
		}
	}
	return ErrLockNotAcquired
}

// TryLock attempts a single acquisition without waiting.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	ok, err := m.client.Underlying().SetNX(ctx, lockKey(m.name), m.token, m.config.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "redis: acquire lock")
	}
	if ok && m.config.watchdogEnabled {
		m.startWatchdog()
	}
	return ok, nil
}

// Unlock releases the mutex if this instance still holds it.
func (m *Mutex) Unlock(ctx context.Context) error {
	m.stopWatchdog()
	res, err := unlockScript.Run(ctx, m.client.Underlying(), []string{lockKey(m.name)}, m.token).Result()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "redis: release lock")
	}
	if res.(int64) == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend pushes the expiry out by ttl if this instance still holds the
// mutex.
func (m *Mutex) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	res, err := extendScript.Run(ctx, m.client.Underlying(), []string{lockKey(m.name)}, m.token, ttl.Milliseconds()).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "redis: extend lock")
	}
	return res.(int64) == 1, nil
}

// TTL reports the remaining lifetime of the lock key.
func (m *Mutex) TTL(ctx context.Context) (time.Duration, error) {
	return m.client.Underlying().PTTL(ctx, lockKey(m.name)).Result()
}

func (m *Mutex) startWatchdog() {
	ctx, cancel := context.WithCancel(context.Background())
	m.watchdogCancel = cancel
	m.watchdogDone = make(chan struct{})

	go func() {
		defer close(m.watchdogDone)
		ticker := time.NewTicker(m.config.watchdogInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := m.Extend(ctx, m.config.ttl)
				if err != nil {
					m.logger.Error("lock watchdog failed to extend", logging.String("lock", m.name), logging.Err(err))
					return
				}
				if !ok {
					m.logger.Warn("lock watchdog lost the lock", logging.String("lock", m.name))
					return
				}
			}
		}
	}()
}

func (m *Mutex) stopWatchdog() {
	if m.watchdogCancel != nil {
		m.watchdogCancel()
		<-m.watchdogDone
		m.watchdogCancel = nil
	}
}
