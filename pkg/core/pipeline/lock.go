package pipeline

import (
	"context"
	"sync"
	"time"

	"annualreports/pkg/core/errs"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RunLocker allows at most one run per company. Acquire fails fast with
// errs.ErrRunInProgress when the company is already locked.
type RunLocker interface {
	Acquire(ctx context.Context, companyID string) (release func(), err error)
}

// LocalLocker locks companies within this process.
type LocalLocker struct {
	mu     sync.Mutex
	active map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{active: make(map[string]bool)}
}

func (l *LocalLocker) Acquire(_ context.Context, companyID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[companyID] {
		return nil, eris.Wrapf(errs.ErrRunInProgress, "company %s", companyID)
	}
	l.active[companyID] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, companyID)
			l.mu.Unlock()
		})
	}, nil
}

// DefaultLockTTL bounds how long a crashed run can keep a company locked.
const DefaultLockTTL = 2 * time.Hour

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker locks companies across processes sharing one Redis.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, prefix: "annualreports:run:", logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, companyID string) (func(), error) {
	key := l.prefix + companyID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to lock company %s", companyID)
	}
	if !ok {
		return nil, eris.Wrapf(errs.ErrRunInProgress, "company %s", companyID)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("failed to release run lock", zap.String("company", companyID), zap.Error(err))
			}
		})
	}, nil
}
