package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rootp1/Tapp/utils"
)

// Locker 保证同一个支付意图同一时间只有一个验证在进行
type Locker interface {
	// TryLock 返回 release；已被占用时返回 ErrVerificationInProgress
	TryLock(ctx context.Context, key string) (release func(), err error)
}

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 多实例部署时使用
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{client: client, prefix: "tapp:verify:", ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	token := utils.RandomHex(16)
	k := l.prefix + key
	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVerificationInProgress
	}
	return func() {
		// 请求可能已被取消，释放使用独立的 context
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{k}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			utils.Warn("release verify lock failed", zap.String("key", k), zap.Error(err))
		}
	}, nil
}

// LocalLocker 单实例部署时使用
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrVerificationInProgress
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
