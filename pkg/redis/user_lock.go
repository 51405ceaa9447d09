package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaReleaseLockIfMatch 仅当锁值匹配持有者 token 时才删除，避免租约过期后误删别人的锁。
const luaReleaseLockIfMatch = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

var releaseLockScript = rd.NewScript(luaReleaseLockIfMatch)

// ErrLockNotHeld 释放时发现锁已不属于当前持有者（租约过期或被他人持有）。
var ErrLockNotHeld = errors.New("lock not held")

// LockHandle 一次成功加锁的凭证，释放时必须原样交回。
type LockHandle struct {
	Key   string
	Token string
}

// UserLock 基于 SET NX PX 的分布式互斥锁。
// 只尝试一次，不排队等待；租约兜底持有者崩溃后的自动释放。
type UserLock struct {
	rdb rd.UniversalClient
}

func NewUserLock(rdb rd.UniversalClient) *UserLock {
	return &UserLock{rdb: rdb}
}

// TryAcquire 尝试加锁，已被持有时立即返回 false。
func (l *UserLock) TryAcquire(ctx context.Context, key string, lease time.Duration) (LockHandle, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, lease).Result()
	if err != nil {
		return LockHandle{}, false, unavailable("lock acquire", err)
	}
	if !ok {
		return LockHandle{}, false, nil
	}
	return LockHandle{Key: key, Token: token}, true, nil
}

// Release 安全释放锁。
func (l *UserLock) Release(ctx context.Context, h LockHandle) error {
	n, err := releaseLockScript.Run(ctx, l.rdb, []string{h.Key}, h.Token).Int()
	if err != nil {
		return unavailable("lock release", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
