package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 【用途】
//
// 多实例部署时，每个实例都会跑生命周期扫描和开奖补偿任务。
// 扫描本身是幂等的（条件更新 WHERE state = ?），重复执行不会出错，
// 但同一时刻只需要一个实例在扫，锁只用来省掉重复的数据库扫描。
//
// 因此：
//   - 拿不到锁 = 别的实例正在做，直接跳过本轮
//   - Redis 不可用或未启用 = 不加锁照常执行，正确性由条件写入保证
//
// 【实现】
//
// 加锁：SET key value NX PX ttl
// 释放：Lua 脚本比较 value 后再 DEL，避免锁过期后误删别人的锁
//
// ============================================================================

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁持有者标识
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁，client 为 nil 时所有加锁操作直接成功
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// RunExclusive 拿到锁才执行 fn；锁被占用返回 (false, nil)。
// Redis 出错时降级为不加锁执行。
func (l *DistributedLock) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	ok, err := l.TryLock(ctx)
	if err != nil {
		return true, fn(ctx)
	}
	if !ok {
		return false, nil
	}
	defer l.Unlock(context.Background())
	return true, fn(ctx)
}

// NewSweepLock 生命周期扫描锁，全局一把
func NewSweepLock(client *redis.Client, owner string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, "raffle:lock:sweep", owner, ttl)
}

// NewDrawLock 开奖锁，按抽奖维度
func NewDrawLock(client *redis.Client, raffleID, owner string) *DistributedLock {
	key := fmt.Sprintf("raffle:lock:draw:%s", raffleID)
	return NewDistributedLock(client, key, owner, time.Minute)
}
