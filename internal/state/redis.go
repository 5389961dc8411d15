package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"f1-poller/internal/model"

	"github.com/redis/go-redis/v9"
)

// RedisOpts 는 RedisStore 연결 설정.
type RedisOpts struct {
	Addr, Password, Key string
	DB                  int
	Timeout             time.Duration
}

// RedisStore
//
// Redis key 하나에 PollState JSON 을 저장한다.
// SSM 과 달리 lease 를 지원한다 (<key>:lease, SET NX PX).
type RedisStore struct {
	rdb      redis.Cmdable
	key      string
	leaseKey string
	timeout  time.Duration
}

// release 는 값이 owner 와 같을 때만 lease 를 지운다.
// 만료 후 다른 invocation 이 잡은 lease 를 지우지 않기 위함.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisStore(o RedisOpts) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.Timeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})
	return newRedisStore(rdb, o.Key, o.Timeout)
}

func newRedisStore(rdb redis.Cmdable, key string, timeout time.Duration) *RedisStore {
	return &RedisStore{
		rdb:      rdb,
		key:      key,
		leaseKey: key + ":lease",
		timeout:  timeout,
	}
}

func (r *RedisStore) Load(ctx context.Context) (*model.PollState, error) {
	ctx2, cancel := r.withTimeout(ctx)
	defer cancel()

	raw, err := r.rdb.Get(ctx2, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	return decode(raw)
}

func (r *RedisStore) Save(ctx context.Context, st *model.PollState) error {
	raw, err := encode(st)
	if err != nil {
		return err
	}

	ctx2, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.rdb.Set(ctx2, r.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisStore) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ctx2, cancel := r.withTimeout(ctx)
	defer cancel()

	ok, err := r.rdb.SetNX(ctx2, r.leaseKey, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lease %s: %w", r.leaseKey, err)
	}
	return ok, nil
}

func (r *RedisStore) Release(ctx context.Context, owner string) error {
	ctx2, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := release.Run(ctx2, r.rdb, []string{r.leaseKey}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release %s: %w", r.leaseKey, err)
	}
	return nil
}

// Close 는 NewRedisStore 로 만든 연결을 닫는다.
func (r *RedisStore) Close() error {
	if c, ok := r.rdb.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}

func (r *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
