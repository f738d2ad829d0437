package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端包装器，所有键都带有前缀
type Client struct {
	rdb    *redis.Client
	prefix string
}

// NewClient 创建新的Redis客户端并测试连接
func NewClient(addr, password string, db int, prefix string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	client := &Client{rdb: rdb, prefix: prefix}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		rdb.Close()
		return nil, err
	}

	return client, nil
}

// Ping 测试连接
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetWithExpiration 设置键值对（带过期时间）
func (c *Client) SetWithExpiration(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.rdb.Set(ctx, c.prefix+key, value, expiration).Err()
}

// GetBytes 获取字节数组值，键不存在时返回 nil, false
func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Del 删除键
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.prefix + k
	}
	return c.rdb.Del(ctx, prefixed...).Result()
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	return c.rdb.Close()
}
