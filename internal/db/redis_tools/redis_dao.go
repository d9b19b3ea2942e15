package redis_tools

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type RedisDao struct {
	client *redis.Client
}

// NewRedisDao wraps client, falling back to the shared client from InitRedis.
func NewRedisDao(client *redis.Client) *RedisDao {
	if client == nil {
		client = RDB()
	}
	return &RedisDao{
		client: client,
	}
}

func (rd *RedisDao) Client() *redis.Client {
	return rd.client
}

/*
	数据获取：
		val, err := redis.XXCommand().Result()

	错误处理：
	go-redis get操作，res.Result() 返回数据和错误
	1. 数据不存在，err != nil && err == redis.Nil
	2. 其他错误，err != nil && err != redis.Nil
*/

//
// =======================
// 字符串（String）
// =======================
//

// 若key不存在，err = redis.Nil
func (rd *RedisDao) Get(ctx context.Context, key string) (string, error) {
	return rd.client.Get(ctx, key).Result()
}

// 不存在的 key 在结果中对应 nil
func (rd *RedisDao) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return rd.client.MGet(ctx, keys...).Result()
}

//
// =======================
// 哈希（Hash）
// =======================
//

// 查不到返回空的map，err = nil
func (rd *RedisDao) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return rd.client.HGetAll(ctx, key).Result()
}

func (rd *RedisDao) HSetNX(ctx context.Context, key, field string, value interface{}) (bool, error) {
	return rd.client.HSetNX(ctx, key, field, value).Result()
}

//
// =======================
// 有序集合（Sorted Set）
// =======================
//

// 根据分数区间获取成员
func (rd *RedisDao) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) ([]string, error) {
	return rd.client.ZRangeByScore(ctx, key, opt).Result()
}

func (rd *RedisDao) ZRem(ctx context.Context, key string, members ...interface{}) (int64, error) {
	return rd.client.ZRem(ctx, key, members...).Result()
}

//
// =======================
// 无序集合（Set）
// =======================
//

// 向集合中添加元素，返回实际添加的元素个数
func (rd *RedisDao) SAdd(ctx context.Context, key string, members ...interface{}) (int64, error) {
	return rd.client.SAdd(ctx, key, members...).Result()
}

// 从集合中删除元素，返回被删除元素的个数，不存在返回0
func (rd *RedisDao) SRem(ctx context.Context, key string, members ...interface{}) (int64, error) {
	return rd.client.SRem(ctx, key, members...).Result()
}

// key不存在时返回空slice
func (rd *RedisDao) SMembers(ctx context.Context, key string) ([]string, error) {
	return rd.client.SMembers(ctx, key).Result()
}

func (rd *RedisDao) SUnion(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return rd.client.SUnion(ctx, keys...).Result()
}

//
// =======================
// 列表（List）
// =======================
//

func (rd *RedisDao) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return rd.client.LRange(ctx, key, start, stop).Result()
}

//
// =======================
// 事务 / 脚本 / 发布订阅
// =======================
//

// TxPipe 返回 MULTI/EXEC 管道
func (rd *RedisDao) TxPipe() redis.Pipeliner {
	return rd.client.TxPipeline()
}

func (rd *RedisDao) Publish(ctx context.Context, channel string, message interface{}) error {
	return rd.client.Publish(ctx, channel, message).Err()
}

func (rd *RedisDao) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return rd.client.Subscribe(ctx, channels...)
}
