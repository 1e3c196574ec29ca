package redis

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// AnswerLoader resolves correct option ids from the backing store.
type AnswerLoader interface {
	CorrectOptionIDs(ctx context.Context, questionID string) ([]string, error)
}

// AnswerCache keeps each question's correct-option-id set in a Redis set
// (SADD quiz:question:{id}:answers) and falls back to the loader on a miss.
// Multi-select grading reads this on every submission, so the hot path never
// touches the database.
type AnswerCache struct {
	client *redis.Client
	loader AnswerLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewAnswerCache(client *redis.Client, loader AnswerLoader, ttl time.Duration) *AnswerCache {
	return &AnswerCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *AnswerCache) CorrectOptionIDs(ctx context.Context, questionID string) ([]string, error) {
	key := c.key(questionID)

	ids, err := c.client.SMembers(ctx, key).Result()
	if err == nil && len(ids) > 0 {
		sort.Strings(ids)
		return ids, nil
	}

	result, err, _ := c.sf.Do(questionID, func() (interface{}, error) {
		// Re-check in case another goroutine filled the key.
		ids, err := c.client.SMembers(ctx, key).Result()
		if err == nil && len(ids) > 0 {
			sort.Strings(ids)
			return ids, nil
		}

		ids, err = c.loader.CorrectOptionIDs(ctx, questionID)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			pipe := c.client.Pipeline()
			members := make([]interface{}, len(ids))
			for i, id := range ids {
				members[i] = id
			}
			pipe.SAdd(ctx, key, members...)
			if ttl := c.ttlWithJitter(); ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
			_, _ = pipe.Exec(ctx)
		}
		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		return sorted, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (c *AnswerCache) key(questionID string) string {
	return "quiz:question:" + questionID + ":answers"
}

func (c *AnswerCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
