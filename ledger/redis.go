package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCountPrefix  = "report/count/"
	redisBanPrefix    = "report/ban/"
	redisRecentPrefix = "report/recent/"
)

// RedisLedger keys an expiring counter, a ban flag, and a capped recent-report
// list per fingerprint. INCR is atomic, so concurrent reports never undercount
// here; the interface contract still allows backends where they might.
type RedisLedger struct {
	client *redis.Client
	policy Policy
}

func NewRedisLedger(redisURL string, policy Policy) (*RedisLedger, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// check redis connection
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, err
	}

	return &RedisLedger{
		client: rdb,
		policy: policy,
	}, nil
}

func (l *RedisLedger) Increment(ctx context.Context, fp string, rec Record) (int, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}

	countKey := redisCountPrefix + fp
	recentKey := redisRecentPrefix + fp

	// bump the counter, refresh the window, and append the record in a
	// single redis round-trip
	multi := l.client.Pipeline()
	incr := multi.Incr(ctx, countKey)
	multi.Expire(ctx, countKey, l.policy.CountTTL)
	multi.LPush(ctx, recentKey, raw)
	multi.LTrim(ctx, recentKey, 0, int64(l.policy.MaxRecords-1))
	multi.Expire(ctx, recentKey, l.policy.CountTTL)

	if _, err := multi.Exec(ctx); err != nil {
		return 0, err
	}

	count := int(incr.Val())

	if count >= l.policy.Threshold {
		// NX is deliberately not used: re-crossing the threshold restarts
		// the ban clock, and an expired counter never resurrects one.
		if err := l.client.Set(ctx, redisBanPrefix+fp, 1, l.policy.BanTTL).Err(); err != nil {
			return count, err
		}
	}

	return count, nil
}

func (l *RedisLedger) IsShadowBanned(ctx context.Context, fp string) (bool, error) {
	n, err := l.client.Exists(ctx, redisBanPrefix+fp).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (l *RedisLedger) Status(ctx context.Context, fp string) (Status, error) {
	var status Status

	count, err := l.client.Get(ctx, redisCountPrefix+fp).Int()
	if err != nil && err != redis.Nil {
		return status, err
	}
	status.ReportCount = count

	raws, err := l.client.LRange(ctx, redisRecentPrefix+fp, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return status, err
	}

	// stored newest first, replayed oldest first
	for i := len(raws) - 1; i >= 0; i-- {
		var rec Record
		if err := json.Unmarshal([]byte(raws[i]), &rec); err != nil {
			continue
		}
		status.Reports = append(status.Reports, rec)
		status.TotalPoints += rec.Points
	}

	ttl, err := l.client.PTTL(ctx, redisBanPrefix+fp).Result()
	if err != nil {
		return status, err
	}

	switch {
	case ttl > 0:
		status.Banned = true
		until := time.Now().Add(ttl)
		status.UnlockTime = &until
	case ttl == -1:
		// ban key without an expiry; should not happen, but a ban is a ban
		status.Banned = true
	}

	return status, nil
}
