package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"match-service/internal/domain/match"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RankingCache holds the three derived views of the match store: the per-pair
// detail snapshot, the top resumes per job and the recommended jobs per user.
// Nothing in it is authoritative; a miss means "ask the store".
type RankingCache interface {
	GetDetail(ctx context.Context, jobID, resumeID uuid.UUID) (match.Snapshot, bool, error)
	SetDetail(ctx context.Context, jobID, resumeID uuid.UUID, snap match.Snapshot, ttl time.Duration) error
	DeleteDetail(ctx context.Context, jobID, resumeID uuid.UUID) error

	TopForJob(ctx context.Context, jobID uuid.UUID, limit int) ([]match.RankEntry, bool, error)
	UpsertJobRanking(ctx context.Context, jobID, resumeID uuid.UUID, score float64, ttl time.Duration) error
	RemoveFromJobRanking(ctx context.Context, jobID, resumeID uuid.UUID) error
	ClearJobRanking(ctx context.Context, jobID uuid.UUID) error

	RecommendedForUser(ctx context.Context, userID uuid.UUID, limit int) ([]match.RankEntry, bool, error)
	UpsertUserRecommendation(ctx context.Context, userID, jobID uuid.UUID, score float64, ttl time.Duration) error
	RemoveUserRecommendation(ctx context.Context, userID, jobID uuid.UUID) error
	ClearUserRecommendations(ctx context.Context, userID uuid.UUID) error

	// Refresh rewrites every view touched by rec in one step. An unscored
	// record is purged instead.
	Refresh(ctx context.Context, rec match.Record, ttl time.Duration) error
	// Purge removes the pair from every view in one step.
	Purge(ctx context.Context, jobID, resumeID, userID uuid.UUID) error

	Ping(ctx context.Context) error
}

func DetailKey(jobID, resumeID uuid.UUID) string {
	return fmt.Sprintf("match:detail:%s:%s", jobID, resumeID)
}

func JobRankingKey(jobID uuid.UUID) string {
	return fmt.Sprintf("match:job:%s:top", jobID)
}

func UserRecommendationKey(userID uuid.UUID) string {
	return fmt.Sprintf("match:user:%s:recommended", userID)
}

type RedisRankingCache struct {
	redis  *Redis
	logger *zap.Logger
}

func NewRedisRankingCache(r *Redis, logger *zap.Logger) *RedisRankingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRankingCache{redis: r, logger: logger}
}

func (c *RedisRankingCache) GetDetail(ctx context.Context, jobID, resumeID uuid.UUID) (match.Snapshot, bool, error) {
	var snap match.Snapshot
	ok, err := c.redis.GetJSON(ctx, DetailKey(jobID, resumeID), &snap)
	if err != nil || !ok {
		return match.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (c *RedisRankingCache) SetDetail(ctx context.Context, jobID, resumeID uuid.UUID, snap match.Snapshot, ttl time.Duration) error {
	return c.redis.SetJSON(ctx, DetailKey(jobID, resumeID), snap, ttl)
}

func (c *RedisRankingCache) DeleteDetail(ctx context.Context, jobID, resumeID uuid.UUID) error {
	return c.redis.Delete(ctx, DetailKey(jobID, resumeID))
}

func (c *RedisRankingCache) TopForJob(ctx context.Context, jobID uuid.UUID, limit int) ([]match.RankEntry, bool, error) {
	return c.topN(ctx, JobRankingKey(jobID), limit)
}

func (c *RedisRankingCache) UpsertJobRanking(ctx context.Context, jobID, resumeID uuid.UUID, score float64, ttl time.Duration) error {
	return c.zadd(ctx, JobRankingKey(jobID), resumeID, score, ttl)
}

func (c *RedisRankingCache) RemoveFromJobRanking(ctx context.Context, jobID, resumeID uuid.UUID) error {
	return c.zrem(ctx, JobRankingKey(jobID), resumeID)
}

func (c *RedisRankingCache) ClearJobRanking(ctx context.Context, jobID uuid.UUID) error {
	return c.redis.Delete(ctx, JobRankingKey(jobID))
}

func (c *RedisRankingCache) RecommendedForUser(ctx context.Context, userID uuid.UUID, limit int) ([]match.RankEntry, bool, error) {
	return c.topN(ctx, UserRecommendationKey(userID), limit)
}

func (c *RedisRankingCache) UpsertUserRecommendation(ctx context.Context, userID, jobID uuid.UUID, score float64, ttl time.Duration) error {
	return c.zadd(ctx, UserRecommendationKey(userID), jobID, score, ttl)
}

func (c *RedisRankingCache) RemoveUserRecommendation(ctx context.Context, userID, jobID uuid.UUID) error {
	return c.zrem(ctx, UserRecommendationKey(userID), jobID)
}

func (c *RedisRankingCache) ClearUserRecommendations(ctx context.Context, userID uuid.UUID) error {
	return c.redis.Delete(ctx, UserRecommendationKey(userID))
}

func (c *RedisRankingCache) Refresh(ctx context.Context, rec match.Record, ttl time.Duration) error {
	if !rec.Scored() {
		return c.Purge(ctx, rec.JobID, rec.ResumeID, rec.UserID)
	}
	client := c.redis.Client()
	if client == nil {
		return nil
	}

	payload, err := json.Marshal(rec.Snapshot())
	if err != nil {
		return err
	}
	score := rec.OverallScore.Float64()
	jobKey := JobRankingKey(rec.JobID)
	userKey := UserRecommendationKey(rec.UserID)

	_, err = client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, DetailKey(rec.JobID, rec.ResumeID), payload, ttl)
		p.ZAdd(ctx, jobKey, redis.Z{Score: score, Member: rec.ResumeID.String()})
		p.Expire(ctx, jobKey, ttl)
		if rec.IsRecommended {
			p.ZAdd(ctx, userKey, redis.Z{Score: score, Member: rec.JobID.String()})
			p.Expire(ctx, userKey, ttl)
		} else {
			p.ZRem(ctx, userKey, rec.JobID.String())
		}
		return nil
	})
	if err != nil {
		c.redis.warnUnavailableOnce(err)
		return err
	}
	return nil
}

func (c *RedisRankingCache) Purge(ctx context.Context, jobID, resumeID, userID uuid.UUID) error {
	client := c.redis.Client()
	if client == nil {
		return nil
	}
	_, err := client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, DetailKey(jobID, resumeID))
		p.ZRem(ctx, JobRankingKey(jobID), resumeID.String())
		p.ZRem(ctx, UserRecommendationKey(userID), jobID.String())
		return nil
	})
	if err != nil {
		c.redis.warnUnavailableOnce(err)
		return err
	}
	return nil
}

func (c *RedisRankingCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx)
}

func (c *RedisRankingCache) topN(ctx context.Context, key string, limit int) ([]match.RankEntry, bool, error) {
	client := c.redis.Client()
	if client == nil || limit <= 0 {
		return nil, false, nil
	}
	zs, err := client.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		c.redis.warnUnavailableOnce(err)
		return nil, false, err
	}
	if len(zs) == 0 {
		return nil, false, nil
	}

	out := make([]match.RankEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := uuid.Parse(member)
		if err != nil {
			c.logger.Warn("[Cache] skipping malformed ranking member", zap.String("key", key), zap.String("member", member))
			continue
		}
		out = append(out, match.RankEntry{ID: id, Score: z.Score})
	}
	return out, true, nil
}

func (c *RedisRankingCache) zadd(ctx context.Context, key string, member uuid.UUID, score float64, ttl time.Duration) error {
	client := c.redis.Client()
	if client == nil {
		return nil
	}
	_, err := client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: score, Member: member.String()})
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		c.redis.warnUnavailableOnce(err)
		return err
	}
	return nil
}

func (c *RedisRankingCache) zrem(ctx context.Context, key string, member uuid.UUID) error {
	client := c.redis.Client()
	if client == nil {
		return nil
	}
	if err := client.ZRem(ctx, key, member.String()).Err(); err != nil {
		c.redis.warnUnavailableOnce(err)
		return err
	}
	return nil
}
