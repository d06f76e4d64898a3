package cache

import (
	"bytes"
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"match-service/internal/domain/match"

	"github.com/google/uuid"
)

type memDetail struct {
	snap      match.Snapshot
	expiresAt time.Time
}

type memZSet struct {
	members   map[uuid.UUID]float64
	expiresAt time.Time
}

// MemoryRankingCache is a process-local RankingCache with the same key
// semantics and TTL behavior as the Redis one. Used for local runs and tests.
type MemoryRankingCache struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]memDetail
	zsets map[string]*memZSet
}

func NewMemoryRankingCache() *MemoryRankingCache {
	return &MemoryRankingCache{
		now:   time.Now,
		items: map[string]memDetail{},
		zsets: map[string]*memZSet{},
	}
}

func (c *MemoryRankingCache) GetDetail(_ context.Context, jobID, resumeID uuid.UUID) (match.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := DetailKey(jobID, resumeID)
	d, ok := c.items[key]
	if !ok {
		return match.Snapshot{}, false, nil
	}
	if c.expired(d.expiresAt) {
		delete(c.items, key)
		return match.Snapshot{}, false, nil
	}
	snap := d.snap
	snap.ScoreBreakdown = maps.Clone(snap.ScoreBreakdown)
	return snap, true, nil
}

func (c *MemoryRankingCache) SetDetail(_ context.Context, jobID, resumeID uuid.UUID, snap match.Snapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDetail(DetailKey(jobID, resumeID), snap, ttl)
	return nil
}

func (c *MemoryRankingCache) DeleteDetail(_ context.Context, jobID, resumeID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, DetailKey(jobID, resumeID))
	return nil
}

func (c *MemoryRankingCache) TopForJob(_ context.Context, jobID uuid.UUID, limit int) ([]match.RankEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topN(JobRankingKey(jobID), limit)
}

func (c *MemoryRankingCache) UpsertJobRanking(_ context.Context, jobID, resumeID uuid.UUID, score float64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zadd(JobRankingKey(jobID), resumeID, score, ttl)
	return nil
}

func (c *MemoryRankingCache) RemoveFromJobRanking(_ context.Context, jobID, resumeID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zrem(JobRankingKey(jobID), resumeID)
	return nil
}

func (c *MemoryRankingCache) ClearJobRanking(_ context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.zsets, JobRankingKey(jobID))
	return nil
}

func (c *MemoryRankingCache) RecommendedForUser(_ context.Context, userID uuid.UUID, limit int) ([]match.RankEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topN(UserRecommendationKey(userID), limit)
}

func (c *MemoryRankingCache) UpsertUserRecommendation(_ context.Context, userID, jobID uuid.UUID, score float64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zadd(UserRecommendationKey(userID), jobID, score, ttl)
	return nil
}

func (c *MemoryRankingCache) RemoveUserRecommendation(_ context.Context, userID, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zrem(UserRecommendationKey(userID), jobID)
	return nil
}

func (c *MemoryRankingCache) ClearUserRecommendations(_ context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.zsets, UserRecommendationKey(userID))
	return nil
}

func (c *MemoryRankingCache) Refresh(ctx context.Context, rec match.Record, ttl time.Duration) error {
	if !rec.Scored() {
		return c.Purge(ctx, rec.JobID, rec.ResumeID, rec.UserID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	score := rec.OverallScore.Float64()
	c.setDetail(DetailKey(rec.JobID, rec.ResumeID), rec.Snapshot(), ttl)
	c.zadd(JobRankingKey(rec.JobID), rec.ResumeID, score, ttl)
	if rec.IsRecommended {
		c.zadd(UserRecommendationKey(rec.UserID), rec.JobID, score, ttl)
	} else {
		c.zrem(UserRecommendationKey(rec.UserID), rec.JobID)
	}
	return nil
}

func (c *MemoryRankingCache) Purge(_ context.Context, jobID, resumeID, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, DetailKey(jobID, resumeID))
	c.zrem(JobRankingKey(jobID), resumeID)
	c.zrem(UserRecommendationKey(userID), jobID)
	return nil
}

func (c *MemoryRankingCache) Ping(context.Context) error {
	return nil
}

func (c *MemoryRankingCache) expired(at time.Time) bool {
	return !at.IsZero() && !c.now().Before(at)
}

func (c *MemoryRankingCache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *MemoryRankingCache) setDetail(key string, snap match.Snapshot, ttl time.Duration) {
	snap.ScoreBreakdown = maps.Clone(snap.ScoreBreakdown)
	c.items[key] = memDetail{snap: snap, expiresAt: c.deadline(ttl)}
}

func (c *MemoryRankingCache) zset(key string) *memZSet {
	z, ok := c.zsets[key]
	if !ok {
		return nil
	}
	if c.expired(z.expiresAt) {
		delete(c.zsets, key)
		return nil
	}
	return z
}

func (c *MemoryRankingCache) zadd(key string, member uuid.UUID, score float64, ttl time.Duration) {
	z := c.zset(key)
	if z == nil {
		z = &memZSet{members: map[uuid.UUID]float64{}}
		c.zsets[key] = z
	}
	z.members[member] = score
	z.expiresAt = c.deadline(ttl)
}

func (c *MemoryRankingCache) zrem(key string, member uuid.UUID) {
	z := c.zset(key)
	if z == nil {
		return
	}
	delete(z.members, member)
	if len(z.members) == 0 {
		delete(c.zsets, key)
	}
}

// topN mirrors ZREVRANGE: score descending, equal scores by member descending.
func (c *MemoryRankingCache) topN(key string, limit int) ([]match.RankEntry, bool, error) {
	z := c.zset(key)
	if z == nil || limit <= 0 {
		return nil, false, nil
	}

	out := make([]match.RankEntry, 0, len(z.members))
	for id, score := range z.members {
		out = append(out, match.RankEntry{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) > 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, true, nil
}
