package usecase

import (
	"context"
	"errors"
	"time"

	"match-service/internal/domain/match"
	"match-service/internal/infrastructure/cache"
	"match-service/internal/infrastructure/events"
	"match-service/internal/infrastructure/scorer"
	"match-service/internal/repository"
	"match-service/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxPage         = 100000
	DefaultTopLimit = 10
	MaxTopLimit     = 100
)

type MatchConfig struct {
	RecommendationThreshold float64
	CacheTTL                time.Duration
	CacheOpTimeout          time.Duration
	CoalesceScoring         bool
	// SharedScoreTimeout bounds a coalesced scoring run, which outlives the
	// context of the request that started it.
	SharedScoreTimeout      time.Duration
	BatchWorkers            int
	BatchMaxItems           int
}

func (c MatchConfig) withDefaults() MatchConfig {
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.SharedScoreTimeout <= 0 {
		c.SharedScoreTimeout = 90 * time.Second
	}
	if c.CacheOpTimeout <= 0 {
		c.CacheOpTimeout = 500 * time.Millisecond
	}
	if c.BatchWorkers <= 0 {
		c.BatchWorkers = 4
	}
	if c.BatchMaxItems <= 0 {
		c.BatchMaxItems = 50
	}
	return c
}

type ScoreRequest struct {
	JobID            uuid.UUID
	ResumeID         uuid.UUID
	UserID           uuid.UUID
	ForceRecalculate bool
}

type ScoreOutcome struct {
	JobID    uuid.UUID
	ResumeID uuid.UUID
	Snapshot match.Snapshot
	IsCached bool
	Degraded bool
}

type BatchScoreItem struct {
	Request ScoreRequest
	Outcome ScoreOutcome
	Err     error
}

type CreateMatchInput struct {
	JobID    uuid.UUID
	ResumeID uuid.UUID
	UserID   uuid.UUID
}

type FeedbackInput struct {
	MatchID      uuid.UUID
	FeedbackType string
	FeedbackBy   uuid.UUID
}

type JobMatchesQuery struct {
	Page     int
	PageSize int
	MinScore *float64
}

type UserMatchesQuery struct {
	Page            int
	PageSize        int
	RecommendedOnly bool
}

type MatchPage struct {
	Items    []match.Record
	Total    int
	Page     int
	PageSize int
	Pages    int
}

type MatchUsecase interface {
	CalculateScore(ctx context.Context, req ScoreRequest) (ScoreOutcome, error)
	CalculateScores(ctx context.Context, reqs []ScoreRequest) ([]BatchScoreItem, error)
	GetTopMatchesForJob(ctx context.Context, jobID uuid.UUID, limit int) ([]match.RankEntry, error)
	GetRecommendedJobsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]match.RankEntry, error)

	CreateMatch(ctx context.Context, in CreateMatchInput) (match.Record, error)
	GetMatch(ctx context.Context, id uuid.UUID) (match.Record, error)
	GetMatchByPair(ctx context.Context, jobID, resumeID uuid.UUID) (match.Record, error)
	ListMatchesForJob(ctx context.Context, jobID uuid.UUID, q JobMatchesQuery) (MatchPage, error)
	ListMatchesForUser(ctx context.Context, userID uuid.UUID, q UserMatchesQuery) (MatchPage, error)
	UpdateMatch(ctx context.Context, id uuid.UUID, patch match.Patch) (match.Record, error)
	DeleteMatch(ctx context.Context, id uuid.UUID) error
	DeleteMatchesForJob(ctx context.Context, jobID uuid.UUID) (int64, error)
	DeleteMatchesForResume(ctx context.Context, resumeID uuid.UUID) (int64, error)
	AddFeedback(ctx context.Context, in FeedbackInput) (match.Feedback, error)
}

// Match coordinates the score store, the ranking cache and the external
// scorer. The store is the source of truth; every cache failure is logged
// and swallowed.
type Match struct {
	store  repository.MatchRepository
	cache  cache.RankingCache
	scorer scorer.Scorer
	events events.Publisher
	cfg    MatchConfig
	logger *zap.Logger

	inflight singleflight.Group
}

func NewMatchUsecase(
	store repository.MatchRepository,
	rankings cache.RankingCache,
	sc scorer.Scorer,
	pub events.Publisher,
	cfg MatchConfig,
	logger *zap.Logger,
) *Match {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Match{
		store:  store,
		cache:  rankings,
		scorer: sc,
		events: pub,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

func (u *Match) CalculateScore(ctx context.Context, req ScoreRequest) (ScoreOutcome, error) {
	if req.JobID == uuid.Nil || req.ResumeID == uuid.Nil || req.UserID == uuid.Nil {
		return ScoreOutcome{}, ErrInvalidInput
	}

	if !req.ForceRecalculate {
		if snap, ok := u.cachedDetail(ctx, req.JobID, req.ResumeID); ok {
			return ScoreOutcome{
				JobID:    req.JobID,
				ResumeID: req.ResumeID,
				Snapshot: snap,
				IsCached: true,
				Degraded: snap.Degraded,
			}, nil
		}
	}

	if !u.cfg.CoalesceScoring {
		return u.computeScore(ctx, req)
	}
	return u.coalescedScore(ctx, req)
}

// coalescedScore shares one scoring run between concurrent callers for the
// same pair. The run is detached from every caller's cancellation; a caller
// that gives up only stops waiting for it.
func (u *Match) coalescedScore(ctx context.Context, req ScoreRequest) (ScoreOutcome, error) {
	key := req.JobID.String() + ":" + req.ResumeID.String()
	ch := u.inflight.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.cfg.SharedScoreTimeout)
		defer cancel()
		return u.computeScore(sctx, req)
	})

	select {
	case <-ctx.Done():
		return ScoreOutcome{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ScoreOutcome{}, res.Err
		}
		if res.Shared {
			u.logger.Debug("[Match] coalesced score request", zap.String("pair", key))
		}
		return res.Val.(ScoreOutcome), nil
	}
}

// computeScore looks up the stored pair, calls the scorer, then writes the
// store and the cache views in that order.
func (u *Match) computeScore(ctx context.Context, req ScoreRequest) (ScoreOutcome, error) {
	existing, err := u.store.GetByPair(ctx, req.JobID, req.ResumeID)
	found := err == nil
	if err != nil && !errors.Is(err, match.ErrNotFound) {
		return ScoreOutcome{}, err
	}

	result := u.scorer.Score(ctx, req.JobID, req.ResumeID)
	if result.IsDegraded() {
		u.logger.Warn("[Match] scorer degraded, persisting fallback scores",
			zap.String("job_id", req.JobID.String()),
			zap.String("resume_id", req.ResumeID.String()),
			zap.Error(result.Cause()),
		)
	}
	patch := match.PatchFromResult(result, u.cfg.RecommendationThreshold)

	var rec match.Record
	if found {
		rec, err = u.store.Update(ctx, existing.ID, patch)
	} else {
		rec, err = u.createAndScore(ctx, req, patch)
	}
	if err != nil {
		return ScoreOutcome{}, err
	}

	u.refreshViews(ctx, rec)
	u.publish(ctx, events.Scored(rec))

	return ScoreOutcome{
		JobID:    rec.JobID,
		ResumeID: rec.ResumeID,
		Snapshot: rec.Snapshot(),
		IsCached: false,
		Degraded: rec.Degraded,
	}, nil
}

// createAndScore inserts the pair with its scores in one store transaction.
// Losing the insert race to a concurrent request falls back to updating the
// winner's row, so the last writer wins.
func (u *Match) createAndScore(ctx context.Context, req ScoreRequest, patch match.Patch) (match.Record, error) {
	rec, err := u.store.CreateScored(ctx, repository.CreateParams{
		JobID:    req.JobID,
		ResumeID: req.ResumeID,
		UserID:   req.UserID,
	}, patch)
	if !errors.Is(err, match.ErrConflict) {
		return rec, err
	}
	winner, err := u.store.GetByPair(ctx, req.JobID, req.ResumeID)
	if err != nil {
		return match.Record{}, err
	}
	return u.store.Update(ctx, winner.ID, patch)
}

func (u *Match) CalculateScores(ctx context.Context, reqs []ScoreRequest) ([]BatchScoreItem, error) {
	if len(reqs) == 0 || len(reqs) > u.cfg.BatchMaxItems {
		return nil, ErrInvalidInput
	}

	items := make([]BatchScoreItem, len(reqs))
	errs := worker.Each(ctx, u.cfg.BatchWorkers, len(reqs), func(ctx context.Context, i int) error {
		out, err := u.CalculateScore(ctx, reqs[i])
		items[i] = BatchScoreItem{Request: reqs[i], Outcome: out}
		return err
	})
	for i, err := range errs {
		items[i].Request = reqs[i]
		items[i].Err = err
	}
	return items, nil
}

func (u *Match) GetTopMatchesForJob(ctx context.Context, jobID uuid.UUID, limit int) ([]match.RankEntry, error) {
	if jobID == uuid.Nil || limit < 1 || limit > MaxTopLimit {
		return nil, ErrInvalidInput
	}

	cctx, cancel := u.cacheCtx(ctx)
	entries, found, err := u.cache.TopForJob(cctx, jobID, limit)
	cancel()
	if err != nil {
		u.cacheFailed("TopForJob", err)
	} else if found {
		u.logger.Debug("[Match] Cache HIT: job ranking", zap.String("job_id", jobID.String()))
		return entries, nil
	}
	u.logger.Debug("[Match] Cache MISS: job ranking", zap.String("job_id", jobID.String()))

	recs, _, err := u.store.ListByJob(ctx, jobID, repository.ListByJobParams{Limit: MaxTopLimit})
	if err != nil {
		return nil, err
	}

	all := make([]match.RankEntry, 0, len(recs))
	for _, rec := range recs {
		if !rec.Scored() {
			continue
		}
		e := match.RankEntry{ID: rec.ResumeID, Score: rec.OverallScore.Float64()}
		all = append(all, e)

		cctx, cancel := u.cacheCtx(ctx)
		if err := u.cache.UpsertJobRanking(cctx, jobID, e.ID, e.Score, u.cfg.CacheTTL); err != nil {
			u.cacheFailed("UpsertJobRanking", err)
		}
		cancel()
	}
	return head(all, limit), nil
}

func (u *Match) GetRecommendedJobsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]match.RankEntry, error) {
	if userID == uuid.Nil || limit < 1 || limit > MaxTopLimit {
		return nil, ErrInvalidInput
	}

	cctx, cancel := u.cacheCtx(ctx)
	entries, found, err := u.cache.RecommendedForUser(cctx, userID, limit)
	cancel()
	if err != nil {
		u.cacheFailed("RecommendedForUser", err)
	} else if found {
		u.logger.Debug("[Match] Cache HIT: user recommendations", zap.String("user_id", userID.String()))
		return entries, nil
	}
	u.logger.Debug("[Match] Cache MISS: user recommendations", zap.String("user_id", userID.String()))

	recs, _, err := u.store.ListByUser(ctx, userID, repository.ListByUserParams{Limit: MaxTopLimit, RecommendedOnly: true})
	if err != nil {
		return nil, err
	}

	all := make([]match.RankEntry, 0, len(recs))
	for _, rec := range recs {
		if !rec.Scored() {
			continue
		}
		e := match.RankEntry{ID: rec.JobID, Score: rec.OverallScore.Float64()}
		all = append(all, e)

		cctx, cancel := u.cacheCtx(ctx)
		if err := u.cache.UpsertUserRecommendation(cctx, userID, e.ID, e.Score, u.cfg.CacheTTL); err != nil {
			u.cacheFailed("UpsertUserRecommendation", err)
		}
		cancel()
	}
	return head(all, limit), nil
}

func (u *Match) CreateMatch(ctx context.Context, in CreateMatchInput) (match.Record, error) {
	if in.JobID == uuid.Nil || in.ResumeID == uuid.Nil || in.UserID == uuid.Nil {
		return match.Record{}, ErrInvalidInput
	}
	return u.store.Create(ctx, repository.CreateParams{JobID: in.JobID, ResumeID: in.ResumeID, UserID: in.UserID})
}

func (u *Match) GetMatch(ctx context.Context, id uuid.UUID) (match.Record, error) {
	if id == uuid.Nil {
		return match.Record{}, ErrInvalidInput
	}
	return u.store.GetByID(ctx, id)
}

func (u *Match) GetMatchByPair(ctx context.Context, jobID, resumeID uuid.UUID) (match.Record, error) {
	if jobID == uuid.Nil || resumeID == uuid.Nil {
		return match.Record{}, ErrInvalidInput
	}
	return u.store.GetByPair(ctx, jobID, resumeID)
}

func (u *Match) ListMatchesForJob(ctx context.Context, jobID uuid.UUID, q JobMatchesQuery) (MatchPage, error) {
	page, size, err := pageParams(q.Page, q.PageSize)
	if err != nil {
		return MatchPage{}, err
	}
	params := repository.ListByJobParams{Limit: size, Offset: (page - 1) * size}
	if q.MinScore != nil {
		s, err := match.NewScore(*q.MinScore)
		if err != nil {
			return MatchPage{}, ErrInvalidInput
		}
		params.MinScore = &s
	}

	recs, total, err := u.store.ListByJob(ctx, jobID, params)
	if err != nil {
		return MatchPage{}, err
	}
	return newMatchPage(recs, total, page, size), nil
}

func (u *Match) ListMatchesForUser(ctx context.Context, userID uuid.UUID, q UserMatchesQuery) (MatchPage, error) {
	page, size, err := pageParams(q.Page, q.PageSize)
	if err != nil {
		return MatchPage{}, err
	}
	recs, total, err := u.store.ListByUser(ctx, userID, repository.ListByUserParams{
		Limit:           size,
		Offset:          (page - 1) * size,
		RecommendedOnly: q.RecommendedOnly,
	})
	if err != nil {
		return MatchPage{}, err
	}
	return newMatchPage(recs, total, page, size), nil
}

// UpdateMatch applies a partial update. The recommendation flag is never taken
// from the caller; it follows the overall score whenever that is patched. A
// patched overall score also clears the degraded marker.
func (u *Match) UpdateMatch(ctx context.Context, id uuid.UUID, patch match.Patch) (match.Record, error) {
	if id == uuid.Nil {
		return match.Record{}, ErrInvalidInput
	}
	patch.IsRecommended = match.Field[bool]{}
	patch.Degraded = match.Field[bool]{}
	if patch.OverallScore.IsSet() {
		patch.Degraded = match.Set(false)
	}
	patch = patch.WithRecommendation(u.cfg.RecommendationThreshold)

	rec, err := u.store.Update(ctx, id, patch)
	if err != nil {
		return match.Record{}, err
	}
	u.refreshViews(ctx, rec)
	return rec, nil
}

func (u *Match) DeleteMatch(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrInvalidInput
	}
	rec, err := u.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	deleted, err := u.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return match.ErrNotFound
	}

	u.purgeViews(ctx, rec)
	u.publish(ctx, events.Deleted(rec))
	return nil
}

func (u *Match) DeleteMatchesForJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	if jobID == uuid.Nil {
		return 0, ErrInvalidInput
	}

	removed, err := u.store.DeleteByJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	u.purgeRemoved(ctx, removed)

	cctx, cancel := u.cacheCtx(ctx)
	if err := u.cache.ClearJobRanking(cctx, jobID); err != nil {
		u.cacheFailed("ClearJobRanking", err)
	}
	cancel()

	n := int64(len(removed))
	u.logger.Info("[Match] deleted matches for job", zap.String("job_id", jobID.String()), zap.Int64("count", n))
	return n, nil
}

func (u *Match) DeleteMatchesForResume(ctx context.Context, resumeID uuid.UUID) (int64, error) {
	if resumeID == uuid.Nil {
		return 0, ErrInvalidInput
	}

	removed, err := u.store.DeleteByResume(ctx, resumeID)
	if err != nil {
		return 0, err
	}
	u.purgeRemoved(ctx, removed)

	n := int64(len(removed))
	u.logger.Info("[Match] deleted matches for resume", zap.String("resume_id", resumeID.String()), zap.Int64("count", n))
	return n, nil
}

// purgeRemoved drops the cache views of exactly the rows the store deleted.
func (u *Match) purgeRemoved(ctx context.Context, removed []match.Record) {
	for _, rec := range removed {
		u.purgeViews(ctx, rec)
		u.publish(ctx, events.Deleted(rec))
	}
}

func (u *Match) AddFeedback(ctx context.Context, in FeedbackInput) (match.Feedback, error) {
	if in.MatchID == uuid.Nil || in.FeedbackBy == uuid.Nil {
		return match.Feedback{}, ErrInvalidInput
	}
	t, err := match.ParseFeedbackType(in.FeedbackType)
	if err != nil {
		return match.Feedback{}, err
	}
	return u.store.AddFeedback(ctx, in.MatchID, t, in.FeedbackBy)
}

func (u *Match) cachedDetail(ctx context.Context, jobID, resumeID uuid.UUID) (match.Snapshot, bool) {
	cctx, cancel := u.cacheCtx(ctx)
	defer cancel()

	snap, ok, err := u.cache.GetDetail(cctx, jobID, resumeID)
	if err != nil {
		u.cacheFailed("GetDetail", err)
		return match.Snapshot{}, false
	}
	if ok {
		u.logger.Debug("[Match] Cache HIT: detail", zap.String("job_id", jobID.String()), zap.String("resume_id", resumeID.String()))
	}
	return snap, ok
}

func (u *Match) refreshViews(ctx context.Context, rec match.Record) {
	cctx, cancel := u.cacheCtx(ctx)
	defer cancel()
	if err := u.cache.Refresh(cctx, rec, u.cfg.CacheTTL); err != nil {
		u.cacheFailed("Refresh", err)
	}
}

func (u *Match) purgeViews(ctx context.Context, rec match.Record) {
	cctx, cancel := u.cacheCtx(ctx)
	defer cancel()
	if err := u.cache.Purge(cctx, rec.JobID, rec.ResumeID, rec.UserID); err != nil {
		u.cacheFailed("Purge", err)
	}
}

func (u *Match) publish(ctx context.Context, e events.Event) {
	if err := u.events.Publish(ctx, e); err != nil {
		u.logger.Warn("[Match] event publish failed", zap.String("type", e.Type), zap.Error(err))
	}
}

func (u *Match) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, u.cfg.CacheOpTimeout)
}

func (u *Match) cacheFailed(op string, err error) {
	u.logger.Warn("[Match] cache operation failed", zap.String("op", op), zap.Error(err))
}

func pageParams(page, size int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = DefaultPageSize
	}
	if page < 1 || page > MaxPage || size < 1 || size > MaxPageSize {
		return 0, 0, ErrInvalidInput
	}
	return page, size, nil
}

func newMatchPage(recs []match.Record, total, page, size int) MatchPage {
	pages := 0
	if total > 0 {
		pages = (total + size - 1) / size
	}
	return MatchPage{Items: recs, Total: total, Page: page, PageSize: size, Pages: pages}
}

func head(entries []match.RankEntry, n int) []match.RankEntry {
	if len(entries) > n {
		return entries[:n]
	}
	return entries
}

var _ MatchUsecase = (*Match)(nil)
