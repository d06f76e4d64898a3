package repository

import (
	"bytes"
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"match-service/internal/domain/match"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type pairKey struct {
	jobID    uuid.UUID
	resumeID uuid.UUID
}

// MemoryMatchRepository keeps records in an arena slice addressed through an
// id index and a (job, resume) index. Feedback lives in a separate match id
// index and is dropped together with its owner.
type MemoryMatchRepository struct {
	mu sync.RWMutex

	arena    []*match.Record
	byID     map[uuid.UUID]int
	byPair   map[pairKey]int
	feedback map[uuid.UUID][]match.Feedback
	free     []int

	now func() time.Time
}

func NewMemoryMatchRepository() *MemoryMatchRepository {
	return &MemoryMatchRepository{
		byID:     map[uuid.UUID]int{},
		byPair:   map[pairKey]int{},
		feedback: map[uuid.UUID][]match.Feedback{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryMatchRepository) Create(_ context.Context, p CreateParams) (match.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.insert(p)
	if err != nil {
		return match.Record{}, err
	}
	return cloneRecord(rec, nil), nil
}

func (r *MemoryMatchRepository) CreateScored(_ context.Context, p CreateParams, patch match.Patch) (match.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.insert(p)
	if err != nil {
		return match.Record{}, err
	}
	r.apply(rec, patch)
	return cloneRecord(rec, nil), nil
}

// insert must be called with mu held for writing.
func (r *MemoryMatchRepository) insert(p CreateParams) (*match.Record, error) {
	key := pairKey{jobID: p.JobID, resumeID: p.ResumeID}
	if _, ok := r.byPair[key]; ok {
		return nil, match.ErrConflict
	}

	now := r.now()
	rec := &match.Record{
		ID:        uuid.New(),
		JobID:     p.JobID,
		ResumeID:  p.ResumeID,
		UserID:    p.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var slot int
	if n := len(r.free); n > 0 {
		slot = r.free[n-1]
		r.free = r.free[:n-1]
		r.arena[slot] = rec
	} else {
		slot = len(r.arena)
		r.arena = append(r.arena, rec)
	}
	r.byID[rec.ID] = slot
	r.byPair[key] = slot
	return rec, nil
}

func (r *MemoryMatchRepository) GetByID(_ context.Context, id uuid.UUID) (match.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, ok := r.byID[id]
	if !ok {
		return match.Record{}, match.ErrNotFound
	}
	rec := r.arena[slot]
	return cloneRecord(rec, r.feedback[rec.ID]), nil
}

func (r *MemoryMatchRepository) GetByPair(_ context.Context, jobID, resumeID uuid.UUID) (match.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, ok := r.byPair[pairKey{jobID: jobID, resumeID: resumeID}]
	if !ok {
		return match.Record{}, match.ErrNotFound
	}
	rec := r.arena[slot]
	return cloneRecord(rec, r.feedback[rec.ID]), nil
}

func (r *MemoryMatchRepository) ListByJob(_ context.Context, jobID uuid.UUID, p ListByJobParams) ([]match.Record, int, error) {
	limit, offset := normalizePage(p.Limit, p.Offset)

	r.mu.RLock()
	matched := r.filter(func(rec *match.Record) bool {
		if rec.JobID != jobID {
			return false
		}
		if p.MinScore == nil {
			return true
		}
		return rec.OverallScore != nil && *rec.OverallScore >= *p.MinScore
	})
	r.mu.RUnlock()

	sortByScore(matched, func(rec match.Record) uuid.UUID { return rec.ResumeID })
	return page(matched, limit, offset), len(matched), nil
}

func (r *MemoryMatchRepository) ListByUser(_ context.Context, userID uuid.UUID, p ListByUserParams) ([]match.Record, int, error) {
	limit, offset := normalizePage(p.Limit, p.Offset)

	r.mu.RLock()
	matched := r.filter(func(rec *match.Record) bool {
		return rec.UserID == userID && (!p.RecommendedOnly || rec.IsRecommended)
	})
	r.mu.RUnlock()

	sortByScore(matched, func(rec match.Record) uuid.UUID { return rec.JobID })
	return page(matched, limit, offset), len(matched), nil
}

func (r *MemoryMatchRepository) Update(_ context.Context, id uuid.UUID, patch match.Patch) (match.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.byID[id]
	if !ok {
		return match.Record{}, match.ErrNotFound
	}
	rec := r.arena[slot]
	r.apply(rec, patch)
	return cloneRecord(rec, r.feedback[rec.ID]), nil
}

// apply must be called with mu held for writing.
func (r *MemoryMatchRepository) apply(rec *match.Record, patch match.Patch) {
	patch.Apply(rec)
	if patch.ScoreBreakdown.IsSet() {
		rec.ScoreBreakdown = maps.Clone(rec.ScoreBreakdown)
	}
	rec.UpdatedAt = r.now()
}

func (r *MemoryMatchRepository) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	r.removeSlot(slot)
	return true, nil
}

func (r *MemoryMatchRepository) DeleteByJob(_ context.Context, jobID uuid.UUID) ([]match.Record, error) {
	return r.deleteWhere(func(rec *match.Record) bool { return rec.JobID == jobID }), nil
}

func (r *MemoryMatchRepository) DeleteByResume(_ context.Context, resumeID uuid.UUID) ([]match.Record, error) {
	return r.deleteWhere(func(rec *match.Record) bool { return rec.ResumeID == resumeID }), nil
}

func (r *MemoryMatchRepository) AddFeedback(_ context.Context, matchID uuid.UUID, t match.FeedbackType, by uuid.UUID) (match.Feedback, error) {
	if !t.Valid() {
		return match.Feedback{}, errors.Wrapf(match.ErrValidation, "feedback_type %q", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[matchID]; !ok {
		return match.Feedback{}, match.ErrNotFound
	}
	f := match.Feedback{
		ID:           uuid.New(),
		MatchID:      matchID,
		FeedbackType: t,
		FeedbackBy:   by,
		CreatedAt:    r.now(),
	}
	r.feedback[matchID] = append(r.feedback[matchID], f)
	return f, nil
}

func (r *MemoryMatchRepository) Ping(context.Context) error {
	return nil
}

func (r *MemoryMatchRepository) deleteWhere(pred func(*match.Record) bool) []match.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]match.Record, 0)
	for slot, rec := range r.arena {
		if rec == nil || !pred(rec) {
			continue
		}
		out = append(out, cloneRecord(rec, nil))
		r.removeSlot(slot)
	}
	return out
}

// removeSlot must be called with mu held for writing.
func (r *MemoryMatchRepository) removeSlot(slot int) {
	rec := r.arena[slot]
	delete(r.byID, rec.ID)
	delete(r.byPair, pairKey{jobID: rec.JobID, resumeID: rec.ResumeID})
	delete(r.feedback, rec.ID)
	r.arena[slot] = nil
	r.free = append(r.free, slot)
}

// filter must be called with mu held.
func (r *MemoryMatchRepository) filter(pred func(*match.Record) bool) []match.Record {
	out := make([]match.Record, 0)
	for _, rec := range r.arena {
		if rec == nil || !pred(rec) {
			continue
		}
		out = append(out, cloneRecord(rec, nil))
	}
	return out
}

// sortByScore orders like the SQL store: overall score descending with
// unscored records last, ties broken by tieKey descending.
func sortByScore(recs []match.Record, tieKey func(match.Record) uuid.UUID) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].OverallScore, recs[j].OverallScore
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && *a != *b:
			return *a > *b
		}
		ka, kb := tieKey(recs[i]), tieKey(recs[j])
		return bytes.Compare(ka[:], kb[:]) > 0
	})
}

func page(recs []match.Record, limit, offset int) []match.Record {
	if offset >= len(recs) {
		return []match.Record{}
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[offset:end]
}

func cloneRecord(rec *match.Record, feedback []match.Feedback) match.Record {
	out := *rec
	out.OverallScore = cloneScore(rec.OverallScore)
	out.SkillScore = cloneScore(rec.SkillScore)
	out.ExperienceScore = cloneScore(rec.ExperienceScore)
	out.CultureScore = cloneScore(rec.CultureScore)
	out.ScoreBreakdown = maps.Clone(rec.ScoreBreakdown)
	if rec.AIReasoning != nil {
		s := *rec.AIReasoning
		out.AIReasoning = &s
	}

	out.Feedback = make([]match.Feedback, 0, len(feedback))
	for i := len(feedback) - 1; i >= 0; i-- {
		out.Feedback = append(out.Feedback, feedback[i])
	}
	return out
}

func cloneScore(s *match.Score) *match.Score {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
