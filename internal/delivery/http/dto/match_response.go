package dto

import (
	"time"

	"match-service/internal/domain/match"
	"match-service/internal/usecase"

	"github.com/google/uuid"
)

type MatchResponse struct {
	ID              uuid.UUID          `json:"id"`
	JobID           uuid.UUID          `json:"job_id"`
	ResumeID        uuid.UUID          `json:"resume_id"`
	UserID          uuid.UUID          `json:"user_id"`
	OverallScore    *match.Score       `json:"overall_score"`
	SkillScore      *match.Score       `json:"skill_score"`
	ExperienceScore *match.Score       `json:"experience_score"`
	CultureScore    *match.Score       `json:"culture_score"`
	ScoreBreakdown  map[string]any     `json:"score_breakdown"`
	AIReasoning     *string            `json:"ai_reasoning"`
	IsRecommended   bool               `json:"is_recommended"`
	Degraded        bool               `json:"degraded"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	Feedback        []FeedbackResponse `json:"feedback"`
}

type FeedbackResponse struct {
	ID           uuid.UUID `json:"id"`
	MatchID      uuid.UUID `json:"match_id"`
	FeedbackType string    `json:"feedback_type"`
	FeedbackBy   uuid.UUID `json:"feedback_by"`
	CreatedAt    time.Time `json:"created_at"`
}

type MatchListResponse struct {
	Items    []MatchResponse `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Pages    int             `json:"pages"`
}

type ScoreResponse struct {
	JobID           uuid.UUID      `json:"job_id"`
	ResumeID        uuid.UUID      `json:"resume_id"`
	MatchID         uuid.UUID      `json:"match_id"`
	OverallScore    match.Score    `json:"overall_score"`
	SkillScore      match.Score    `json:"skill_score"`
	ExperienceScore match.Score    `json:"experience_score"`
	CultureScore    match.Score    `json:"culture_score"`
	ScoreBreakdown  map[string]any `json:"score_breakdown"`
	AIReasoning     string         `json:"ai_reasoning"`
	IsRecommended   bool           `json:"is_recommended"`
	IsCached        bool           `json:"is_cached"`
	Degraded        bool           `json:"degraded"`
}

type BatchScoreItemResponse struct {
	JobID    uuid.UUID      `json:"job_id"`
	ResumeID uuid.UUID      `json:"resume_id"`
	Result   *ScoreResponse `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type BatchScoreResponse struct {
	Items     []BatchScoreItemResponse `json:"items"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
}

type RankedResumeResponse struct {
	ResumeID uuid.UUID `json:"resume_id"`
	Score    float64   `json:"score"`
}

type TopMatchesResponse struct {
	JobID   uuid.UUID              `json:"job_id"`
	Matches []RankedResumeResponse `json:"matches"`
}

type RecommendedJobResponse struct {
	JobID uuid.UUID `json:"job_id"`
	Score float64   `json:"score"`
}

type RecommendedJobsResponse struct {
	UserID uuid.UUID                `json:"user_id"`
	Jobs   []RecommendedJobResponse `json:"jobs"`
}

type BulkDeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

func NewMatchResponse(r match.Record) MatchResponse {
	out := MatchResponse{
		ID:              r.ID,
		JobID:           r.JobID,
		ResumeID:        r.ResumeID,
		UserID:          r.UserID,
		OverallScore:    r.OverallScore,
		SkillScore:      r.SkillScore,
		ExperienceScore: r.ExperienceScore,
		CultureScore:    r.CultureScore,
		ScoreBreakdown:  r.ScoreBreakdown,
		AIReasoning:     r.AIReasoning,
		IsRecommended:   r.IsRecommended,
		Degraded:        r.Degraded,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Feedback:        make([]FeedbackResponse, 0, len(r.Feedback)),
	}
	for _, f := range r.Feedback {
		out.Feedback = append(out.Feedback, NewFeedbackResponse(f))
	}
	return out
}

func NewFeedbackResponse(f match.Feedback) FeedbackResponse {
	return FeedbackResponse{
		ID:           f.ID,
		MatchID:      f.MatchID,
		FeedbackType: string(f.FeedbackType),
		FeedbackBy:   f.FeedbackBy,
		CreatedAt:    f.CreatedAt,
	}
}

func NewMatchListResponse(p usecase.MatchPage) MatchListResponse {
	out := MatchListResponse{
		Items:    make([]MatchResponse, 0, len(p.Items)),
		Total:    p.Total,
		Page:     p.Page,
		PageSize: p.PageSize,
		Pages:    p.Pages,
	}
	for _, r := range p.Items {
		out.Items = append(out.Items, NewMatchResponse(r))
	}
	return out
}

func NewScoreResponse(o usecase.ScoreOutcome) ScoreResponse {
	s := o.Snapshot
	return ScoreResponse{
		JobID:           o.JobID,
		ResumeID:        o.ResumeID,
		MatchID:         s.MatchID,
		OverallScore:    s.OverallScore,
		SkillScore:      s.SkillScore,
		ExperienceScore: s.ExperienceScore,
		CultureScore:    s.CultureScore,
		ScoreBreakdown:  s.ScoreBreakdown,
		AIReasoning:     s.AIReasoning,
		IsRecommended:   s.IsRecommended,
		IsCached:        o.IsCached,
		Degraded:        o.Degraded,
	}
}

func NewBatchScoreResponse(items []usecase.BatchScoreItem) BatchScoreResponse {
	out := BatchScoreResponse{Items: make([]BatchScoreItemResponse, 0, len(items))}
	for _, it := range items {
		row := BatchScoreItemResponse{JobID: it.Request.JobID, ResumeID: it.Request.ResumeID}
		if it.Err != nil {
			row.Error = it.Err.Error()
			out.Failed++
		} else {
			res := NewScoreResponse(it.Outcome)
			row.Result = &res
			out.Succeeded++
		}
		out.Items = append(out.Items, row)
	}
	return out
}

func NewTopMatchesResponse(jobID uuid.UUID, entries []match.RankEntry) TopMatchesResponse {
	out := TopMatchesResponse{JobID: jobID, Matches: make([]RankedResumeResponse, 0, len(entries))}
	for _, e := range entries {
		out.Matches = append(out.Matches, RankedResumeResponse{ResumeID: e.ID, Score: e.Score})
	}
	return out
}

func NewRecommendedJobsResponse(userID uuid.UUID, entries []match.RankEntry) RecommendedJobsResponse {
	out := RecommendedJobsResponse{UserID: userID, Jobs: make([]RecommendedJobResponse, 0, len(entries))}
	for _, e := range entries {
		out.Jobs = append(out.Jobs, RecommendedJobResponse{JobID: e.ID, Score: e.Score})
	}
	return out
}
