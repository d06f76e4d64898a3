package match

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type FeedbackType string

const (
	FeedbackHelpful      FeedbackType = "helpful"
	FeedbackNotHelpful   FeedbackType = "not_helpful"
	FeedbackHired        FeedbackType = "hired"
	FeedbackRejected     FeedbackType = "rejected"
	FeedbackInterviewing FeedbackType = "interviewing"
)

func ParseFeedbackType(s string) (FeedbackType, error) {
	t := FeedbackType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", validationError("unknown feedback_type %q", s)
	}
	return t, nil
}

func (t FeedbackType) Valid() bool {
	switch t {
	case FeedbackHelpful, FeedbackNotHelpful, FeedbackHired, FeedbackRejected, FeedbackInterviewing:
		return true
	}
	return false
}

type Record struct {
	ID       uuid.UUID
	JobID    uuid.UUID
	ResumeID uuid.UUID
	UserID   uuid.UUID

	OverallScore    *Score
	SkillScore      *Score
	ExperienceScore *Score
	CultureScore    *Score

	ScoreBreakdown map[string]any
	AIReasoning    *string
	IsRecommended  bool

	// Degraded marks scores written from the scorer's fallback result.
	Degraded bool

	CreatedAt time.Time
	UpdatedAt time.Time

	Feedback []Feedback
}

type Feedback struct {
	ID           uuid.UUID
	MatchID      uuid.UUID
	FeedbackType FeedbackType
	FeedbackBy   uuid.UUID
	CreatedAt    time.Time
}

func (r Record) Scored() bool {
	return r.OverallScore != nil
}

// Snapshot is the detail-cache payload for one (job, resume) pair.
type Snapshot struct {
	MatchID         uuid.UUID      `json:"match_id"`
	UserID          uuid.UUID      `json:"user_id"`
	OverallScore    Score          `json:"overall_score"`
	SkillScore      Score          `json:"skill_score"`
	ExperienceScore Score          `json:"experience_score"`
	CultureScore    Score          `json:"culture_score"`
	ScoreBreakdown  map[string]any `json:"score_breakdown"`
	AIReasoning     string         `json:"ai_reasoning"`
	IsRecommended   bool           `json:"is_recommended"`
	Degraded        bool           `json:"degraded"`
}

func (r Record) Snapshot() Snapshot {
	s := Snapshot{
		MatchID:         r.ID,
		UserID:          r.UserID,
		OverallScore:    scoreOrZero(r.OverallScore),
		SkillScore:      scoreOrZero(r.SkillScore),
		ExperienceScore: scoreOrZero(r.ExperienceScore),
		CultureScore:    scoreOrZero(r.CultureScore),
		ScoreBreakdown:  r.ScoreBreakdown,
		IsRecommended:   r.IsRecommended,
		Degraded:        r.Degraded,
	}
	if s.ScoreBreakdown == nil {
		s.ScoreBreakdown = map[string]any{}
	}
	if r.AIReasoning != nil {
		s.AIReasoning = *r.AIReasoning
	}
	return s
}

// RankEntry is one member of a sorted ranking view: a resume id in a job
// ranking or a job id in a user recommendation ranking.
type RankEntry struct {
	ID    uuid.UUID
	Score float64
}

func scoreOrZero(s *Score) Score {
	if s == nil {
		return 0
	}
	return *s
}
