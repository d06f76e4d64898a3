package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"match-service/internal/domain/match"

	"github.com/google/uuid"
)

type CreateMatchRequest struct {
	JobID    uuid.UUID `json:"job_id" validate:"required"`
	ResumeID uuid.UUID `json:"resume_id" validate:"required"`
	UserID   uuid.UUID `json:"user_id" validate:"required"`
}

type ScoreRequest struct {
	JobID            uuid.UUID `json:"job_id" validate:"required"`
	ResumeID         uuid.UUID `json:"resume_id" validate:"required"`
	UserID           uuid.UUID `json:"user_id" validate:"required"`
	ForceRecalculate bool      `json:"force_recalculate"`
}

type BatchScoreRequest struct {
	Items []ScoreRequest `json:"items" validate:"required,min=1,dive"`
}

type FeedbackRequest struct {
	MatchID      uuid.UUID `json:"match_id" validate:"required"`
	FeedbackType string    `json:"feedback_type" validate:"required,oneof=helpful not_helpful hired rejected interviewing"`
	FeedbackBy   uuid.UUID `json:"feedback_by" validate:"required"`
}

// UpdateMatchRequest distinguishes an absent field from an explicit null.
// is_recommended is deliberately not accepted.
type UpdateMatchRequest struct {
	OverallScore    match.Field[match.Score]    `json:"overall_score"`
	SkillScore      match.Field[match.Score]    `json:"skill_score"`
	ExperienceScore match.Field[match.Score]    `json:"experience_score"`
	CultureScore    match.Field[match.Score]    `json:"culture_score"`
	ScoreBreakdown  match.Field[map[string]any] `json:"score_breakdown"`
	AIReasoning     match.Field[string]         `json:"ai_reasoning"`
}

var ErrEmptyBody = errors.New("request body is empty")

// DecodeUpdateMatchRequest rejects unknown fields so that derived columns
// cannot be written through a patch.
func DecodeUpdateMatchRequest(body []byte) (UpdateMatchRequest, error) {
	var req UpdateMatchRequest
	if len(bytes.TrimSpace(body)) == 0 {
		return req, ErrEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return UpdateMatchRequest{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return UpdateMatchRequest{}, errors.New("unexpected data after JSON body")
	}
	return req, nil
}

func (r UpdateMatchRequest) Patch() match.Patch {
	return match.Patch{
		OverallScore:    r.OverallScore,
		SkillScore:      r.SkillScore,
		ExperienceScore: r.ExperienceScore,
		CultureScore:    r.CultureScore,
		ScoreBreakdown:  r.ScoreBreakdown,
		AIReasoning:     r.AIReasoning,
	}
}
