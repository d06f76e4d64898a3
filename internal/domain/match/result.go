package match

import "errors"

const DegradedReasoning = "Score calculation failed - AI service unavailable"

// ScoreBreakdown is what the external scorer returns for one pair.
type ScoreBreakdown struct {
	Overall    Score
	Skill      Score
	Experience Score
	Culture    Score
	Details    map[string]any
	Reasoning  string
}

// ScoreResult is either a real breakdown or the degraded default substituted
// when the scorer could not be reached. The cause of degradation is kept so
// callers can log or surface it without the result ever being an error.
type ScoreResult struct {
	breakdown ScoreBreakdown
	cause     error
}

func Scored(b ScoreBreakdown) ScoreResult {
	return ScoreResult{breakdown: b}
}

func Degraded(cause error) ScoreResult {
	if cause == nil {
		cause = errors.New("scorer unavailable")
	}
	return ScoreResult{
		breakdown: ScoreBreakdown{
			Details:   map[string]any{},
			Reasoning: DegradedReasoning,
		},
		cause: cause,
	}
}

func (r ScoreResult) Breakdown() ScoreBreakdown { return r.breakdown }
func (r ScoreResult) IsDegraded() bool         { return r.cause != nil }
func (r ScoreResult) Cause() error             { return r.cause }
