package match

import (
	"bytes"
	"encoding/json"
)

// Field is a presence-tagged optional value: absent, explicit null, or set.
type Field[T any] struct {
	value T
	set   bool
	null  bool
}

func Set[T any](v T) Field[T] {
	return Field[T]{value: v, set: true}
}

func Null[T any]() Field[T] {
	return Field[T]{set: true, null: true}
}

func (f Field[T]) IsSet() bool  { return f.set }
func (f Field[T]) IsNull() bool { return f.set && f.null }

// Value reports the carried value; ok is false when absent or null.
func (f Field[T]) Value() (T, bool) {
	if !f.set || f.null {
		var zero T
		return zero, false
	}
	return f.value, true
}

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		f.null = true
		var zero T
		f.value = zero
		return nil
	}
	f.null = false
	return json.Unmarshal(b, &f.value)
}

// Patch is a partial update of a Record. IsRecommended is never taken from
// a request; it is derived by the orchestrator whenever OverallScore is set.
type Patch struct {
	OverallScore    Field[Score]
	SkillScore      Field[Score]
	ExperienceScore Field[Score]
	CultureScore    Field[Score]
	ScoreBreakdown  Field[map[string]any]
	AIReasoning     Field[string]
	IsRecommended   Field[bool]
	Degraded        Field[bool]
}

func (p Patch) IsEmpty() bool {
	return !p.OverallScore.IsSet() &&
		!p.SkillScore.IsSet() &&
		!p.ExperienceScore.IsSet() &&
		!p.CultureScore.IsSet() &&
		!p.ScoreBreakdown.IsSet() &&
		!p.AIReasoning.IsSet() &&
		!p.IsRecommended.IsSet() &&
		!p.Degraded.IsSet()
}

// WithRecommendation derives IsRecommended from the patched overall score.
// A null overall score clears the flag.
func (p Patch) WithRecommendation(threshold float64) Patch {
	if !p.OverallScore.IsSet() {
		return p
	}
	overall, ok := p.OverallScore.Value()
	p.IsRecommended = Set(ok && IsRecommended(overall, threshold))
	return p
}

// Apply writes the present fields onto r. UpdatedAt is left to the caller.
func (p Patch) Apply(r *Record) {
	applyScore(p.OverallScore, &r.OverallScore)
	applyScore(p.SkillScore, &r.SkillScore)
	applyScore(p.ExperienceScore, &r.ExperienceScore)
	applyScore(p.CultureScore, &r.CultureScore)
	if p.ScoreBreakdown.IsSet() {
		v, _ := p.ScoreBreakdown.Value()
		r.ScoreBreakdown = v
	}
	if p.AIReasoning.IsSet() {
		if v, ok := p.AIReasoning.Value(); ok {
			r.AIReasoning = &v
		} else {
			r.AIReasoning = nil
		}
	}
	if v, ok := p.IsRecommended.Value(); ok {
		r.IsRecommended = v
	}
	if v, ok := p.Degraded.Value(); ok {
		r.Degraded = v
	}
}

// PatchFromBreakdown builds the patch written after a scorer call.
func PatchFromBreakdown(b ScoreBreakdown, threshold float64) Patch {
	details := b.Details
	if details == nil {
		details = map[string]any{}
	}
	return Patch{
		OverallScore:    Set(b.Overall),
		SkillScore:      Set(b.Skill),
		ExperienceScore: Set(b.Experience),
		CultureScore:    Set(b.Culture),
		ScoreBreakdown:  Set(details),
		AIReasoning:     Set(b.Reasoning),
	}.WithRecommendation(threshold)
}

// PatchFromResult is PatchFromBreakdown plus the degraded marker of res.
func PatchFromResult(res ScoreResult, threshold float64) Patch {
	p := PatchFromBreakdown(res.Breakdown(), threshold)
	p.Degraded = Set(res.IsDegraded())
	return p
}

func applyScore(f Field[Score], dst **Score) {
	if !f.IsSet() {
		return
	}
	if v, ok := f.Value(); ok {
		*dst = &v
		return
	}
	*dst = nil
}
