package match

import (
	"math"
	"strconv"
	"strings"
)

const (
	MinScore = 0
	MaxScore = 100
)

// Score is a fixed-point value in [0,100] kept in hundredths, matching the
// NUMERIC(5,2) columns of the matches table.
type Score int64

func NewScore(v float64) (Score, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, validationError("score must be a finite number")
	}
	if v < MinScore || v > MaxScore {
		return 0, validationError("score %s out of range [0,100]", strconv.FormatFloat(v, 'f', -1, 64))
	}
	return Score(math.Round(v * 100)), nil
}

// MustScore panics on out-of-range input. Only for constants and tests.
func MustScore(v float64) Score {
	s, err := NewScore(v)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Score) Float64() float64 {
	return float64(s) / 100
}

func (s Score) String() string {
	return strconv.FormatFloat(s.Float64(), 'f', 2, 64)
}

func (s Score) MarshalJSON() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Score) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return validationError("score %q is not a number", raw)
	}
	parsed, err := NewScore(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ScorePtr converts a nullable float column into a nullable Score, clamping
// rounding noise from the driver into range.
func ScorePtr(v *float64) *Score {
	if v == nil {
		return nil
	}
	f := math.Min(math.Max(*v, MinScore), MaxScore)
	s := Score(math.Round(f * 100))
	return &s
}

// IsRecommended is the only place the recommendation flag is derived.
func IsRecommended(overall Score, threshold float64) bool {
	return overall.Float64() >= threshold
}
