package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"match-service/internal/config"
	"match-service/internal/domain/match"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const scorePath = "/api/v1/match/score"

// Scorer produces a score breakdown for one (job, resume) pair. It never
// fails: an unusable answer comes back as a degraded result.
type Scorer interface {
	Score(ctx context.Context, jobID, resumeID uuid.UUID) match.ScoreResult
}

type Client struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

type scoreRequest struct {
	JobID    uuid.UUID `json:"job_id"`
	ResumeID uuid.UUID `json:"resume_id"`
}

type scoreResponse struct {
	OverallScore    *float64       `json:"overall_score"`
	SkillScore      *float64       `json:"skill_score"`
	ExperienceScore *float64       `json:"experience_score"`
	CultureScore    *float64       `json:"culture_score"`
	ScoreBreakdown  map[string]any `json:"score_breakdown"`
	AIReasoning     string         `json:"ai_reasoning"`
}

func NewClient(cfg config.ScorerConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + scorePath,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return c
}

func (c *Client) Score(ctx context.Context, jobID, resumeID uuid.UUID) match.ScoreResult {
	start := time.Now()
	b, err := c.call(ctx, jobID, resumeID)
	if err != nil {
		c.logger.Warn("[Scorer] score request failed, returning degraded result",
			zap.String("job_id", jobID.String()),
			zap.String("resume_id", resumeID.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return match.Degraded(err)
	}

	c.logger.Debug("[Scorer] scored",
		zap.String("job_id", jobID.String()),
		zap.String("resume_id", resumeID.String()),
		zap.String("overall", b.Overall.String()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return match.Scored(b)
}

func (c *Client) call(ctx context.Context, jobID, resumeID uuid.UUID) (match.ScoreBreakdown, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return match.ScoreBreakdown{}, errors.Wrap(err, "scorer rate limit")
		}
	}

	body, err := json.Marshal(scoreRequest{JobID: jobID, ResumeID: resumeID})
	if err != nil {
		return match.ScoreBreakdown{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return match.ScoreBreakdown{}, errors.Wrap(err, "build scorer request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return match.ScoreBreakdown{}, errors.Wrap(err, "scorer request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return match.ScoreBreakdown{}, fmt.Errorf("scorer status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(rb)))
	}

	var out scoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return match.ScoreBreakdown{}, errors.Wrap(err, "decode scorer response")
	}
	return out.breakdown()
}

func (r scoreResponse) breakdown() (match.ScoreBreakdown, error) {
	var b match.ScoreBreakdown
	fields := []struct {
		name string
		in   *float64
		out  *match.Score
	}{
		{"overall_score", r.OverallScore, &b.Overall},
		{"skill_score", r.SkillScore, &b.Skill},
		{"experience_score", r.ExperienceScore, &b.Experience},
		{"culture_score", r.CultureScore, &b.Culture},
	}
	for _, f := range fields {
		if f.in == nil {
			return match.ScoreBreakdown{}, fmt.Errorf("scorer response missing %s", f.name)
		}
		s, err := match.NewScore(*f.in)
		if err != nil {
			return match.ScoreBreakdown{}, errors.Wrapf(err, "scorer %s", f.name)
		}
		*f.out = s
	}

	b.Details = r.ScoreBreakdown
	if b.Details == nil {
		b.Details = map[string]any{}
	}
	b.Reasoning = r.AIReasoning
	return b, nil
}

var _ Scorer = (*Client)(nil)
