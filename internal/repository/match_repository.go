package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"match-service/internal/database"
	"match-service/internal/domain/match"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const uniquePairConstraint = "uq_matches_job_resume"

// MatchRepository is the durable store of match records and their feedback.
// Every method is its own transaction.
type MatchRepository interface {
	Create(ctx context.Context, p CreateParams) (match.Record, error)
	// CreateScored inserts the pair and applies patch to it atomically. It
	// returns match.ErrConflict when the pair already exists.
	CreateScored(ctx context.Context, p CreateParams, patch match.Patch) (match.Record, error)
	GetByID(ctx context.Context, id uuid.UUID) (match.Record, error)
	GetByPair(ctx context.Context, jobID, resumeID uuid.UUID) (match.Record, error)
	ListByJob(ctx context.Context, jobID uuid.UUID, p ListByJobParams) ([]match.Record, int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, p ListByUserParams) ([]match.Record, int, error)
	Update(ctx context.Context, id uuid.UUID, patch match.Patch) (match.Record, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	// DeleteByJob and DeleteByResume return the rows they removed.
	DeleteByJob(ctx context.Context, jobID uuid.UUID) ([]match.Record, error)
	DeleteByResume(ctx context.Context, resumeID uuid.UUID) ([]match.Record, error)
	AddFeedback(ctx context.Context, matchID uuid.UUID, t match.FeedbackType, by uuid.UUID) (match.Feedback, error)
	Ping(ctx context.Context) error
}

type CreateParams struct {
	JobID    uuid.UUID
	ResumeID uuid.UUID
	UserID   uuid.UUID
}

type ListByJobParams struct {
	Limit    int
	Offset   int
	MinScore *match.Score
}

type ListByUserParams struct {
	Limit           int
	Offset          int
	RecommendedOnly bool
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// querier is the statement surface shared by database.DB and database.Tx.
type querier interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (database.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) database.Row
}

type PostgresMatchRepository struct {
	db database.DB
}

func NewPostgresMatchRepository(db database.DB) *PostgresMatchRepository {
	return &PostgresMatchRepository{db: db}
}

const matchColumns = `id, job_id, resume_id, user_id,
	overall_score, skill_score, experience_score, culture_score,
	score_breakdown, ai_reasoning, is_recommended, score_degraded, created_at, updated_at`

func (r *PostgresMatchRepository) Create(ctx context.Context, p CreateParams) (match.Record, error) {
	return insertMatch(ctx, r.db, p)
}

func (r *PostgresMatchRepository) CreateScored(ctx context.Context, p CreateParams, patch match.Patch) (match.Record, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return match.Record{}, errors.Wrap(err, "begin create scored match")
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	created, err := insertMatch(ctx, tx, p)
	if err != nil {
		return match.Record{}, err
	}
	rec, err := updateMatch(ctx, tx, created.ID, patch)
	if err != nil {
		return match.Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return match.Record{}, errors.Wrap(err, "commit create scored match")
	}
	return rec, nil
}

func insertMatch(ctx context.Context, q querier, p CreateParams) (match.Record, error) {
	now := time.Now().UTC()
	row := q.QueryRow(ctx,
		`INSERT INTO matches (id, job_id, resume_id, user_id, is_recommended, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,FALSE,$5,$5)
		 RETURNING `+matchColumns,
		uuid.New(),
		p.JobID,
		p.ResumeID,
		p.UserID,
		now,
	)
	rec, err := scanMatch(row)
	if err != nil {
		if database.IsUniqueViolation(err, uniquePairConstraint) {
			return match.Record{}, match.ErrConflict
		}
		return match.Record{}, errors.Wrap(err, "insert match")
	}
	return rec, nil
}

func (r *PostgresMatchRepository) GetByID(ctx context.Context, id uuid.UUID) (match.Record, error) {
	row := r.db.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id)
	return getOne(ctx, r.db, row)
}

func (r *PostgresMatchRepository) GetByPair(ctx context.Context, jobID, resumeID uuid.UUID) (match.Record, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE job_id = $1 AND resume_id = $2`,
		jobID, resumeID,
	)
	return getOne(ctx, r.db, row)
}

func getOne(ctx context.Context, q querier, row database.Row) (match.Record, error) {
	rec, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return match.Record{}, match.ErrNotFound
		}
		return match.Record{}, errors.Wrap(err, "select match")
	}
	fb, err := feedbackFor(ctx, q, rec.ID)
	if err != nil {
		return match.Record{}, err
	}
	rec.Feedback = fb
	return rec, nil
}

func feedbackFor(ctx context.Context, q querier, matchID uuid.UUID) ([]match.Feedback, error) {
	rows, err := q.Query(ctx,
		`SELECT id, match_id, feedback_type, feedback_by, created_at
		 FROM match_feedback
		 WHERE match_id = $1
		 ORDER BY created_at DESC, id DESC`,
		matchID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "select match feedback")
	}
	defer rows.Close()

	out := make([]match.Feedback, 0)
	for rows.Next() {
		var f match.Feedback
		var t string
		if err := rows.Scan(&f.ID, &f.MatchID, &t, &f.FeedbackBy, &f.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan match feedback")
		}
		f.FeedbackType = match.FeedbackType(t)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate match feedback")
	}
	return out, nil
}

func (r *PostgresMatchRepository) ListByJob(ctx context.Context, jobID uuid.UUID, p ListByJobParams) ([]match.Record, int, error) {
	limit, offset := normalizePage(p.Limit, p.Offset)

	var minScore *float64
	if p.MinScore != nil {
		v := p.MinScore.Float64()
		minScore = &v
	}

	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM matches
		 WHERE job_id = $1 AND ($2::numeric IS NULL OR overall_score >= $2::numeric)`,
		jobID, minScore,
	).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count job matches")
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+matchColumns+` FROM matches
		 WHERE job_id = $1 AND ($2::numeric IS NULL OR overall_score >= $2::numeric)
		 ORDER BY overall_score DESC NULLS LAST, resume_id DESC
		 LIMIT $3 OFFSET $4`,
		jobID, minScore, limit, offset,
	)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list job matches")
	}
	out, err := collectMatches(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *PostgresMatchRepository) ListByUser(ctx context.Context, userID uuid.UUID, p ListByUserParams) ([]match.Record, int, error) {
	limit, offset := normalizePage(p.Limit, p.Offset)

	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM matches
		 WHERE user_id = $1 AND (NOT $2 OR is_recommended)`,
		userID, p.RecommendedOnly,
	).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count user matches")
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+matchColumns+` FROM matches
		 WHERE user_id = $1 AND (NOT $2 OR is_recommended)
		 ORDER BY overall_score DESC NULLS LAST, job_id DESC
		 LIMIT $3 OFFSET $4`,
		userID, p.RecommendedOnly, limit, offset,
	)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list user matches")
	}
	out, err := collectMatches(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *PostgresMatchRepository) Update(ctx context.Context, id uuid.UUID, patch match.Patch) (match.Record, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return match.Record{}, errors.Wrap(err, "begin update match")
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rec, err := updateMatch(ctx, tx, id, patch)
	if err != nil {
		return match.Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return match.Record{}, errors.Wrap(err, "commit update match")
	}
	return rec, nil
}

// updateMatch runs the UPDATE and reads the feedback under the same querier,
// so the returned record and its feedback come from one transaction.
func updateMatch(ctx context.Context, q querier, id uuid.UUID, patch match.Patch) (match.Record, error) {
	query, args, err := buildUpdate(id, patch, time.Now().UTC())
	if err != nil {
		return match.Record{}, err
	}
	return getOne(ctx, q, q.QueryRow(ctx, query, args...))
}

// buildUpdate renders the partial UPDATE for patch. Only present fields get a
// SET clause; updated_at is always written.
func buildUpdate(id uuid.UUID, patch match.Patch, now time.Time) (string, []any, error) {
	sets := make([]string, 0, 9)
	args := make([]any, 0, 10)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	addScore := func(col string, f match.Field[match.Score]) {
		if !f.IsSet() {
			return
		}
		if v, ok := f.Value(); ok {
			add(col, v.Float64())
			return
		}
		add(col, nil)
	}
	addScore("overall_score", patch.OverallScore)
	addScore("skill_score", patch.SkillScore)
	addScore("experience_score", patch.ExperienceScore)
	addScore("culture_score", patch.CultureScore)

	if patch.ScoreBreakdown.IsSet() {
		if v, ok := patch.ScoreBreakdown.Value(); ok && v != nil {
			b, err := json.Marshal(v)
			if err != nil {
				return "", nil, errors.Wrap(err, "encode score breakdown")
			}
			add("score_breakdown", b)
		} else {
			add("score_breakdown", nil)
		}
	}
	if patch.AIReasoning.IsSet() {
		if v, ok := patch.AIReasoning.Value(); ok {
			add("ai_reasoning", v)
		} else {
			add("ai_reasoning", nil)
		}
	}
	if v, ok := patch.IsRecommended.Value(); ok {
		add("is_recommended", v)
	}
	if v, ok := patch.Degraded.Value(); ok {
		add("score_degraded", v)
	}
	add("updated_at", now)

	args = append(args, id)
	query := `UPDATE matches SET ` + strings.Join(sets, ", ") +
		fmt.Sprintf(` WHERE id = $%d RETURNING `, len(args)) + matchColumns
	return query, args, nil
}

func (r *PostgresMatchRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := r.db.Exec(ctx, `DELETE FROM matches WHERE id = $1`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete match")
	}
	return n > 0, nil
}

func (r *PostgresMatchRepository) DeleteByJob(ctx context.Context, jobID uuid.UUID) ([]match.Record, error) {
	rows, err := r.db.Query(ctx, `DELETE FROM matches WHERE job_id = $1 RETURNING `+matchColumns, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "delete job matches")
	}
	return collectMatches(rows)
}

func (r *PostgresMatchRepository) DeleteByResume(ctx context.Context, resumeID uuid.UUID) ([]match.Record, error) {
	rows, err := r.db.Query(ctx, `DELETE FROM matches WHERE resume_id = $1 RETURNING `+matchColumns, resumeID)
	if err != nil {
		return nil, errors.Wrap(err, "delete resume matches")
	}
	return collectMatches(rows)
}

func (r *PostgresMatchRepository) AddFeedback(ctx context.Context, matchID uuid.UUID, t match.FeedbackType, by uuid.UUID) (match.Feedback, error) {
	if !t.Valid() {
		return match.Feedback{}, errors.Wrapf(match.ErrValidation, "feedback_type %q", t)
	}

	f := match.Feedback{
		ID:           uuid.New(),
		MatchID:      matchID,
		FeedbackType: t,
		FeedbackBy:   by,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO match_feedback (id, match_id, feedback_type, feedback_by, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		f.ID, f.MatchID, string(f.FeedbackType), f.FeedbackBy, f.CreatedAt,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return match.Feedback{}, match.ErrNotFound
		}
		return match.Feedback{}, errors.Wrap(err, "insert match feedback")
	}
	return f, nil
}

func (r *PostgresMatchRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func collectMatches(rows database.Rows) ([]match.Record, error) {
	defer rows.Close()

	out := make([]match.Record, 0)
	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan match")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate matches")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(s scanner) (match.Record, error) {
	var rec match.Record
	var overall, skill, experience, culture *float64
	var breakdown []byte
	if err := s.Scan(
		&rec.ID, &rec.JobID, &rec.ResumeID, &rec.UserID,
		&overall, &skill, &experience, &culture,
		&breakdown, &rec.AIReasoning, &rec.IsRecommended, &rec.Degraded,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return match.Record{}, err
	}

	rec.OverallScore = match.ScorePtr(overall)
	rec.SkillScore = match.ScorePtr(skill)
	rec.ExperienceScore = match.ScorePtr(experience)
	rec.CultureScore = match.ScorePtr(culture)

	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &rec.ScoreBreakdown); err != nil {
			return match.Record{}, errors.Wrap(err, "decode score breakdown")
		}
	}
	return rec, nil
}
