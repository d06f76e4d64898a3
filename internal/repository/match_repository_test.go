package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"match-service/internal/database"
	"match-service/internal/domain/match"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan dest mismatch: %d != %d", len(dest), len(r.vals))
	}
	for i := range dest {
		target := reflect.ValueOf(dest[i]).Elem()
		if r.vals[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(r.vals[i])
		if !v.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("scan type mismatch at %d: %s into %s", i, v.Type(), target.Type())
		}
		target.Set(v)
	}
	return nil
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return fakeRow{vals: r.rows[r.pos-1]}.Scan(dest...)
}

type statement struct {
	query string
	args  []any
	inTx  bool
}

// fakeDB records every statement and answers from the row and rows hooks.
type fakeDB struct {
	mu    sync.Mutex
	stmts []statement

	row  func(query string, args []any) database.Row
	rows func(query string, args []any) [][]any

	begun, committed, rolledBack int
}

func (db *fakeDB) record(query string, args []any, inTx bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.stmts = append(db.stmts, statement{query: strings.TrimSpace(query), args: args, inTx: inTx})
}

func (db *fakeDB) Ping(context.Context) error { return nil }
func (db *fakeDB) Close() error               { return nil }
func (db *fakeDB) SQLDB() *sql.DB             { return nil }

func (db *fakeDB) Exec(_ context.Context, query string, args ...any) (int64, error) {
	db.record(query, args, false)
	return 1, nil
}

func (db *fakeDB) Query(_ context.Context, query string, args ...any) (database.Rows, error) {
	return db.query(query, args, false)
}

func (db *fakeDB) QueryRow(_ context.Context, query string, args ...any) database.Row {
	return db.queryRow(query, args, false)
}

func (db *fakeDB) Begin(context.Context) (database.Tx, error) {
	db.mu.Lock()
	db.begun++
	db.mu.Unlock()
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) query(query string, args []any, inTx bool) (database.Rows, error) {
	db.record(query, args, inTx)
	var out [][]any
	if db.rows != nil {
		out = db.rows(query, args)
	}
	return &fakeRows{rows: out}, nil
}

func (db *fakeDB) queryRow(query string, args []any, inTx bool) database.Row {
	db.record(query, args, inTx)
	if db.row == nil {
		return fakeRow{err: fmt.Errorf("unexpected query row: %s", query)}
	}
	return db.row(strings.TrimSpace(query), args)
}

type fakeTx struct {
	db   *fakeDB
	done bool
}

func (t *fakeTx) Exec(_ context.Context, query string, args ...any) (int64, error) {
	t.db.record(query, args, true)
	return 1, nil
}

func (t *fakeTx) Query(_ context.Context, query string, args ...any) (database.Rows, error) {
	return t.db.query(query, args, true)
}

func (t *fakeTx) QueryRow(_ context.Context, query string, args ...any) database.Row {
	return t.db.queryRow(query, args, true)
}

func (t *fakeTx) Commit(context.Context) error {
	t.done = true
	t.db.committed++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.db.rolledBack++
	return nil
}

func floatPtr(v float64) *float64 { return &v }

func matchRow(id, jobID, resumeID, userID uuid.UUID, overall *float64, degraded bool) []any {
	now := time.Now().UTC()
	var recommended bool
	if overall != nil {
		recommended = *overall >= 70
	}
	return []any{
		id, jobID, resumeID, userID,
		overall, overall, overall, overall,
		[]byte(`{"source":"fake"}`), (*string)(nil), recommended, degraded,
		now, now,
	}
}

func TestBuildUpdate_OnlyPresentFields(t *testing.T) {
	id := uuid.New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	patch := match.Patch{
		OverallScore: match.Set(match.MustScore(82.5)),
		AIReasoning:  match.Null[string](),
		Degraded:     match.Set(false),
	}.WithRecommendation(70)

	query, args, err := buildUpdate(id, patch, now)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "UPDATE matches SET overall_score = $1, ai_reasoning = $2, is_recommended = $3, score_degraded = $4, updated_at = $5 WHERE id = $6 RETURNING "))
	assert.NotContains(t, query, "skill_score =")
	assert.NotContains(t, query, "score_breakdown =")
	assert.Equal(t, []any{82.5, nil, true, false, now, id}, args)
}

func TestBuildUpdate_EncodesBreakdownAndClearsIt(t *testing.T) {
	id := uuid.New()

	query, args, err := buildUpdate(id, match.Patch{
		ScoreBreakdown: match.Set(map[string]any{"skills": []any{"go"}}),
		SkillScore:     match.Null[match.Score](),
	}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, query, "skill_score = $1, score_breakdown = $2, updated_at = $3 WHERE id = $4")
	require.Len(t, args, 4)
	assert.Nil(t, args[0])
	raw, ok := args[1].([]byte)
	require.True(t, ok)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, []any{"go"}, decoded["skills"])

	query, args, err = buildUpdate(id, match.Patch{ScoreBreakdown: match.Null[map[string]any]()}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, query, "score_breakdown = $1")
	assert.Nil(t, args[0])
}

func TestPostgresMatchRepository_ListByJobOrderingAndFilter(t *testing.T) {
	ctx := context.Background()
	jobID := uuid.New()
	db := &fakeDB{
		row: func(string, []any) database.Row {
			return fakeRow{vals: []any{7}}
		},
		rows: func(string, []any) [][]any {
			return [][]any{matchRow(uuid.New(), jobID, uuid.New(), uuid.New(), floatPtr(91), false)}
		},
	}
	repo := NewPostgresMatchRepository(db)

	minScore := match.MustScore(82)
	recs, total, err := repo.ListByJob(ctx, jobID, ListByJobParams{Offset: -5, MinScore: &minScore})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, recs, 1)
	assert.Equal(t, 91.0, recs[0].OverallScore.Float64())
	assert.Equal(t, map[string]any{"source": "fake"}, recs[0].ScoreBreakdown)

	require.Len(t, db.stmts, 2)
	count, list := db.stmts[0], db.stmts[1]
	assert.Contains(t, count.query, "overall_score >= $2::numeric")
	assert.Contains(t, list.query, "ORDER BY overall_score DESC NULLS LAST, resume_id DESC")
	require.Len(t, list.args, 4)
	assert.Equal(t, jobID, list.args[0])
	assert.Equal(t, floatPtr(82), list.args[1])
	assert.Equal(t, 20, list.args[2])
	assert.Equal(t, 0, list.args[3])
}

func TestPostgresMatchRepository_ListByUserTieBreak(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{
		row: func(string, []any) database.Row { return fakeRow{vals: []any{0}} },
	}
	repo := NewPostgresMatchRepository(db)

	recs, total, err := repo.ListByUser(ctx, uuid.New(), ListByUserParams{Limit: 500, RecommendedOnly: true})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, recs)

	list := db.stmts[1]
	assert.Contains(t, list.query, "ORDER BY overall_score DESC NULLS LAST, job_id DESC")
	assert.Equal(t, true, list.args[1])
	assert.Equal(t, 100, list.args[2])
}

func TestPostgresMatchRepository_CreateScoredRunsInOneTransaction(t *testing.T) {
	ctx := context.Background()
	p := CreateParams{JobID: uuid.New(), ResumeID: uuid.New(), UserID: uuid.New()}
	id := uuid.New()
	db := &fakeDB{
		row: func(query string, _ []any) database.Row {
			switch {
			case strings.HasPrefix(query, "INSERT INTO matches"):
				return fakeRow{vals: matchRow(id, p.JobID, p.ResumeID, p.UserID, nil, false)}
			case strings.HasPrefix(query, "UPDATE matches"):
				return fakeRow{vals: matchRow(id, p.JobID, p.ResumeID, p.UserID, floatPtr(0), true)}
			}
			return fakeRow{err: fmt.Errorf("unexpected %s", query)}
		},
	}
	repo := NewPostgresMatchRepository(db)

	rec, err := repo.CreateScored(ctx, p, match.PatchFromResult(match.Degraded(nil), 70))
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.True(t, rec.Degraded)
	assert.NotNil(t, rec.Feedback)

	assert.Equal(t, 1, db.begun)
	assert.Equal(t, 1, db.committed)
	assert.Zero(t, db.rolledBack)
	require.Len(t, db.stmts, 3)
	for _, st := range db.stmts {
		assert.True(t, st.inTx, st.query)
	}
	assert.Contains(t, db.stmts[1].query, "score_degraded = $")
	assert.Contains(t, db.stmts[2].query, "FROM match_feedback")
}

func TestPostgresMatchRepository_CreateScoredConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{
		row: func(string, []any) database.Row {
			return fakeRow{err: &pgconn.PgError{Code: "23505", ConstraintName: uniquePairConstraint}}
		},
	}
	repo := NewPostgresMatchRepository(db)

	_, err := repo.CreateScored(ctx, CreateParams{JobID: uuid.New(), ResumeID: uuid.New(), UserID: uuid.New()}, match.Patch{})
	assert.ErrorIs(t, err, match.ErrConflict)
	assert.Zero(t, db.committed)
	assert.Equal(t, 1, db.rolledBack)
	assert.Len(t, db.stmts, 1)
}

func TestPostgresMatchRepository_UpdateNotFound(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{
		row: func(string, []any) database.Row { return fakeRow{err: pgx.ErrNoRows} },
	}
	repo := NewPostgresMatchRepository(db)

	_, err := repo.Update(ctx, uuid.New(), match.Patch{AIReasoning: match.Set("x")})
	assert.ErrorIs(t, err, match.ErrNotFound)
	assert.Equal(t, 1, db.rolledBack)
	assert.Zero(t, db.committed)
}

func TestPostgresMatchRepository_BulkDeleteReturnsRemovedRows(t *testing.T) {
	ctx := context.Background()
	jobID, resumeID := uuid.New(), uuid.New()
	a, b := uuid.New(), uuid.New()
	db := &fakeDB{
		rows: func(query string, _ []any) [][]any {
			if strings.Contains(query, "job_id = $1") {
				return [][]any{
					matchRow(a, jobID, uuid.New(), uuid.New(), floatPtr(80), false),
					matchRow(b, jobID, uuid.New(), uuid.New(), nil, false),
				}
			}
			return nil
		},
	}
	repo := NewPostgresMatchRepository(db)

	removed, err := repo.DeleteByJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, a, removed[0].ID)
	assert.Nil(t, removed[1].OverallScore)
	assert.True(t, strings.HasPrefix(db.stmts[0].query, "DELETE FROM matches WHERE job_id = $1 RETURNING id,"))

	removed, err = repo.DeleteByResume(ctx, resumeID)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, []any{resumeID}, db.stmts[1].args)
}
