package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"match-service/internal/config"
	"match-service/internal/database"
	"match-service/internal/database/migration"
	dbpostgres "match-service/internal/database/postgres"
	"match-service/internal/delivery/http/handler"
	"match-service/internal/delivery/http/middleware"
	"match-service/internal/delivery/http/routes"
	"match-service/internal/domain/match"
	"match-service/internal/infrastructure/cache"
	"match-service/internal/repository"
	"match-service/internal/usecase"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type semanticResponse struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type scoreItem struct {
	MatchID       uuid.UUID `json:"match_id"`
	OverallScore  float64   `json:"overall_score"`
	IsRecommended bool      `json:"is_recommended"`
	IsCached      bool      `json:"is_cached"`
}

type topItem struct {
	Matches []struct {
		ResumeID uuid.UUID `json:"resume_id"`
		Score    float64   `json:"score"`
	} `json:"matches"`
}

type recommendedItem struct {
	Jobs []struct {
		JobID uuid.UUID `json:"job_id"`
		Score float64   `json:"score"`
	} `json:"jobs"`
}

// fixedScorer returns a per-resume overall score.
type fixedScorer map[uuid.UUID]float64

func (s fixedScorer) Score(_ context.Context, _, resumeID uuid.UUID) match.ScoreResult {
	v, ok := s[resumeID]
	if !ok {
		return match.Degraded(errors.New("unknown resume"))
	}
	sc := match.MustScore(v)
	return match.Scored(match.ScoreBreakdown{
		Overall: sc, Skill: sc, Experience: sc, Culture: sc,
		Details:   map[string]any{"matched": []any{"go", "postgres"}},
		Reasoning: "integration",
	})
}

func TestIntegration_ScoreRankDelete(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db := connectTestDB(t, ctx)
	defer func() { _ = db.Close() }()
	runMigrations(t, ctx, db)

	job, user := uuid.New(), uuid.New()
	r1, r2, r3 := uuid.New(), uuid.New(), uuid.New()
	store := repository.NewPostgresMatchRepository(db)
	defer func() { _, _ = store.DeleteByJob(context.Background(), job) }()

	mr := miniredis.RunT(t)
	rdb := cache.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())
	rankings := cache.NewRedisRankingCache(rdb, zap.NewNop())

	uc := usecase.NewMatchUsecase(store, rankings, fixedScorer{r1: 91, r2: 64, r3: 78}, nil,
		usecase.MatchConfig{RecommendationThreshold: 70, CacheTTL: time.Hour}, zap.NewNop())
	app := newTestFiberApp(store, rankings, uc)

	for _, resume := range []uuid.UUID{r1, r2, r3} {
		var out scoreItem
		status := callJSON(t, app, http.MethodPost, "/api/v1/matches/score", map[string]any{
			"job_id": job, "resume_id": resume, "user_id": user,
		}, &out)
		if status != http.StatusOK {
			t.Fatalf("score %s: expected 200, got %d", resume, status)
		}
		if out.IsCached {
			t.Fatalf("score %s: first score must not be cached", resume)
		}
	}

	var top topItem
	if status := callJSON(t, app, http.MethodGet, "/api/v1/matches/job/"+job.String()+"/top?limit=2", nil, &top); status != http.StatusOK {
		t.Fatalf("top: expected 200, got %d", status)
	}
	if len(top.Matches) != 2 || top.Matches[0].ResumeID != r1 || top.Matches[1].ResumeID != r3 {
		t.Fatalf("top: unexpected ranking %+v", top.Matches)
	}

	// Rebuild the ranking from Postgres alone.
	mr.FlushAll()
	var rebuilt topItem
	callJSON(t, app, http.MethodGet, "/api/v1/matches/job/"+job.String()+"/top?limit=2", nil, &rebuilt)
	if len(rebuilt.Matches) != 2 || rebuilt.Matches[0] != top.Matches[0] || rebuilt.Matches[1] != top.Matches[1] {
		t.Fatalf("top after flush: expected %+v, got %+v", top.Matches, rebuilt.Matches)
	}

	var rec recommendedItem
	callJSON(t, app, http.MethodGet, "/api/v1/matches/user/"+user.String()+"/recommended", nil, &rec)
	if len(rec.Jobs) != 1 || rec.Jobs[0].JobID != job || rec.Jobs[0].Score != 91 {
		t.Fatalf("recommended: unexpected %+v", rec.Jobs)
	}

	pair, err := store.GetByPair(ctx, job, r1)
	if err != nil {
		t.Fatalf("get by pair: %v", err)
	}
	if _, err := store.AddFeedback(ctx, pair.ID, match.FeedbackHired, user); err != nil {
		t.Fatalf("add feedback: %v", err)
	}

	if status := callJSON(t, app, http.MethodDelete, "/api/v1/matches/"+pair.ID.String(), nil, nil); status != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", status)
	}
	if _, err := store.AddFeedback(ctx, pair.ID, match.FeedbackHelpful, user); !errors.Is(err, match.ErrNotFound) {
		t.Fatalf("feedback after delete: expected ErrNotFound, got %v", err)
	}
	if mr.Exists(cache.DetailKey(job, r1)) {
		t.Fatalf("delete: detail key still cached")
	}

	var after topItem
	callJSON(t, app, http.MethodGet, "/api/v1/matches/job/"+job.String()+"/top", nil, &after)
	for _, m := range after.Matches {
		if m.ResumeID == r1 {
			t.Fatalf("delete: resume still ranked")
		}
	}
}

func TestIntegration_PostgresStoreConstraints(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db := connectTestDB(t, ctx)
	defer func() { _ = db.Close() }()
	runMigrations(t, ctx, db)

	store := repository.NewPostgresMatchRepository(db)
	p := repository.CreateParams{JobID: uuid.New(), ResumeID: uuid.New(), UserID: uuid.New()}
	defer func() { _, _ = store.DeleteByJob(context.Background(), p.JobID) }()

	created, err := store.Create(ctx, p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.OverallScore != nil || created.IsRecommended {
		t.Fatalf("create: expected bare record, got %+v", created)
	}
	if _, err := store.Create(ctx, p); !errors.Is(err, match.ErrConflict) {
		t.Fatalf("duplicate create: expected ErrConflict, got %v", err)
	}

	updated, err := store.Update(ctx, created.ID, match.Patch{
		OverallScore:   match.Set(match.MustScore(72.25)),
		ScoreBreakdown: match.Set(map[string]any{"k": "v"}),
		IsRecommended:  match.Set(true),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.OverallScore == nil || *updated.OverallScore != match.MustScore(72.25) || !updated.IsRecommended {
		t.Fatalf("update: unexpected %+v", updated)
	}
	if updated.ScoreBreakdown["k"] != "v" {
		t.Fatalf("update: breakdown not persisted: %+v", updated.ScoreBreakdown)
	}

	minScore := match.MustScore(72.26)
	recs, total, err := store.ListByJob(ctx, p.JobID, repository.ListByJobParams{Limit: 10, MinScore: &minScore})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 0 || len(recs) != 0 {
		t.Fatalf("list: min_score must exclude 72.25, got total=%d", total)
	}

	removed, err := store.DeleteByResume(ctx, p.ResumeID)
	if err != nil || len(removed) != 1 {
		t.Fatalf("delete by resume: n=%d err=%v", len(removed), err)
	}
	if removed[0].ID != created.ID || removed[0].OverallScore == nil {
		t.Fatalf("delete by resume: unexpected returned row %+v", removed[0])
	}

	scored := repository.CreateParams{JobID: uuid.New(), ResumeID: uuid.New(), UserID: uuid.New()}
	defer func() { _, _ = store.DeleteByJob(context.Background(), scored.JobID) }()
	rec, err := store.CreateScored(ctx, scored, match.PatchFromResult(match.Degraded(nil), 70))
	if err != nil {
		t.Fatalf("create scored: %v", err)
	}
	if !rec.Degraded || rec.OverallScore == nil || rec.OverallScore.Float64() != 0 {
		t.Fatalf("create scored: unexpected record %+v", rec)
	}
	if _, err := store.CreateScored(ctx, scored, match.Patch{}); !errors.Is(err, match.ErrConflict) {
		t.Fatalf("create scored twice: want ErrConflict, got %v", err)
	}
}

func connectTestDB(t *testing.T, ctx context.Context) database.DB {
	t.Helper()

	host := stringsOrDefault(os.Getenv("MATCH_TEST_DB_HOST"), os.Getenv("DB_HOST"))
	port := stringsOrDefault(os.Getenv("MATCH_TEST_DB_PORT"), os.Getenv("DB_PORT"))
	name := stringsOrDefault(os.Getenv("MATCH_TEST_DB_NAME"), os.Getenv("DB_NAME"))
	user := stringsOrDefault(os.Getenv("MATCH_TEST_DB_USER"), os.Getenv("DB_USER"))
	pass := stringsOrDefault(os.Getenv("MATCH_TEST_DB_PASSWORD"), os.Getenv("DB_PASSWORD"))
	ssl := stringsOrDefault(os.Getenv("MATCH_TEST_DB_SSL_MODE"), os.Getenv("DB_SSL_MODE"))

	if host == "" || port == "" || name == "" || user == "" {
		t.Skip("missing test DB env vars: set MATCH_TEST_DB_HOST/PORT/NAME/USER/PASSWORD (or DB_HOST/DB_PORT/DB_NAME/DB_USER/DB_PASSWORD)")
	}
	if ssl == "" {
		ssl = "disable"
	}

	db, err := dbpostgres.Connect(ctx, config.DatabaseConfig{
		DBHost:     host,
		DBPort:     port,
		DBName:     name,
		DBUser:     user,
		DBPassword: pass,
		DBSSLMode:  ssl,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	return db
}

func runMigrations(t *testing.T, ctx context.Context, db database.DB) {
	t.Helper()

	if err := migration.NewRunner(zap.NewNop()).Run(ctx, db.SQLDB()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

func newTestFiberApp(store repository.MatchRepository, rankings cache.RankingCache, uc usecase.MatchUsecase) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Use(middleware.NewErrorMiddleware(zap.NewNop()).Middleware())

	health := handler.NewHealthHandler("integration").
		WithCheck("database", store, true).
		WithCheck("cache", rankings, false)
	routes.NewRegistry(health, handler.NewMatchHandler(uc, nil)).Register(app)
	return app
}

func callJSON(t *testing.T, app *fiber.App, method, path string, body any, out any) int {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil && len(raw) > 0 {
		var env semanticResponse
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v (%s)", err, raw)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v (%s)", err, env.Data)
		}
	}
	return resp.StatusCode
}

func stringsOrDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
