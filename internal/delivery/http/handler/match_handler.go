package handler

import (
	"errors"
	"strconv"
	"strings"

	"match-service/internal/delivery/http/dto"
	"match-service/internal/delivery/http/middleware"
	"match-service/internal/domain/match"
	"match-service/internal/pkg/response"
	"match-service/internal/pkg/validation"
	"match-service/internal/usecase"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type MatchHandler struct {
	uc       usecase.MatchUsecase
	validate *validation.Validator
}

func NewMatchHandler(uc usecase.MatchUsecase, v *validation.Validator) *MatchHandler {
	if v == nil {
		v = validation.New()
	}
	return &MatchHandler{uc: uc, validate: v}
}

func (h *MatchHandler) RegisterRoutes(r fiber.Router) {
	if r == nil {
		return
	}
	grp := r.Group("/matches")

	grp.Post("/", h.Create)
	grp.Post("/score", h.Score)
	grp.Post("/score/batch", h.ScoreBatch)
	grp.Post("/feedback", h.AddFeedback)

	grp.Get("/job/:job_id/top", h.TopForJob)
	grp.Get("/job/:job_id/resume/:resume_id", h.GetByPair)
	grp.Get("/job/:job_id", h.ListForJob)
	grp.Delete("/job/:job_id", h.DeleteForJob)

	grp.Get("/user/:user_id/recommended", h.RecommendedForUser)
	grp.Get("/user/:user_id", h.ListForUser)

	grp.Delete("/resume/:resume_id", h.DeleteForResume)

	grp.Get("/:id", h.Get)
	grp.Patch("/:id", h.Update)
	grp.Delete("/:id", h.Delete)
}

func (h *MatchHandler) Create(c fiber.Ctx) error {
	var req dto.CreateMatchRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	rec, err := h.uc.CreateMatch(c.Context(), usecase.CreateMatchInput{
		JobID:    req.JobID,
		ResumeID: req.ResumeID,
		UserID:   req.UserID,
	})
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Created(c, dto.NewMatchResponse(rec))
}

func (h *MatchHandler) Get(c fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	rec, err := h.uc.GetMatch(c.Context(), id)
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewMatchResponse(rec))
}

func (h *MatchHandler) GetByPair(c fiber.Ctx) error {
	jobID, err := parseUUIDParam(c, "job_id")
	if err != nil {
		return err
	}
	resumeID, err := parseUUIDParam(c, "resume_id")
	if err != nil {
		return err
	}

	rec, err := h.uc.GetMatchByPair(c.Context(), jobID, resumeID)
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewMatchResponse(rec))
}

func (h *MatchHandler) ListForJob(c fiber.Ctx) error {
	jobID, err := parseUUIDParam(c, "job_id")
	if err != nil {
		return err
	}
	page, size, err := parsePage(c)
	if err != nil {
		return err
	}

	q := usecase.JobMatchesQuery{Page: page, PageSize: size}
	if s := strings.TrimSpace(c.Query("min_score")); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return badQuery("min_score", err)
		}
		q.MinScore = &v
	}

	p, err := h.uc.ListMatchesForJob(c.Context(), jobID, q)
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewMatchListResponse(p))
}

func (h *MatchHandler) ListForUser(c fiber.Ctx) error {
	userID, err := parseUUIDParam(c, "user_id")
	if err != nil {
		return err
	}
	page, size, err := parsePage(c)
	if err != nil {
		return err
	}

	q := usecase.UserMatchesQuery{Page: page, PageSize: size}
	if s := strings.TrimSpace(c.Query("recommended_only")); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return badQuery("recommended_only", err)
		}
		q.RecommendedOnly = v
	}

	p, err := h.uc.ListMatchesForUser(c.Context(), userID, q)
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewMatchListResponse(p))
}

func (h *MatchHandler) Update(c fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	req, err := dto.DecodeUpdateMatchRequest(c.Body())
	if err != nil {
		return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", fiber.Map{"reason": err.Error()}, err)
	}

	rec, err := h.uc.UpdateMatch(c.Context(), id, req.Patch())
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewMatchResponse(rec))
}

func (h *MatchHandler) Delete(c fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.uc.DeleteMatch(c.Context(), id); err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.NoContent(c)
}

func (h *MatchHandler) DeleteForJob(c fiber.Ctx) error {
	jobID, err := parseUUIDParam(c, "job_id")
	if err != nil {
		return err
	}

	n, err := h.uc.DeleteMatchesForJob(c.Context(), jobID)
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.BulkDeleteResponse{Deleted: n})
}

func (h *MatchHandler) DeleteForResume(c fiber.Ctx) error {
	resumeID, err := parseUUIDParam(c, "resume_id")
	if err != nil {
		return err
	}

	n, err := h.uc.DeleteMatchesForResume(c.Context(), resumeID)
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.BulkDeleteResponse{Deleted: n})
}

func (h *MatchHandler) Score(c fiber.Ctx) error {
	var req dto.ScoreRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	out, err := h.uc.CalculateScore(c.Context(), toScoreRequest(req))
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewScoreResponse(out))
}

func (h *MatchHandler) ScoreBatch(c fiber.Ctx) error {
	var req dto.BatchScoreRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	reqs := make([]usecase.ScoreRequest, 0, len(req.Items))
	for _, it := range req.Items {
		reqs = append(reqs, toScoreRequest(it))
	}

	items, err := h.uc.CalculateScores(c.Context(), reqs)
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewBatchScoreResponse(items))
}

func (h *MatchHandler) TopForJob(c fiber.Ctx) error {
	jobID, err := parseUUIDParam(c, "job_id")
	if err != nil {
		return err
	}
	limit, err := parseQueryIntStrict(c, "limit", usecase.DefaultTopLimit)
	if err != nil {
		return badQuery("limit", err)
	}

	entries, err := h.uc.GetTopMatchesForJob(c.Context(), jobID, limit)
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewTopMatchesResponse(jobID, entries))
}

func (h *MatchHandler) RecommendedForUser(c fiber.Ctx) error {
	userID, err := parseUUIDParam(c, "user_id")
	if err != nil {
		return err
	}
	limit, err := parseQueryIntStrict(c, "limit", usecase.DefaultTopLimit)
	if err != nil {
		return badQuery("limit", err)
	}

	entries, err := h.uc.GetRecommendedJobsForUser(c.Context(), userID, limit)
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewRecommendedJobsResponse(userID, entries))
}

func (h *MatchHandler) AddFeedback(c fiber.Ctx) error {
	var req dto.FeedbackRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	fb, err := h.uc.AddFeedback(c.Context(), usecase.FeedbackInput{
		MatchID:      req.MatchID,
		FeedbackType: req.FeedbackType,
		FeedbackBy:   req.FeedbackBy,
	})
	if err != nil {
		return mapMatchUsecaseError(err)
	}
	return response.Created(c, dto.NewFeedbackResponse(fb))
}

func (h *MatchHandler) bind(c fiber.Ctx, out any) error {
	if err := c.Bind().Body(out); err != nil {
		return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", nil, err)
	}
	if err := h.validate.Validate(out); err != nil {
		return middleware.NewAppError(fiber.StatusBadRequest, "Validation failed", validation.Details(err), err)
	}
	return nil
}

func toScoreRequest(r dto.ScoreRequest) usecase.ScoreRequest {
	return usecase.ScoreRequest{
		JobID:            r.JobID,
		ResumeID:         r.ResumeID,
		UserID:           r.UserID,
		ForceRecalculate: r.ForceRecalculate,
	}
}

func parseUUIDParam(c fiber.Ctx, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(key))
	if err != nil {
		return uuid.Nil, middleware.NewAppError(fiber.StatusBadRequest, "Invalid "+key, nil, err)
	}
	return id, nil
}

func parsePage(c fiber.Ctx) (int, int, error) {
	page, err := parseQueryIntStrict(c, "page", 1)
	if err != nil {
		return 0, 0, badQuery("page", err)
	}
	size, err := parseQueryIntStrict(c, "page_size", usecase.DefaultPageSize)
	if err != nil {
		return 0, 0, badQuery("page_size", err)
	}
	return page, size, nil
}

func parseQueryIntStrict(c fiber.Ctx, key string, defaultVal int) (int, error) {
	s := strings.TrimSpace(c.Query(key))
	if s == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(s)
}

func badQuery(key string, err error) error {
	return middleware.NewAppError(fiber.StatusBadRequest, "Invalid "+key, nil, err)
}

func mapMatchUsecaseError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, match.ErrNotFound):
		return middleware.NewAppError(fiber.StatusNotFound, "Match not found", nil, err)
	case errors.Is(err, match.ErrConflict):
		return middleware.NewAppError(fiber.StatusConflict, "Match already exists", nil, err)
	case errors.Is(err, match.ErrValidation):
		return middleware.NewAppError(fiber.StatusBadRequest, "Invalid match data", fiber.Map{"reason": err.Error()}, err)
	case errors.Is(err, usecase.ErrInvalidInput):
		return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", nil, err)
	default:
		return middleware.NewAppError(fiber.StatusInternalServerError, response.MessageInternalServerError, nil, err)
	}
}
