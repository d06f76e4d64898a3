package handler

import (
	"context"
	"time"

	"match-service/internal/pkg/response"

	"github.com/gofiber/fiber/v3"
)

// Pinger is anything the readiness probe depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthCheck struct {
	name     string
	pinger   Pinger
	critical bool
}

type HealthHandler struct {
	version string
	timeout time.Duration
	checks  []healthCheck
}

func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, timeout: 2 * time.Second}
}

// WithCheck registers a named dependency. Only critical dependencies fail the
// readiness probe. Nil pingers are ignored.
func (h *HealthHandler) WithCheck(name string, p Pinger, critical bool) *HealthHandler {
	if p == nil {
		return h
	}
	h.checks = append(h.checks, healthCheck{name: name, pinger: p, critical: critical})
	return h
}

func (h *HealthHandler) RegisterRoutes(r fiber.Router) {
	if r == nil {
		return
	}
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/live", h.Live)
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
}

// Health always answers 200 and reports each dependency.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	res, _ := h.run(c.Context())
	return response.Success(c, fiber.StatusOK, response.MessageOK, res)
}

func (h *HealthHandler) Ready(c fiber.Ctx) error {
	res, ok := h.run(c.Context())
	if !ok {
		return response.Error(c, fiber.StatusServiceUnavailable, response.MessageServiceUnavailable, res)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, res)
}

func (h *HealthHandler) Live(c fiber.Ctx) error {
	return response.Success(c, fiber.StatusOK, response.MessageOK, fiber.Map{"status": "alive"})
}

func (h *HealthHandler) run(ctx context.Context) (healthResponse, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res := healthResponse{Status: "healthy", Version: h.version, Checks: make(map[string]string, len(h.checks))}
	ready := true
	for _, chk := range h.checks {
		if err := chk.pinger.Ping(ctx); err != nil {
			res.Checks[chk.name] = "unhealthy: " + err.Error()
			res.Status = "degraded"
			if chk.critical {
				ready = false
			}
			continue
		}
		res.Checks[chk.name] = "healthy"
	}
	return res, ready
}
