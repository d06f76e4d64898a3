package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"match-service/internal/config"
	"match-service/internal/delivery/http/handler"
	"match-service/internal/delivery/http/middleware"
	"match-service/internal/delivery/http/routes"
	"match-service/internal/logger"
	"match-service/internal/pkg/validation"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

type App struct {
	Fiber     *fiber.App
	Container *Container
}

// New assembles the HTTP application around an already built container.
func New(c *Container) *App {
	f := fiber.New(fiber.Config{
		AppName:      c.Config.App.AppName,
		ErrorHandler: middleware.ErrorHandler,
		ReadTimeout:  15 * time.Second,
		// Scoring can take up to the scorer timeout plus store and cache work.
		WriteTimeout: c.Config.Scorer.Timeout + 15*time.Second,
	})

	registerGlobalMiddleware(f, c.Logger)
	registerRoutes(f, c)

	return &App{Fiber: f, Container: c}
}

// Bootstrap builds the container and the HTTP application. The returned
// cleanup releases every resource the container holds.
func Bootstrap(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, func() error, error) {
	c, err := NewContainer(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return New(c), c.Close, nil
}

func registerGlobalMiddleware(app *fiber.App, log *zap.Logger) {
	if app == nil {
		return
	}

	accessLog := middleware.NewAccessLogMiddleware(logger.Named(log, "http"))
	app.Use(accessLog.Middleware())

	errMw := middleware.NewErrorMiddleware(logger.Named(log, "http"))
	app.Use(errMw.Middleware())
}

func registerRoutes(app *fiber.App, c *Container) {
	if app == nil {
		return
	}

	health := handler.NewHealthHandler(c.Config.App.Version).
		WithCheck("database", c.Store, true).
		WithCheck("cache", c.Rankings, false)
	matches := handler.NewMatchHandler(c.Match, validation.New())

	routes.NewRegistry(health, matches).Register(app)
}

func ListenAddr(port string) (string, error) {
	p := strings.TrimSpace(port)
	if p == "" {
		return "", fmt.Errorf("empty HTTP port")
	}
	if strings.HasPrefix(p, ":") {
		return p, nil
	}
	return ":" + p, nil
}
