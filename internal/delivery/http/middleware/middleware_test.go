package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"match-service/internal/pkg/response"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newApp(log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(NewAccessLogMiddleware(log).Middleware())
	app.Use(NewErrorMiddleware(log).Middleware())

	app.Get("/ok", func(c fiber.Ctx) error {
		return response.Success(c, fiber.StatusOK, "", fiber.Map{"v": 1})
	})
	app.Get("/bad", func(c fiber.Ctx) error {
		return NewAppError(fiber.StatusBadRequest, "Invalid job_id", fiber.Map{"field": "job_id"}, errors.New("parse"))
	})
	app.Get("/internal", func(c fiber.Ctx) error {
		return NewAppError(fiber.StatusInternalServerError, "pq: relation matches does not exist", nil, nil)
	})
	app.Get("/plain", func(c fiber.Ctx) error {
		return errors.New("secret detail")
	})
	app.Get("/fiber", func(c fiber.Ctx) error {
		return fiber.NewError(fiber.StatusConflict, "")
	})
	app.Get("/panic", func(c fiber.Ctx) error {
		panic("boom")
	})
	return app
}

func call(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, response.SemanticResponse) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env response.SemanticResponse
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp, env
}

func TestErrorMiddleware_Envelope(t *testing.T) {
	app := newApp(zap.NewNop())

	cases := []struct {
		path    string
		status  int
		message string
	}{
		{"/ok", fiber.StatusOK, response.MessageOK},
		{"/bad", fiber.StatusBadRequest, "Invalid job_id"},
		{"/internal", fiber.StatusInternalServerError, response.MessageInternalServerError},
		{"/plain", fiber.StatusInternalServerError, response.MessageInternalServerError},
		{"/fiber", fiber.StatusConflict, response.MessageConflict},
		{"/panic", fiber.StatusInternalServerError, response.MessageInternalServerError},
		{"/missing", fiber.StatusNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			resp, env := call(t, app, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.status, env.Status)
			if tc.message != "" {
				assert.Equal(t, tc.message, env.Message)
			}
		})
	}
}

func TestErrorMiddleware_KeepsClientData(t *testing.T) {
	app := newApp(zap.NewNop())

	_, env := call(t, app, httptest.NewRequest(http.MethodGet, "/bad", nil))
	assert.Equal(t, map[string]any{"field": "job_id"}, env.Data)
}

func TestErrorMiddleware_LogsServerErrorsAndPanics(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	app := newApp(zap.New(core))

	call(t, app, httptest.NewRequest(http.MethodGet, "/plain", nil))
	call(t, app, httptest.NewRequest(http.MethodGet, "/panic", nil))
	call(t, app, httptest.NewRequest(http.MethodGet, "/bad", nil))

	assert.Equal(t, 1, logs.FilterMessage("[HTTP] request failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("[HTTP] panic recovered").Len())
	assert.Equal(t, 3, logs.FilterMessage("[HTTP] access").Len())
}

func TestAccessLog_RequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	app := newApp(zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(HeaderRequestID, "rid-123")
	resp, _ := call(t, app, req)
	assert.Equal(t, "rid-123", resp.Header.Get(HeaderRequestID))

	resp, _ = call(t, app, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	entries := logs.FilterMessage("[HTTP] access").All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "rid-123", fields["rid"])
	assert.Equal(t, int64(fiber.StatusOK), fields["status"])
	assert.Equal(t, "GET", fields["method"])
}

func TestAppError(t *testing.T) {
	cause := errors.New("parse")
	err := NewAppError(fiber.StatusBadRequest, "Bad request", nil, cause)
	assert.Equal(t, "Bad request: parse", err.Error())
	assert.ErrorIs(t, err, cause)

	var nilErr *AppError
	assert.Empty(t, nilErr.Error())
	assert.NoError(t, nilErr.Unwrap())
}
