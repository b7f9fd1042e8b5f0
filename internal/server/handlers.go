package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Cownjackson/open-deep-research/internal/research"
)

// Handler adapts the research service to HTTP. It holds no state of its
// own; all session state lives in the service's registry.
type Handler struct {
	Svc *research.Service

	// AllowClarification is the default when a request omits the field.
	AllowClarification bool
}

// Register mounts the API routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.health)

	api := e.Group("/api")
	api.POST("/research", h.start)
	api.GET("/research", h.list)
	api.POST("/research/sync", h.sync)
	api.POST("/research/continue", h.continueLatest)
	api.GET("/research/:id/progress", h.progress)
	api.GET("/research/:id/result", h.result)
	api.POST("/research/:id/continue", h.continueSession)
	api.GET("/threads/:id/recover", h.recover)
}

type startRequest struct {
	Question           string `json:"question"`
	AllowClarification *bool  `json:"allow_clarification,omitempty"`
}

type continueRequest struct {
	Answer string `json:"answer"`
}

func (h *Handler) health(c echo.Context) error {
	if !h.Svc.Health(c.Request().Context()) {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"engine_up": false})
	}
	return c.JSON(http.StatusOK, map[string]any{"engine_up": true})
}

func (h *Handler) start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	opts := research.Options{AllowClarification: h.AllowClarification}
	if req.AllowClarification != nil {
		opts.AllowClarification = *req.AllowClarification
	}
	sessionID, err := h.Svc.StartResearch(c.Request().Context(), req.Question, opts)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{"session_id": sessionID})
}

func (h *Handler) sync(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	opts := research.Options{AllowClarification: h.AllowClarification}
	if req.AllowClarification != nil {
		opts.AllowClarification = *req.AllowClarification
	}
	outcome, err := h.Svc.Research(c.Request().Context(), req.Question, opts)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, outcome)
}

func (h *Handler) progress(c echo.Context) error {
	p, err := h.Svc.PollProgress(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id":      p.SessionID,
		"status":          p.Status,
		"run_status":      p.RunStatus,
		"elapsed_seconds": int(p.Elapsed / time.Second),
	})
}

func (h *Handler) result(c echo.Context) error {
	outcome, err := h.Svc.FetchResult(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, outcome)
}

func (h *Handler) continueSession(c echo.Context) error {
	return h.continueWith(c, c.Param("id"))
}

func (h *Handler) continueLatest(c echo.Context) error {
	return h.continueWith(c, "")
}

func (h *Handler) continueWith(c echo.Context, sessionID string) error {
	var req continueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Answer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "answer is required")
	}
	id, err := h.Svc.Continue(c.Request().Context(), sessionID, req.Answer)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{"session_id": id})
}

func (h *Handler) list(c echo.Context) error {
	sessions, err := h.Svc.ListSessions(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) recover(c echo.Context) error {
	outcome, err := h.Svc.RecoverByThread(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, outcome)
}

// httpError maps core failures onto HTTP statuses. Every mapped error
// message already carries the session and/or thread id.
func httpError(err error) error {
	var runFailed *research.RunFailedError
	var timedOut *research.WaitTimeoutError
	switch {
	case errors.Is(err, research.ErrSessionNotFound), errors.Is(err, research.ErrNoSessions):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, research.ErrEngineUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, research.ErrRunInFlight), errors.Is(err, research.ErrRunNotFinished):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, research.ErrNoUsableResult):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &timedOut):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &runFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
