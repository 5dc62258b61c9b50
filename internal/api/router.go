package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers every HTTP route on e. workerWS serves the media
// worker's WebSocket upgrade.
func NewRouter(e *echo.Echo, h *Handlers, workerWS http.Handler) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/health/deps", h.HandleHealthDeps)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/sessions", h.HandleCreateSession)

	s := e.Group("/sessions/:id")
	s.POST("/start", h.HandleStartSession)
	s.POST("/end", h.HandleEndSession)
	s.POST("/turns", h.HandleDeliverTurn)
	s.POST("/worker-token", h.HandleMintWorkerToken)
	s.GET("/events", h.HandleListEvents)
	s.GET("/state", h.HandleState)
	s.GET("/transcript", h.HandleTranscript)

	if workerWS != nil {
		e.GET("/ws/worker", echo.WrapHandler(workerWS))
	}
}
