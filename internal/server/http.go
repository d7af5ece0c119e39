package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"openfms/framekit/internal/message"
	"openfms/framekit/internal/model"
	"openfms/framekit/internal/protocol"
	"openfms/framekit/internal/store"
)

// Handler exposes the management API, mainly for tests
func (s *TCPServer) Handler() http.Handler {
	return s.router
}

func (s *TCPServer) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(s.log.With().Str("component", "http").Logger()))

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	r.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/ws/frames", s.hub.Handle)

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(s.config.JWTSecret))
	{
		// Protocols
		api.GET("/protocols", s.handleProtocols)
		api.POST("/protocols/:name/commands/:command/preview", s.handlePreview)
		api.POST("/protocols/:name/describe", s.handleDescribe)

		// Sessions
		api.GET("/sessions", s.handleSessions)
		api.GET("/sessions/:id", s.handleSession)
		api.PUT("/sessions/:id/framing", s.handleSetFraming)
		api.POST("/sessions/:id/flush", s.handleFlush)
		api.POST("/sessions/:id/commands", s.handleSendCommand)

		// Traffic log
		api.GET("/logs", s.handleLogs)
		api.GET("/logs/export", s.handleExportLogs)
	}
	return r
}

func (s *TCPServer) startHTTPServer() {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("HTTP server listening")

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	<-s.ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}

// accessLog logs one line per request, at a level chosen by status
func accessLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var evt *zerolog.Event
		switch {
		case status >= 500:
			evt = log.Error()
		case status >= 400:
			evt = log.Warn()
		default:
			evt = log.Debug()
		}
		evt.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("query", c.Request.URL.RawQuery).
			Str("remote_addr", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("http_request")
	}
}

// errorStatus maps domain errors onto HTTP status codes
func errorStatus(err error) int {
	var bindErr *message.BindingError
	switch {
	case errors.As(err, &bindErr),
		errors.Is(err, message.ErrInvalidValue),
		errors.Is(err, message.ErrUnsizedElement),
		errors.Is(err, message.ErrUnknownElement),
		errors.Is(err, protocol.ErrInvalidFraming):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, protocol.ErrUnknownProtocol),
		errors.Is(err, protocol.ErrUnknownCommand),
		errors.Is(err, protocol.ErrUnknownStructure):
		return http.StatusNotFound
	case errors.Is(err, ErrWriteFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func (s *TCPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"gateway_id": s.config.GatewayID,
		"sessions":   len(s.Sessions()),
		"monitors":   s.hub.ClientCount(),
		"nats":       s.nats != nil,
		"store":      s.store != nil,
	})
}

type protocolInfo struct {
	Name       string                 `json:"name"`
	Match      protocol.HexBytes      `json:"match,omitempty"`
	Framing    protocol.FramingConfig `json:"framing"`
	Structures map[string]*int        `json:"structures"`
	Commands   []string               `json:"commands"`
}

// handleProtocols lists the project's protocols. Structure sizes are null
// when they depend on runtime data.
func (s *TCPServer) handleProtocols(c *gin.Context) {
	out := make([]protocolInfo, 0, len(s.project.Protocols))
	for _, p := range s.project.Protocols {
		info := protocolInfo{
			Name:       p.Name,
			Match:      p.Match,
			Framing:    p.Framing,
			Structures: make(map[string]*int, len(p.Structures)),
			Commands:   make([]string, 0, len(p.Commands)),
		}
		for name, st := range p.Structures {
			if n, ok := message.SizeOf(st); ok {
				info.Structures[name] = &n
			} else {
				info.Structures[name] = nil
			}
		}
		for _, cmd := range p.Commands {
			info.Commands = append(info.Commands, cmd.Name)
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

type commandBody struct {
	Params  map[string]any    `json:"params"`
	Payload protocol.HexBytes `json:"payload"`
}

func (s *TCPServer) handlePreview(c *gin.Context) {
	var req commandBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.Preview(c.Request.Context(), c.Param("name"), c.Param("command"), req.Params, req.Payload)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *TCPServer) handleDescribe(c *gin.Context) {
	var req struct {
		Structure string            `json:"structure" binding:"required"`
		Data      protocol.HexBytes `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.Describe(c.Param("name"), req.Structure, req.Data)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *TCPServer) handleSessions(c *gin.Context) {
	sessions := s.Sessions()
	c.JSON(http.StatusOK, gin.H{"data": sessions, "total": len(sessions)})
}

func (s *TCPServer) handleSession(c *gin.Context) {
	session, ok := s.Session(c.Param("id"))
	if !ok {
		abortWithError(c, fmt.Errorf("%w: %s", ErrSessionNotFound, c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, session.Info())
}

func (s *TCPServer) handleSetFraming(c *gin.Context) {
	var cfg protocol.FramingConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.SetFraming(c.Request.Context(), c.Param("id"), cfg); err != nil {
		abortWithError(c, err)
		return
	}
	session, ok := s.Session(c.Param("id"))
	if !ok {
		abortWithError(c, fmt.Errorf("%w: %s", ErrSessionNotFound, c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, session.Info())
}

func (s *TCPServer) handleFlush(c *gin.Context) {
	if err := s.Flush(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "flushed"})
}

func (s *TCPServer) handleSendCommand(c *gin.Context) {
	var req struct {
		commandBody
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.SendCommand(c.Request.Context(), c.Param("id"), req.Command, req.Params, req.Payload)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// queryLogs reads the traffic log for ?session_id= or ?device=
func (s *TCPServer) queryLogs(c *gin.Context) ([]model.TrafficLog, bool) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "traffic store not configured"})
		return nil, false
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	limit, offset = store.Page(limit, offset)

	var (
		logs []model.TrafficLog
		err  error
	)
	switch {
	case c.Query("session_id") != "":
		logs, err = s.store.BySession(c.Request.Context(), c.Query("session_id"), limit, offset)
	case c.Query("device") != "":
		logs, err = s.store.ByDevice(c.Request.Context(), c.Query("device"), limit, offset)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id or device is required"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return logs, true
}

func (s *TCPServer) handleLogs(c *gin.Context) {
	logs, ok := s.queryLogs(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs, "total": len(logs)})
}

func (s *TCPServer) handleExportLogs(c *gin.Context) {
	logs, ok := s.queryLogs(c)
	if !ok {
		return
	}
	buf, err := store.ExportXLSX(logs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	filename := fmt.Sprintf("traffic_%s.xlsx", time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
