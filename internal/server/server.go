package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/riposte/internal/config"
	"github.com/ifuryst/riposte/internal/metrics"
	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/internal/service"
	"github.com/ifuryst/riposte/internal/service/approval"
	"github.com/ifuryst/riposte/internal/service/channel"
	"github.com/ifuryst/riposte/internal/store"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Deps are the services the HTTP surface drives.
type Deps struct {
	Store      *store.Store
	Listener   *service.Listener
	Sweeper    *service.Sweeper
	Monitoring *service.MonitoringService
	Auth       *service.AuthService
	Metrics    *metrics.Collector
	ChatID     int64
}

type Server struct {
	Config *config.Config
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	deps Deps
}

func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)

	srv := &Server{
		Config: cfg,
		Router: gin.New(),
		Logger: logger,
		deps:   deps,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	srv.Server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		// the webhook path carries the secret
		SkipPaths: []string{"/telegram/webhook/" + s.Config.Telegram.WebhookSecret},
	}))

	if s.deps.Metrics != nil {
		s.Router.Use(s.deps.Metrics.Middleware())
	}
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	if s.deps.Metrics != nil {
		s.Router.GET("/metrics", s.deps.Metrics.Handler())
	}

	s.Router.POST("/telegram/webhook/:secret", s.handleTelegramWebhook)

	api := s.Router.Group("/api/v1")
	api.Use(s.deps.Auth.AuthMiddleware())
	{
		drafts := api.Group("/drafts")
		{
			drafts.GET("", s.handleListDrafts)
			drafts.GET("/:id", s.handleGetDraft)
			drafts.POST("/:id/decision", s.handleDecision)
		}
		api.POST("/sweep", s.handleSweep)
		api.GET("/report", s.handleReport)
		api.GET("/errors", s.handleRecentErrors)
	}
}

func (s *Server) handleTelegramWebhook(c *gin.Context) {
	secret := s.Config.Telegram.WebhookSecret
	if secret == "" || !secureEqual(c.Param("secret"), secret) || !secureEqual(c.GetHeader(telegramSecretHeader), secret) {
		c.Status(http.StatusNotFound)
		return
	}

	update, err := channel.DecodeUpdate(c.Request.Body)
	if err != nil {
		s.Logger.Warn("Malformed telegram update", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	if ev, ok := channel.ParseUpdate(update, s.deps.ChatID); ok {
		s.deps.Listener.Handle(c.Request.Context(), ev)
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleListDrafts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	drafts, err := s.deps.Store.ListDrafts(c.Request.Context(), models.DraftStatus(c.Query("status")), limit)
	if err != nil {
		s.Logger.Error("Failed to list drafts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list drafts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"drafts": drafts})
}

func (s *Server) handleGetDraft(c *gin.Context) {
	draft, err := s.deps.Store.GetDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
			return
		}
		s.Logger.Error("Failed to get draft", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get draft"})
		return
	}

	resp := gin.H{"draft": draft}
	if result, err := s.deps.Store.GetPostResult(c.Request.Context(), draft.ID); err == nil {
		resp["result"] = result
	}
	c.JSON(http.StatusOK, resp)
}

type decisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Text     string `json:"text"`
}

func (s *Server) handleDecision(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	d, err := approval.ParseDecision(req.Decision, req.Text)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := s.deps.Listener.Decide(c.Request.Context(), c.Param("id"), d.From("api"))
	switch {
	case errors.Is(err, approval.ErrUnknownDraft):
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
		return
	case err != nil:
		s.Logger.Error("Failed to apply decision", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply decision"})
		return
	}

	resp := gin.H{"applied": out.Applied, "draft": out.Draft}
	if out.Result != nil {
		resp["result"] = out.Result
	}
	if out.PublishErr != nil {
		resp["publish_error"] = out.PublishErr.Error()
	}
	status := http.StatusOK
	if !out.Applied {
		status = http.StatusConflict
	}
	c.JSON(status, resp)
}

func (s *Server) handleSweep(c *gin.Context) {
	n, err := s.deps.Sweeper.Sweep(c.Request.Context())
	if err != nil {
		s.Logger.Error("Manual sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

func (s *Server) handleReport(c *gin.Context) {
	stats, err := s.deps.Monitoring.Today(c.Request.Context())
	if err != nil {
		s.Logger.Error("Failed to build report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build report"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "text": service.FormatReport(stats, false)})
}

func (s *Server) handleRecentErrors(c *gin.Context) {
	errs, err := s.deps.Monitoring.GetRecentErrors(50)
	if err != nil {
		s.Logger.Error("Failed to get recent errors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get errors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": errs})
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Start serves until Shutdown. Shutdown may run before Start; Start then returns nil at once.
func (s *Server) Start() error {
	s.Logger.Info("Starting HTTP server", zap.String("addr", s.Server.Addr))

	var err error
	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
