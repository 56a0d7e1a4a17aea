package web

import (
	"context"
	"net/http"

	"brazier/answer"
	"brazier/cache"
	"brazier/config"
	"brazier/database"
	"brazier/embedding"
	"brazier/ingest"
	"brazier/web/handlers"
	"brazier/web/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router  *gin.Engine
	limiter *middleware.ClientRateLimiter
	logger  *zap.Logger
	config  *config.Config
}

// Services bundles everything the HTTP surface exposes.
type Services struct {
	Answer   *answer.Service
	Pipeline *embedding.Pipeline
	Analyzer *ingest.Analyzer
	Importer *ingest.Importer
	Cache    *cache.AnalysisCache
	Store    *database.PostgresStore
}

func NewServer(services Services, logger *zap.Logger, cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	limiter := middleware.NewClientRateLimiter(middleware.RateLimiterConfig{
		MessagesPerMinute: cfg.RateLimitMessagesPerMin,
		BurstSize:         cfg.RateLimitBurstSize,
	}, logger)

	server := &Server{
		router:  router,
		limiter: limiter,
		logger:  logger,
		config:  cfg,
	}

	server.setupRoutes(services)
	return server
}

func (s *Server) setupRoutes(services Services) {
	chatHandler := handlers.NewChatHandler(services.Answer, s.logger)
	embeddingsHandler := handlers.NewEmbeddingsHandler(services.Pipeline, s.logger)
	knowledgeHandler := handlers.NewKnowledgeHandler(services.Analyzer, services.Importer, services.Cache, s.logger)
	feedbackHandler := handlers.NewFeedbackHandler(services.Store, s.logger)
	programsHandler := handlers.NewProgramsHandler(services.Store, s.logger)
	unitsHandler := handlers.NewUnitsHandler(services.Store, s.logger)

	api := s.router.Group("/api")

	chatLimit := middleware.RateLimitMiddleware(s.limiter, s.logger)
	api.POST("/chat", chatLimit, chatHandler.Chat)
	api.POST("/chat/simple", chatLimit, chatHandler.ChatSimple)

	api.POST("/embeddings/generate", embeddingsHandler.Generate)
	api.POST("/knowledge/analyze", knowledgeHandler.Analyze)
	api.POST("/knowledge/upload", knowledgeHandler.Upload)
	api.POST("/query-logs/:id/feedback", feedbackHandler.SetFeedback)
	api.POST("/programs", programsHandler.Upsert)

	api.GET("/knowledge/units/:id", unitsHandler.Get)
	api.PUT("/knowledge/units/:id", unitsHandler.Update)
	api.DELETE("/knowledge/units/:id", unitsHandler.Delete)

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting web server", zap.String("address", addr))

	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()

	s.logger.Info("Shutting down web server")
	s.limiter.Stop()
	return srv.Shutdown(context.Background())
}
