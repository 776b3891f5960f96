package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fraudguard/internal/config"
	"fraudguard/internal/dispute"
	"fraudguard/internal/errors"
	"fraudguard/internal/evidence"
	"fraudguard/internal/identity"
	"fraudguard/internal/metrics"
	"fraudguard/internal/notify"
	"fraudguard/internal/oracle"
	"fraudguard/internal/transaction"
	"fraudguard/internal/validation"
)

// Deps API依赖的服务，Metrics 可为空
type Deps struct {
	Config       *config.Config
	Lifecycle    *dispute.Lifecycle
	Transactions transaction.Repository
	Analyzer     *oracle.Analyzer
	Evidence     evidence.Storage
	Feed         *notify.Feed
	Committer    *identity.Committer
	Validator    *validation.Validator
	Metrics      *metrics.Collector
	ErrorHandler *errors.ErrorHandler
}

// Server API服务器，只消费 Lifecycle 等服务，不持有业务状态
type Server struct {
	config       *config.Config
	lifecycle    *dispute.Lifecycle
	transactions transaction.Repository
	analyzer     *oracle.Analyzer
	evidence     evidence.Storage
	feed         *notify.Feed
	committer    *identity.Committer
	validator    *validation.Validator
	metrics      *metrics.Collector
	errHandler   *errors.ErrorHandler

	logger     *logrus.Logger
	logManager *LogManager
	maxUpload  int64
	router     *gin.Engine
	server     *http.Server
	startedAt  time.Time
}

// NewServer 创建API服务器
func NewServer(deps Deps, logger *logrus.Logger) *Server {
	bufferSize := 1000
	if deps.Config != nil {
		gin.SetMode(deps.Config.Server.Mode)
		bufferSize = deps.Config.Server.LogBufferSize
	}

	logManager := NewLogManager(bufferSize)
	logger.AddHook(NewLogHook(logManager))

	if deps.ErrorHandler == nil {
		deps.ErrorHandler = errors.NewErrorHandler(logger)
	}
	if deps.Committer == nil {
		deps.Committer = identity.NewCommitter()
	}

	s := &Server{
		config:       deps.Config,
		lifecycle:    deps.Lifecycle,
		transactions: deps.Transactions,
		analyzer:     deps.Analyzer,
		evidence:     deps.Evidence,
		feed:         deps.Feed,
		committer:    deps.Committer,
		validator:    deps.Validator,
		metrics:      deps.Metrics,
		errHandler:   deps.ErrorHandler,
		logger:       logger,
		logManager:   logManager,
		startedAt:    time.Now(),
	}
	if deps.Config != nil && deps.Config.Evidence != nil {
		s.maxUpload = deps.Config.Evidence.MaxUploadSize
	}
	s.router = s.buildRouter()
	return s
}

// Handler 返回路由，测试直接使用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动API服务器，阻塞直到服务关闭
func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("API服务器启动在端口 %d", port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止接收新请求并等待进行中的请求完成
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("API服务器正在停止")
	return s.server.Shutdown(ctx)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger 以 logrus 记录请求
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("HTTP请求")
	}
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors())
	router.Use(s.requestLogger())
	if s.metrics != nil {
		router.Use(s.metrics.GinMiddleware())
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		disputes := api.Group("/disputes")
		disputes.POST("", s.createDispute)
		disputes.GET("", s.listDisputes)
		disputes.GET("/:id", s.getDispute)
		disputes.POST("/:id/evidence", s.addEvidence)
		disputes.POST("/:id/evidence/upload", s.uploadEvidence)
		disputes.GET("/:id/evidence", s.listEvidence)
		disputes.GET("/:id/timeline", s.timeline)
		disputes.POST("/:id/voting", s.startVoting)
		disputes.POST("/:id/vote", s.castVote)
		disputes.POST("/:id/resolve", s.resolveDispute)

		txs := api.Group("/transactions")
		txs.GET("", s.listTransactions)
		txs.POST("/analyze", s.bulkAnalyze)
		txs.GET("/:id", s.getTransaction)
		txs.PUT("/:id/risk-level", s.updateRiskLevel)
		txs.POST("/:id/analyze", s.analyzeTransaction)
		txs.GET("/:id/analysis", s.getAnalysis)
		txs.POST("/:id/feedback", s.submitFeedback)

		notifications := api.Group("/notifications")
		notifications.GET("", s.listNotifications)
		notifications.POST("/read-all", s.markAllNotificationsRead)
		notifications.POST("/:id/read", s.markNotificationRead)
		notifications.DELETE("/:id", s.deleteNotification)
		notifications.DELETE("", s.clearNotifications)

		api.POST("/identity/commitments", s.createCommitment)
		api.POST("/identity/commitments/verify", s.verifyCommitment)

		api.GET("/config", s.getConfig)
		api.GET("/stats", s.getStats)
		api.GET("/errors/stats", s.getErrorStats)
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
	return router
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "fraudguard-api",
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// getConfig 返回生效中的策略配置，不包含密钥与连接串
func (s *Server) getConfig(c *gin.Context) {
	body := gin.H{
		"policy":             s.lifecycle.Policy(),
		"evidence_validator": s.lifecycle.EvidenceValidator(),
	}
	if cfg := s.config; cfg != nil {
		body["oracle"] = gin.H{
			"enabled": cfg.Oracle.Enabled,
			"url":     cfg.Oracle.URL,
			"timeout": cfg.Oracle.Timeout.String(),
			"workers": cfg.Oracle.Workers,
		}
		body["storage"] = cfg.Storage.Driver
		body["transactions"] = cfg.Transactions.Source
		body["output"] = cfg.Output.Format
	}
	c.JSON(http.StatusOK, body)
}

// getStats 服务运行统计
func (s *Server) getStats(c *gin.Context) {
	body := gin.H{
		"uptime":               time.Since(s.startedAt).Round(time.Second).String(),
		"unread_notifications": s.feed.UnreadCount(),
	}
	if s.validator != nil {
		body["validation"] = s.validator.GetValidationStats()
	}
	c.JSON(http.StatusOK, body)
}

// getErrorStats 错误处理器统计
func (s *Server) getErrorStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.errHandler.GetStats())
}
