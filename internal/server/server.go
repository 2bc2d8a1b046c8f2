// Package server provides the Gin-based status and control API.
//
//	Public:          /api/health, /api/login, read-only /api/* views, /metrics
//	Protected (JWT): /api/optimize/start, /api/optimize/stop, /api/optimize/level
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vesaa/signalboost/internal/apperr"
	"github.com/vesaa/signalboost/internal/engine"
	"github.com/vesaa/signalboost/internal/models"
	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/profile"
)

// Optimizer is the orchestrator surface exposed over HTTP.
type Optimizer interface {
	Start(ctx context.Context, opts engine.Options) (engine.ApplyReport, error)
	Stop(ctx context.Context) (engine.RestoreReport, error)
	SetLevel(ctx context.Context, level profile.Level) (engine.ApplyReport, error)
	Status() engine.Status
	CurrentMetrics() engine.Metrics
	History() []netinfo.Snapshot
	ListInterfaces(ctx context.Context) ([]netinfo.Interface, error)
}

// HistoryStore is the persisted history; *store.Store satisfies it.
type HistoryStore interface {
	RecentSnapshots(ctx context.Context, limit int) ([]models.SnapshotRecord, error)
	Sessions(ctx context.Context, limit int) ([]models.Session, error)
	Session(ctx context.Context, uuid string) (*models.Session, error)
	Applies(ctx context.Context, sessionUUID string) ([]models.ApplyRecord, error)
}

// Server wires the API routes.
type Server struct {
	opt     Optimizer
	auth    Auth
	store   HistoryStore
	metrics prometheus.Gatherer
	log     *zap.Logger
	version string
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the persisted history routes.
func WithStore(s HistoryStore) Option { return func(srv *Server) { srv.store = s } }

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(srv *Server) { srv.metrics = g } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.log = l
		}
	}
}

// WithVersion sets the version reported by /api/health.
func WithVersion(v string) Option { return func(srv *Server) { srv.version = v } }

// New returns a Server around opt.
func New(opt Optimizer, auth Auth, opts ...Option) *Server {
	s := &Server{opt: opt, auth: auth, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("http")
	return s
}

// Handler builds the Gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), corsMiddleware)
	s.RegisterRoutes(r)
	RegisterStaticFiles(r)
	return r
}

// RegisterRoutes wires the API onto r.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// ── Public endpoints ──────────────────────────────────────────────────────
	api.GET("/health", s.handleHealth)
	api.POST("/login", s.handleLogin)
	api.GET("/status", s.handleStatus)
	api.GET("/metrics/current", s.handleCurrentMetrics)
	api.GET("/interfaces", s.handleInterfaces)
	api.GET("/history", s.handleHistory)
	api.GET("/sessions", s.handleSessions)
	api.GET("/sessions/:id", s.handleSession)

	// ── JWT-protected endpoints ───────────────────────────────────────────────
	ctl := api.Group("/optimize", s.auth.JWTMiddleware())
	{
		ctl.POST("/start", s.handleStart)
		ctl.POST("/stop", s.handleStop)
		ctl.POST("/level", s.handleLevel)
	}

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})))
	}
}

func corsMiddleware(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// ── Handlers ──────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version, "time": time.Now().UTC()})
}

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "admin" }
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}
	if !s.auth.checkCredentials(body.Username, body.Password) {
		s.log.Warn("login rejected", zap.String("user", body.Username), zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.auth.GenerateJWT(body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(s.auth.ttl().Seconds()),
		"type":       "Bearer",
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.opt.Status()})
}

func (s *Server) handleCurrentMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.opt.CurrentMetrics()})
}

func (s *Server) handleInterfaces(c *gin.Context) {
	ifaces, err := s.opt.ListInterfaces(c.Request.Context())
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ifaces})
}

// handleHistory returns the in-memory ring, or the persisted rows with
// ?source=db.
func (s *Server) handleHistory(c *gin.Context) {
	if c.Query("source") != "db" {
		c.JSON(http.StatusOK, gin.H{"data": s.opt.History()})
		return
	}
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history store disabled"})
		return
	}
	rows, err := s.store.RecentSnapshots(c.Request.Context(), queryInt(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) handleSessions(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history store disabled"})
		return
	}
	rows, err := s.store.Sessions(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) handleSession(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history store disabled"})
		return
	}
	id := c.Param("id")
	sess, err := s.store.Session(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	applies, err := s.store.Applies(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sess, "applies": applies})
}

type startRequest struct {
	TargetSpeed    float64                  `json:"target_speed" binding:"required,gt=0"`
	TargetSignal   int                      `json:"target_signal" binding:"gte=0,lte=100"`
	Level          string                   `json:"level"`
	ConnectionType string                   `json:"connection_type"`
	Interface      string                   `json:"interface"`
	Overrides      profile.Params           `json:"overrides"`
	Features       profile.FeatureOverrides `json:"features"`
}

// handleStart starts a session and returns the initial apply report.
//
//	POST /api/optimize/start
//	Body: { "target_speed": 50, "level": "standard" }
func (s *Server) handleStart(c *gin.Context) {
	var body startRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Level == "" {
		body.Level = profile.Standard.String()
	}
	level, err := profile.ParseLevel(body.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conn, err := profile.ParseConnectionType(body.ConnectionType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := s.opt.Start(detached(c), engine.Options{
		TargetSpeed:    body.TargetSpeed,
		TargetSignal:   body.TargetSignal,
		Level:          level,
		ConnectionType: conn,
		Interface:      body.Interface,
		Overrides:      profile.Clone(body.Overrides),
		Features:       body.Features,
	})
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.log.Info("optimization started via api", zap.String("user", c.GetString("username")), zap.String("session", report.SessionID))
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) handleStop(c *gin.Context) {
	report, err := s.opt.Stop(detached(c))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.log.Info("optimization stopped via api", zap.String("user", c.GetString("username")), zap.String("session", report.SessionID))
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) handleLevel(c *gin.Context) {
	var body struct {
		Level string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "level required"})
		return
	}
	level, err := profile.ParseLevel(body.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := s.opt.SetLevel(detached(c), level)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

// detached keeps request values but not cancellation: an apply must not be
// cut short because the client went away.
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidOptions):
		return http.StatusBadRequest
	case apperr.IsKind(err, apperr.KindStateViolation):
		return http.StatusConflict
	case apperr.IsKind(err, apperr.KindUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
