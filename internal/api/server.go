package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"dexcore/internal/engine"
	"dexcore/internal/events"
	"dexcore/internal/monitor"
	"dexcore/internal/reconcile"
	"dexcore/internal/state"
	"dexcore/internal/trade"
	"dexcore/pkg/config"
	"dexcore/pkg/crypto"
)

// Sender is the outbound half of the engine channel.
type Sender interface {
	Send(ctx context.Context, cmd engine.Command) error
}

// Server exposes the surface-facing command envelope over HTTP plus a
// websocket event stream.
type Server struct {
	cfg      config.ServerConfig
	store    *state.Store
	vault    *crypto.Vault
	orch     *trade.Orchestrator
	worker   *reconcile.Worker
	sender   Sender
	bus      *events.Bus
	metrics  *monitor.Metrics
	tokens   *TokenIssuer
	networks config.Networks
	shutdown func()

	http *http.Server
}

type Deps struct {
	Config   config.ServerConfig
	Auth     config.AuthConfig
	Store    *state.Store
	Vault    *crypto.Vault
	Orch     *trade.Orchestrator
	Worker   *reconcile.Worker
	Sender   Sender
	Bus      *events.Bus
	Metrics  *monitor.Metrics
	Networks config.Networks
	Shutdown func()
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:      d.Config,
		store:    d.Store,
		vault:    d.Vault,
		orch:     d.Orch,
		worker:   d.Worker,
		sender:   d.Sender,
		bus:      d.Bus,
		metrics:  d.Metrics,
		tokens:   NewTokenIssuer(d.Auth.JWTSecret, d.Auth.TokenExpiry),
		networks: d.Networks,
		shutdown: d.Shutdown,
	}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(MetricsMiddleware(s.metrics))
	r.Use(RateLimitMiddleware(rate.Limit(50), 100))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/api/setup", s.handleSetup)
	r.POST("/api/unlock", s.handleUnlock)

	authed := r.Group("/api", s.tokens.AuthMiddleware())
	authed.POST("/command", s.handleCommand)
	authed.GET("/ws", s.handleWebsocket)

	return r
}

// Run serves until ctx is cancelled, then shuts the listener down with a
// short grace period.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("✅ API listening on %s", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// handleSetup establishes the vault password on first run.
func (s *Server) handleSetup(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.vault.Setup(c.Request.Context(), req.Password); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, crypto.ErrAlreadySetup) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.issueSession(c)
}

// handleUnlock checks the vault password and issues the session token.
func (s *Server) handleUnlock(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.vault.Unlock(c.Request.Context(), req.Password); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, crypto.ErrVaultNotSetup) {
			status = http.StatusPreconditionRequired
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.issueSession(c)
}

func (s *Server) issueSession(c *gin.Context) {
	token, err := s.tokens.Issue()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue session token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// handleCommand dispatches one envelope request.
func (s *Server) handleCommand(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failure("", fmt.Errorf("invalid envelope: %w", err)))
		return
	}
	if req.Type == "" {
		c.JSON(http.StatusBadRequest, failure(req.CommandID, errors.New("envelope type is required")))
		return
	}
	if req.CommandID == "" {
		req.CommandID = uuid.NewString()
	}

	h, ok := s.handlers()[req.Type]
	if !ok {
		c.JSON(http.StatusBadRequest, failure(req.CommandID, fmt.Errorf("unknown command type %q", req.Type)))
		return
	}

	data, err := h(c.Request.Context(), req.Data)
	if err != nil {
		c.JSON(statusFor(err), failure(req.CommandID, err))
		return
	}
	c.JSON(http.StatusOK, success(req.CommandID, data))
}

// statusFor maps command errors to HTTP statuses; the envelope status field
// is what the surface actually keys on.
func statusFor(err error) int {
	switch {
	case errors.Is(err, trade.ErrInvalidIntent),
		errors.Is(err, errMissingField):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrWalletNotFound),
		errors.Is(err, trade.ErrNoPool):
		return http.StatusNotFound
	case errors.Is(err, state.ErrWalletExists):
		return http.StatusConflict
	case errors.Is(err, crypto.ErrVaultLocked):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
