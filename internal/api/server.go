// Package api serves read-only HTTP queries over the violation ledger.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	k8stypes "k8s.io/apimachinery/pkg/types"

	"github.com/nautilusbot/nautilus/internal/engine"
	"github.com/nautilusbot/nautilus/internal/ledger"
	"github.com/nautilusbot/nautilus/internal/report"
	"github.com/nautilusbot/nautilus/internal/types"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeNotFound      = "not_found"
	CodeBadRequest    = "bad_request"
	CodeInternal      = "internal"
	CodeNoPassYet     = "no_pass_yet"
	CodeUnknownReason = "unknown_reason"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CountsResponse is the reply of the counts endpoint.
type CountsResponse struct {
	UID      string           `json:"uid"`
	Reason   types.ReasonCode `json:"reason"`
	Rolling  int              `json:"rolling"`
	Lifetime int              `json:"lifetime"`
	Repeat   bool             `json:"repeatOffender"`
}

// Ledger is the read side of the ledger. *ledger.Ledger satisfies it.
type Ledger interface {
	report.EntrySource
	Entry(ctx context.Context, uid k8stypes.UID) (*ledger.Entry, error)
	RollingCount(ctx context.Context, uid k8stypes.UID, reason types.ReasonCode) (int, error)
	LifetimeCount(ctx context.Context, uid k8stypes.UID, reason types.ReasonCode) (int, error)
}

// LastPassFunc returns the latest pass, or nil before the first one.
type LastPassFunc func() *engine.PassResult

// Handlers holds the HTTP handlers.
type Handlers struct {
	ledger   Ledger
	lastPass LastPassFunc
	logger   *zap.Logger
}

// NewHandlers creates handlers. lastPass may be nil.
func NewHandlers(l Ledger, lastPass LastPassFunc, logger *zap.Logger) *Handlers {
	if lastPass == nil {
		lastPass = func() *engine.PassResult { return nil }
	}
	return &Handlers{ledger: l, lastPass: lastPass, logger: logger}
}

// RegisterRoutes adds the API routes under rg.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/ledger", h.ListEntries)
	rg.GET("/ledger/:uid", h.GetEntry)
	rg.GET("/ledger/:uid/counts", h.GetCounts)
	rg.GET("/reports/repeat-offenders", h.RepeatOffenders)
	rg.GET("/passes/last", h.LastPass)
}

// ListEntries handles GET /ledger.
func (h *Handlers) ListEntries(c *gin.Context) {
	entries, err := h.ledger.Entries(c.Request.Context())
	if err != nil {
		h.internalError(c, "list ledger entries", err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// GetEntry handles GET /ledger/:uid.
func (h *Handlers) GetEntry(c *gin.Context) {
	uid := k8stypes.UID(c.Param("uid"))
	e, err := h.ledger.Entry(c.Request.Context(), uid)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("no ledger entry for %s", uid), Code: CodeNotFound})
		return
	}
	if err != nil {
		h.internalError(c, "get ledger entry", err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GetCounts handles GET /ledger/:uid/counts?reason=<code>.
func (h *Handlers) GetCounts(c *gin.Context) {
	uid := k8stypes.UID(c.Param("uid"))
	raw := c.Query("reason")
	if raw == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "reason query parameter is required", Code: CodeBadRequest})
		return
	}
	reason := types.ReasonCode(raw)
	if !reason.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown reason %q", raw), Code: CodeUnknownReason})
		return
	}

	ctx := c.Request.Context()
	rolling, err := h.ledger.RollingCount(ctx, uid, reason)
	if err != nil {
		h.internalError(c, "rolling count", err)
		return
	}
	lifetime, err := h.ledger.LifetimeCount(ctx, uid, reason)
	if err != nil {
		h.internalError(c, "lifetime count", err)
		return
	}
	c.JSON(http.StatusOK, CountsResponse{
		UID:      string(uid),
		Reason:   reason,
		Rolling:  rolling,
		Lifetime: lifetime,
		Repeat:   rolling >= ledger.RepeatOffenderThreshold,
	})
}

// RepeatOffenders handles GET /reports/repeat-offenders.
func (h *Handlers) RepeatOffenders(c *gin.Context) {
	r, err := report.RepeatOffenders(c.Request.Context(), h.ledger)
	if err != nil {
		h.internalError(c, "repeat offenders report", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// LastPass handles GET /passes/last.
func (h *Handlers) LastPass(c *gin.Context) {
	pass := h.lastPass()
	if pass == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no pass has completed yet", Code: CodeNoPassYet})
		return
	}
	c.JSON(http.StatusOK, report.Summarize(pass))
}

func (h *Handlers) internalError(c *gin.Context, op string, err error) {
	h.logger.Error("Request failed", zap.String("op", op), zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: op + " failed", Code: CodeInternal})
}

// NewRouter builds the gin engine with the API routes mounted at /api/v1.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))
	RegisterRoutes(router.Group("/api/v1"), h)
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Server runs the API until its context is cancelled.
type Server struct {
	addr   string
	router *gin.Engine
	logger *zap.Logger
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, l Ledger, lastPass LastPassFunc, logger *zap.Logger) *Server {
	logger = logger.Named("api")
	return &Server{
		addr:   addr,
		router: NewRouter(NewHandlers(l, lastPass, logger)),
		logger: logger,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting ledger API", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("ledger API: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ledger API: %w", err)
	}
	s.logger.Info("Ledger API stopped")
	return nil
}
