// Package httpserver is the HTTP facade over the reservation core and the
// posting engine. Callers are identified by the X-Tenant-ID header; identity
// and authentication live in front of this service.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joshuahuffman02/Keepr-sub004/pkg/booking"
	"github.com/joshuahuffman02/Keepr-sub004/pkg/ledger"
)

const tenantHeader = "X-Tenant-ID"

// gin mode is process-global; set it once no matter how many servers exist.
var ginModeOnce sync.Once

// Config carries the listener settings.
type Config struct {
	ListenAddr           string
	AllowedOrigins       []string
	WebhookSigningSecret string
}

// Server serves the reservation and ledger HTTP API.
type Server struct {
	logger   *zap.Logger
	bookings *booking.Service
	postings *ledger.Service
	cfg      Config
}

// NewServer wires the facade.
func NewServer(logger *zap.Logger, bookings *booking.Service, postings *ledger.Service, cfg Config) (*Server, error) {
	if bookings == nil {
		return nil, errors.New("httpserver: booking service is nil")
	}
	if postings == nil {
		return nil, errors.New("httpserver: ledger service is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger, bookings: bookings, postings: postings, cfg: cfg}, nil
}

// Router builds the gin engine with all routes mounted.
func (server *Server) Router() *gin.Engine {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(server.requestLog())
	router.Use(observeRequests())
	if len(server.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", tenantHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/units", server.handleRegisterUnit)
	v1.POST("/reservations", server.handleCreateReservation)
	v1.GET("/reservations/:id", server.handleGetReservation)
	v1.POST("/reservations/:id/pay", server.handlePay)
	v1.POST("/reservations/:id/cancel", server.handleCancel)
	v1.POST("/reservations/:id/checkin", server.handleCheckIn)
	v1.POST("/reservations/:id/checkout", server.handleCheckOut)
	v1.POST("/payments/:id/reconcile", server.handleReconcile)
	v1.POST("/refunds", server.handleRefund)
	v1.POST("/gateway/webhook", server.handleGatewayWebhook)
	v1.POST("/periods/close", server.handleClosePeriod)
	v1.GET("/ledger/batches/:id", server.handleListBatch)
	v1.GET("/ledger/trial-balance", server.handleTrialBalance)
	return router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         server.cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func (server *Server) requestLog() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		server.logger.Info("http request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
