package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/events"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/execution"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/signal"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/store"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/config"
)

// Server is the operator HTTP surface: signal ingestion plus read-only
// account and lifecycle views.
type Server struct {
	Router   *gin.Engine
	Manager  *execution.Manager
	Bus      *events.Bus
	Store    *store.Store
	Profiles map[string]config.SourceProfile

	JWTSecret string
	AdminHash string

	httpServer *http.Server
}

// NewServer wires routes and middleware around the execution manager.
func NewServer(mgr *execution.Manager, bus *events.Bus, st *store.Store, profiles map[string]config.SourceProfile, jwtSecret, adminHash string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		Router:    router,
		Manager:   mgr,
		Bus:       bus,
		Store:     st,
		Profiles:  profiles,
		JWTSecret: jwtSecret,
		AdminHash: adminHash,
	}

	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogger())
	router.Use(RateLimitMiddleware())
	router.Use(TimeoutMiddleware(30 * time.Second))
	router.Use(CORSMiddleware())

	router.GET("/health", s.health)
	router.POST("/api/auth/login", s.login)

	api := router.Group("/api")
	api.Use(AuthMiddleware(s.JWTSecret))
	{
		api.POST("/signals", s.submitSignal)
		api.GET("/signals/active", s.activeSignals)
		api.GET("/events", s.recentEvents)

		api.POST("/positions/close", s.closePosition)
		api.POST("/positions/modify", s.modifyPosition)
		api.GET("/positions", s.positions)

		api.GET("/overview", s.overview)
		api.GET("/funding", s.funding)
		api.GET("/brackets", s.brackets)
	}

	return s
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port string) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: s.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[API] listening on :%s", port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// defaultsFor merges the channel's source profile over the base defaults.
func (s *Server) defaultsFor(channel string) signal.Defaults {
	d := signal.BaseDefaults()
	p, ok := s.Profiles[channel]
	if !ok {
		return d
	}
	if p.PositionSize > 0 {
		d.PositionSize = p.PositionSize
	}
	if p.Leverage > 0 {
		d.Leverage = p.Leverage
	}
	if p.MarginMode != "" {
		d.MarginMode = marginMode(p.MarginMode)
	}
	if p.Confidence > 0 {
		d.Confidence = p.Confidence
	}
	d.DynamicSL = p.DynamicSL
	return d
}
