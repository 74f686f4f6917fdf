package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roomchat/internal/config"
	"github.com/roomchat/internal/handler"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/middleware"
	"github.com/roomchat/internal/room"
	"github.com/roomchat/internal/startup"
	"github.com/roomchat/internal/storage"
	"github.com/roomchat/internal/storage/memory"
	"github.com/roomchat/internal/ws"
)

func main() {
	logger.SetPrefix("chat")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting chat service")
	if err := cfg.Validate(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	store, err := openReactionStore(cfg)
	if err != nil {
		logger.Errorf("reaction store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(room.NewDirectory(), store, ws.Options{
		MaxConns:         cfg.MaxWSConnections,
		SendBufferSize:   cfg.WSSendBufferSize,
		WriteWait:        cfg.WSWriteTimeout,
		PongWait:         cfg.WSPongTimeout,
		MaxMessageSize:   cfg.WSMaxMessageSize,
		EventsPerSecond:  cfg.WSEventsPerSecond,
		EventBurst:       cfg.WSEventBurst,
		StrictMembership: cfg.StrictMembership,
	})
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	origins := cfg.AllowedOrigins()
	wsH := handler.NewWSHandler(hub, origins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitByIP(cfg.HTTPRequestsPerSecond, cfg.HTTPBurst))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handler.Health(hub))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", wsH.ServeWS)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s (origins: %s)", cfg.ServerAddr, strings.Join(origins, ","))
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
}

func openReactionStore(cfg *config.Config) (storage.ReactionStore, error) {
	if cfg.ReactionStore == config.ReactionStoreRedis {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		client, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, cfg.ReactionTTL, 60*time.Second)
		if err != nil {
			return nil, err
		}
		logger.Infof("reactions stored in redis (ttl %v)", cfg.ReactionTTL)
		return client, nil
	}
	logger.Infof("reactions stored in memory (ttl %v)", cfg.ReactionTTL)
	return memory.New(cfg.ReactionTTL), nil
}
