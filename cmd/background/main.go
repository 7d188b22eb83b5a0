package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"webtestflow/replayer/internal/api/handlers"
	"webtestflow/replayer/internal/api/routes"
	"webtestflow/replayer/internal/backend"
	"webtestflow/replayer/internal/config"
	"webtestflow/replayer/internal/proxy"
	"webtestflow/replayer/internal/relay"
	"webtestflow/replayer/internal/services"
	"webtestflow/replayer/pkg/database"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize database
	store, err := database.Open(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := relay.NewHub()
	px := proxy.New(store, hub, proxy.Options{
		DefaultAPIBase: cfg.Backend.DefaultAPIBase,
		BufferCapacity: cfg.Replay.BufferCapacity,
		NewBackend: func(apiBase string) proxy.Backend {
			return backend.NewClient(apiBase, cfg.Backend.Timeout)
		},
	})

	h := &handlers.Handler{
		Proxy:       px,
		Hub:         hub,
		TokenSecret: []byte(cfg.JWT.Secret),
		TokenExpiry: time.Duration(cfg.JWT.ExpireTime) * time.Second,
		BaseCtx:     ctx,
	}

	// Automation launches need a backend to create runs on
	if cfg.Backend.DefaultAPIBase != "" {
		launcher := services.NewAutomationLauncher(backend.NewClient(cfg.Backend.DefaultAPIBase, cfg.Backend.Timeout), hub)
		h.Launcher = launcher

		if cfg.Scheduler.Enabled {
			scheduler := services.NewScheduler(launcher, cfg.Backend.Timeout)
			entries, err := cfg.ScheduledAutomations()
			if err != nil {
				log.Printf("⚠️ %v", err)
			}
			for _, entry := range entries {
				if err := scheduler.Add(entry.AutomationID, entry.Spec); err != nil {
					log.Printf("Failed to add schedule for automation %s: %v", entry.AutomationID, err)
				}
			}
			scheduler.Start()
			defer scheduler.Stop()
			h.Scheduler = scheduler
		}
	} else {
		log.Println("⚠️ BACKEND_API_BASE not set, automation launches disabled")
	}

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	router := routes.SetupRoutes(cfg, h)
	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Setup graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Println("Shutting down server...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.WriteTimeout)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server shutdown complete")
}
