package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quotewell.org/internal/config"
	"quotewell.org/internal/contacts"
	"quotewell.org/internal/httpapi"
	"quotewell.org/internal/obs"
	"quotewell.org/internal/quotetoken"
	"quotewell.org/internal/store/pg"
	"quotewell.org/internal/usage"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	codec, err := quotetoken.New([]byte(cfg.TokenSecret))
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	// With a DSN the pg store backs both tracking and counting; without one
	// the in-memory pair serves local development.
	var (
		svc     contacts.Service
		counter usage.Counter
		probe   httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		defer store.Close()
		svc = store
		counter = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		mem := usage.NewInMemory()
		svc = contacts.NewInMemory(mem)
		counter = mem
	}
	reporter := usage.NewReporter(counter, usage.StaticLimits{Default: cfg.DefaultContactLimit})

	api := httpapi.New(probe, version, svc, reporter, codec,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSecond))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting quotewell-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
