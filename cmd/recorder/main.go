package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/ballot"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/config"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/httpapi"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/obs"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/s2s"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo("ballot-recorder", version)

	cfg, err := config.LoadRecorder()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var svc ballot.Service
	probe := httpapi.ReadyProbe{}
	if cfg.PGDSN != "" {
		db, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		svc = pg.NewRecorderStore(db)
		probe.DB = db
	} else {
		log.Printf("no %s set, using in-memory store (dev only)", "EKKLESIA_RECORDER_PG_DSN")
		svc = ballot.NewInMemory()
	}

	var reporter httpapi.RedemptionReporter
	if cfg.IssuerURL != "" {
		reporter = s2s.NewClient(cfg.IssuerURL, cfg.S2SKey)
	}

	guard := httpapi.OriginGuardConfig{
		Edge:          cfg.Edge,
		NonProduction: cfg.NonProduction(),
		BypassSecret:  cfg.BypassSecret,
	}
	api := httpapi.NewRecorderAPI(svc, reporter, cfg.Elections, cfg.S2SKey, guard, probe, version)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting ballot-recorder %s on %s (env=%s)", version, srv.Addr, cfg.Env)

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
