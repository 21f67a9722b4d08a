package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/auth"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/config"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/credential"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/httpapi"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/obs"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/s2s"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo("ballot-issuer", version)

	cfg, err := config.LoadIssuer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var store credential.Store
	probe := httpapi.ReadyProbe{}
	if cfg.PGDSN != "" {
		db, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		store = pg.NewIssuerStore(db)
		probe.DB = db
	} else {
		log.Printf("no %s set, using in-memory store (dev only)", "EKKLESIA_ISSUER_PG_DSN")
		store = credential.NewInMemory()
	}

	recorder := s2s.NewClient(cfg.RecorderURL, cfg.S2SKey)
	svc := credential.NewService(store, recorder, cfg.Elections, cfg.CredentialTTL)

	sessions, err := auth.NewSessionVerifier(cfg.SessionSecret, cfg.SessionIssuer)
	if err != nil {
		log.Fatalf("session verifier: %v", err)
	}

	guard := httpapi.OriginGuardConfig{
		Edge:          cfg.Edge,
		NonProduction: cfg.NonProduction(),
		BypassSecret:  cfg.BypassSecret,
	}
	api := httpapi.NewIssuerAPI(svc, sessions, recorder, cfg.S2SKey, guard, probe, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciler := credential.NewReconciler(svc, recorder, cfg.ElectionIDs, cfg.ReconcileInterval)
	go reconciler.Run(ctx)
	go sweepLoop(ctx, svc, cfg.SweepInterval)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting ballot-issuer %s on %s (env=%s)", version, srv.Addr, cfg.Env)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

func sweepLoop(ctx context.Context, svc *credential.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.SweepExpired(ctx); err != nil {
				log.Printf("expiry sweep: %v", err)
			}
		}
	}
}
