package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/florelia/sisters/internal/chat"
	"github.com/florelia/sisters/internal/config"
	"github.com/florelia/sisters/internal/httpapi"
	"github.com/florelia/sisters/internal/observability"
	"github.com/florelia/sisters/internal/privacy"
	"github.com/florelia/sisters/internal/retention"
	"github.com/florelia/sisters/internal/routing"
	"github.com/florelia/sisters/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	cipher, err := privacy.NewCipher(cfg.EncryptionKey, cfg.IdentifierHashSalt, cfg.KeyDerivationSalt)
	if err != nil {
		log.Fatalf("cipher init failed: %v", err)
	}
	cipher.SetFailureHook(func() {
		metrics.DecryptFailures.Inc()
	})

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL, cipher, cfg.DefaultPersona)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()
	if m, ok := st.(interface{ SetMigrationHook(func()) }); ok {
		m.SetMigrationHook(func() {
			metrics.LegacyMigrations.Inc()
		})
	}
	if cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL not set; using in-memory store")
	}

	analyzer := routing.NewAnalyzer(cfg.PersonaSwitchThreshold)
	service := chat.NewService(st, analyzer, metrics, cfg.ConversationHistoryLimit)

	janitor := retention.NewJanitor(st, cfg.DataRetention, cfg.RetentionSweepInterval)
	janitor.SetSweepHook(func(removed int64, err error) {
		if err != nil {
			log.Printf("retention sweep failed: %v", err)
			return
		}
		if removed > 0 {
			metrics.TurnsPruned.Add(float64(removed))
			log.Printf("retention sweep removed %d conversation rows", removed)
		}
	})

	api := httpapi.New(cfg, service, st, cipher, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	janitor.Start(runCtx)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
