package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"campushub/api/internal/access"
	"campushub/api/internal/app"
	"campushub/api/internal/config"
	"campushub/api/internal/email"
	"campushub/api/internal/forum"
	"campushub/api/internal/identity"
	"campushub/api/internal/metrics"
	"campushub/api/internal/search"
	"campushub/api/internal/security"
	"campushub/api/internal/session"
	"campushub/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	redisStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisStore.Close()

	tracker := session.NewTracker(redisStore)
	gate, unsubscribe := access.NewGate(dataStore, tracker)
	defer unsubscribe()

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Printf("SMTP not configured, outbound email disabled")
	}

	identityService := identity.NewService(dataStore, mailer, cfg.BaseURL, cfg.MagicLinkTTL)
	google := identity.NewGoogleClient(identity.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	if !google.Configured() {
		log.Printf("Google OAuth not configured, provider disabled")
	}

	m := metrics.New()
	forumService := forum.NewService(dataStore, gate, security.NewSanitizer(), searchService, m)

	service := app.New(cfg, app.Deps{
		Forum:    forumService,
		Identity: identityService,
		Google:   google,
		Search:   searchService,
		Sessions: redisStore,
		Tracker:  tracker,
		Gate:     gate,
		Profiles: dataStore,
		DB:       dataStore,
	})
	defer service.Close()

	httpServer := app.NewHTTPServer(service, m, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("CampusHub API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
