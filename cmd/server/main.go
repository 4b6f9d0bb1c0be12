package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockdash/backend/internal/auth"
	"github.com/stockdash/backend/internal/config"
	"github.com/stockdash/backend/internal/mailer"
	"github.com/stockdash/backend/internal/middleware"
	"github.com/stockdash/backend/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// ── PostgreSQL ────────────────────────────────────────────
	pgPool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres connect: %v", err)
	}
	defer pgPool.Close()
	pgStore := store.NewPostgresStore(pgPool)
	if err := pgStore.Migrate(ctx); err != nil {
		log.Fatalf("postgres migrate: %v", err)
	}

	// ── Redis (optional, rate limiting only) ─────────────────
	var resendLimit, verifyLimit *auth.CodeLimiter
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("redis connect: %v", err)
		}
		defer rdb.Close()
		resendLimit = auth.NewCodeLimiter(rdb, cfg.ResendWindow, cfg.ResendMaxPerWindow)
		verifyLimit = auth.NewCodeLimiter(rdb, cfg.VerifyWindow, cfg.VerifyMaxPerWindow)
	} else {
		logger.Warn("REDIS_ADDR not set, code rate limiting disabled")
	}

	// ── Mailer ───────────────────────────────────────────────
	var mail mailer.Mailer
	if cfg.SMTPHost != "" {
		mail = &mailer.SMTP{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
			CodeTTL:  cfg.CodeTTL,
		}
	} else {
		logger.Warn("SMTP_HOST not set, validation codes will be logged instead of emailed")
		mail = &mailer.Log{Logger: logger}
	}

	// ── Auth wiring ──────────────────────────────────────────
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	service := auth.NewService(pgStore, mail, tokens, resendLimit, verifyLimit, cfg.CodeTTL, logger)
	authHandler := auth.NewHandler(service, cfg.TokenTTL, logger)

	// ── Router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth routes (public)
	r.Post("/register", authHandler.Register)
	r.Post("/verify", authHandler.Verify)
	r.Post("/login", authHandler.Login)
	r.Post("/resend-code", authHandler.ResendCode)
	r.Post("/logout", authHandler.Logout)

	// Protected routes
	r.Route("/protected", func(r chi.Router) {
		r.Use(middleware.RequireVerified(tokens, pgStore))
		r.Get("/profile", authHandler.Profile)
	})

	// ── Server ───────────────────────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("Backend listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)
}
