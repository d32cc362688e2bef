// Command eventauth-server serves the eventauth HTTP API backed by SQLite,
// with optional Redis login throttling and Google sign-in.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	ea "github.com/panyam/eventauth"
	"github.com/panyam/eventauth/oauth2"
	gormstore "github.com/panyam/eventauth/stores/gorm"
	"github.com/panyam/eventauth/stores/redis"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := ea.LoadConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()
	logger.Info("eventauth started", "addr", cfg.Addr, "development", cfg.Development)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("eventauth stopped cleanly")
}

func newServer(ctx context.Context, cfg *ea.Config, logger *slog.Logger) (*http.Server, error) {
	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		return nil, err
	}
	store := gormstore.NewIdentityStore(db)

	hasher, err := ea.NewHasher(cfg.PasswordPepper, cfg.Argon2Params())
	if err != nil {
		return nil, err
	}
	tokens := cfg.TokenIssuer(store)
	tokens.Logger = logger

	auth := ea.NewAuthenticator(store, hasher, tokens)
	auth.Logger = logger

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			// the limiter fails open, so a missing redis only loses throttling
			logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		auth.Limiter = redis.NewLoginLimiter(client, cfg.LoginRateLimit, cfg.LoginRateWindow)
	}

	var google *oauth2.Google
	if cfg.GoogleClientID != "" {
		google, err = oauth2.NewGoogle(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL)
		if err != nil {
			return nil, err
		}
		google.SecureCookies = cfg.CookieSecure
		google.Logger = logger
		auth.Verifier = google
	}

	api := ea.NewAPI(auth, cfg.CookieTransport())
	api.Development = cfg.Development
	api.TrustProxyHeaders = cfg.TrustProxyHeaders
	api.Logger = logger

	router := mux.NewRouter()
	authRouter := router.PathPrefix("/auth").Subrouter()
	api.RegisterRoutes(authRouter)
	if google != nil {
		authRouter.Handle("/google/start", google.StartHandler()).Methods(http.MethodGet)
		authRouter.Handle("/google/callback", google.CallbackHandler(api.CompleteProviderLogin)).Methods(http.MethodGet)
	}
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}
