// Command trailence-auth starts the device-key session service.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/trailence/trailence-back-sub001/internal/config"
	"github.com/trailence/trailence-back-sub001/internal/crypto"
	"github.com/trailence/trailence-back-sub001/internal/limiter"
	"github.com/trailence/trailence-back-sub001/internal/migrate"
	"github.com/trailence/trailence-back-sub001/internal/repository/memory"
	"github.com/trailence/trailence-back-sub001/internal/repository/postgres"
	httpserver "github.com/trailence/trailence-back-sub001/internal/server/http"
	"github.com/trailence/trailence-back-sub001/internal/server/ops"
	"github.com/trailence/trailence-back-sub001/internal/service"
	"github.com/trailence/trailence-back-sub001/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, prepares the store and serves HTTP until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load("trailence-auth", os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jwt := token.NewJWT([]byte(cfg.JWTKey), cfg.JWTIssuer, cfg.AccessTTL, cfg.MaxAccessTTL)
	deps := service.AuthDeps{
		Hasher: crypto.NewArgon2Hasher(crypto.DefaultRandom),
		Tokens: jwt,
		Log:    logger.Named("auth"),
	}
	limCfg := limiter.Config{Window: cfg.Limiter.Window, MaxFails: cfg.Limiter.MaxFails, BlockFor: cfg.Limiter.BlockFor}

	var store httpserver.Pinger
	if cfg.DSN != "" {
		ver, err := migrate.Up(ctx, cfg.DSN, logger)
		if err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		logger.Info("schema ready", zap.Int64("version", ver))

		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			logger.Fatal("postgres pool", zap.Error(err))
		}
		defer db.Close()

		deps.Users = postgres.NewUserRepo(db)
		deps.Keys = postgres.NewDeviceKeyRepo(db)
		deps.Prefs = postgres.NewPreferencesRepo(db)
		deps.Limiter = limiter.NewPG(db.Pool, limCfg)
		store = db
	} else {
		logger.Warn("no dsn configured, using the in-memory store; data is lost on exit")
		deps.Users = memory.NewUserRepo()
		deps.Keys = memory.NewDeviceKeyRepo()
		deps.Prefs = memory.NewPreferencesRepo()
		deps.Limiter = limiter.NewMemory(limCfg)
	}

	authSvc := service.NewAuthService(deps, service.WithChallengeTTL(cfg.ChallengeTTL))
	handler := httpserver.New(authSvc, jwt, store, logger.Named("http")).Router()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var opsSrv *ops.Server
	if cfg.OpsAddr != "" {
		lis, err := net.Listen("tcp", cfg.OpsAddr)
		if err != nil {
			logger.Fatal("ops listen", zap.Error(err))
		}
		opsSrv = ops.New(logger.Named("ops"), cfg.Dev)
		go func() {
			if err := opsSrv.Serve(lis); err != nil {
				logger.Error("ops server", zap.Error(err))
			}
		}()
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSCert != "" {
			logger.Info("listening (TLS)", zap.String("addr", lis.Addr().String()))
			errCh <- srv.ServeTLS(lis, cfg.TLSCert, cfg.TLSKey)
			return
		}
		logger.Info("listening", zap.String("addr", lis.Addr().String()))
		errCh <- srv.Serve(lis)
	}()
	if opsSrv != nil {
		opsSrv.SetServing(true)
	}

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			if opsSrv != nil {
				opsSrv.Stop()
			}
			os.Exit(1)
		}
	}

	if opsSrv != nil {
		opsSrv.SetServing(false)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown", zap.Error(err))
		_ = srv.Close()
	}
	if opsSrv != nil {
		opsSrv.Stop()
	}
	logger.Info("shutdown complete")
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}
