package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"hrms.org/internal/auth"
	"hrms.org/internal/config"
	"hrms.org/internal/httpapi"
	"hrms.org/internal/lock"
	"hrms.org/internal/notify"
	"hrms.org/internal/obs"
	"hrms.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type stores struct {
	accounts auth.AccountStore
	sessions auth.SessionTokenStore
	roles    auth.RoleStore
	resets   auth.ResetRequestStore
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	probe := httpapi.ReadyProbe{}
	var st stores
	if cfg.PostgresDSN != "" {
		db, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		probe.DB = db.DB()
		st = stores{db.Accounts(), db.Sessions(), db.Roles(), db.Resets()}
	} else {
		obs.Log("warn", "api.memory_store", map[string]any{"reason": "HR_PG_DSN not set, state is lost on restart"})
		mem := auth.NewMemoryStore()
		st = stores{mem.Accounts(), mem.Sessions(), mem.Roles(), mem.Resets()}
	}

	var locker auth.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		probe.Redis = rdb
		locker = lock.NewRedis(rdb, "hrms:lock", lock.WithLease(cfg.LockLease))
	}

	var notifier auth.Notifier = notify.Log{IncludeBody: cfg.LogResetBodies}
	if cfg.SMTP.Host != "" {
		smtpSender, err := notify.NewSMTP(cfg.SMTP)
		if err != nil {
			log.Fatalf("smtp: %v", err)
		}
		notifier = smtpSender
	}

	opts := []auth.Option{
		auth.WithLocker(locker),
		auth.WithOpTimeout(cfg.OpTimeout),
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithTokenTTL(cfg.TokenTTL),
		auth.WithResetWindow(cfg.ResetTTL),
		auth.WithResetURL(cfg.ResetURL),
		auth.WithRevokeSessionsOnReset(!cfg.KeepOnReset),
	}
	tokens, err := auth.NewTokens(cfg.JWTSecret, opts...)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	sessions, err := auth.NewManager(st.accounts, st.sessions, tokens, opts...)
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}
	gate, err := auth.NewGate(tokens, st.accounts, st.sessions, st.roles, opts...)
	if err != nil {
		log.Fatalf("gate: %v", err)
	}
	resets, err := auth.NewResetCoordinator(st.resets, st.accounts, st.sessions, notifier, opts...)
	if err != nil {
		log.Fatalf("reset coordinator: %v", err)
	}

	api := httpapi.New(httpapi.Services{Sessions: sessions, Gate: gate, Resets: resets}, probe, version,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := httpapi.NewHealthServer(probe)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	go health.Run(ctx, 10*time.Second)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.Log("info", "api.started", map[string]any{
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
	})

	<-ctx.Done()
	obs.Log("info", "api.stopping", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	obs.Log("info", "api.stopped", nil)
}
