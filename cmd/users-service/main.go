package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/go-video-platform/internal/config"
	"github.com/pribylovaa/go-video-platform/internal/interceptors"
	"github.com/pribylovaa/go-video-platform/internal/metrics"
	"github.com/pribylovaa/go-video-platform/internal/ratelimit"
	"github.com/pribylovaa/go-video-platform/internal/security/password"
	"github.com/pribylovaa/go-video-platform/internal/security/token"
	"github.com/pribylovaa/go-video-platform/internal/service"
	"github.com/pribylovaa/go-video-platform/internal/storage"
	"github.com/pribylovaa/go-video-platform/internal/storage/minio"
	"github.com/pribylovaa/go-video-platform/internal/storage/mongo"
	"github.com/pribylovaa/go-video-platform/internal/storage/postgres"
	gwhttp "github.com/pribylovaa/go-video-platform/internal/transport/http"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/handlers"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/middleware"

	"google.golang.org/grpc"
	health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting users-service", "env", cfg.Env)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	// Подключения к БД, объектному хранилищу и лимитеру с общим таймаутом.
	initCtx, initCancel := context.WithTimeout(rootCtx, 10*time.Second)
	str, err := openStorage(initCtx, cfg.DB)
	if err != nil {
		initCancel()
		log.Error("storage_connect_failed", slog.String("driver", cfg.DB.Driver), slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer str.Close()
	log.Info("storage_connected", slog.String("driver", cfg.DB.Driver))

	media, err := minio.New(initCtx, cfg.S3, cfg.Media)
	if err != nil {
		initCancel()
		log.Error("media_connect_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("media_connected", slog.String("bucket", cfg.S3.Bucket))

	limiter, closeLimiter, err := openLimiter(initCtx, cfg.Redis)
	initCancel()
	if err != nil {
		log.Error("rate_limiter_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer closeLimiter()

	hasher, err := password.NewBcrypt(cfg.Auth.BcryptCost)
	if err != nil {
		log.Error("password_hasher_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	trusted, err := cfg.RateLimit.TrustedProxyPrefixes()
	if err != nil {
		log.Error("trusted_proxies_invalid", slog.String("err", err.Error()))
		os.Exit(1)
	}

	authMetrics := metrics.NewAuth(prometheus.DefaultRegisterer)
	httpMetrics := metrics.NewHTTP(prometheus.DefaultRegisterer)

	svc := service.New(str, media, hasher, token.NewManager(cfg.Auth), service.Options{
		RevokeSessionsOnPasswordChange: cfg.Auth.RevokeSessionsOnPasswordChange,
		Observer:                       authMetrics,
	})
	log.Info("service_initialized")

	apiHandler := gwhttp.NewRouter(svc, gwhttp.Options{
		Logger:   log,
		Timeout:  cfg.Timeouts.Service,
		BasePath: cfg.HTTP.BasePath,
		Handlers: handlers.Options{
			Cookies:              cfg.Cookies,
			JSONBodyBytes:        cfg.Limits.JSONBodyBytes,
			MultipartMemoryBytes: cfg.Limits.MultipartMemoryBytes,
			// два файла (аватар и обложка) плюс текстовые поля формы
			MultipartBodyBytes: 2*cfg.Media.MaxSizeBytes + 1<<20,
		},
		Metrics:         httpMetrics,
		Limiter:         limiter,
		RateLimitN:      cfg.RateLimit.Requests,
		RateLimitWindow: cfg.RateLimit.Window,
		ClientKey:       middleware.TrustedClientIP(trusted),
	})

	var ready int32 // 0 — not ready; 1 — ready

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.LoadInt32(&ready) == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}

		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiHandler)

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Error("http_listen_failed", slog.String("addr", httpAddr), slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("http_listen_start", slog.String("addr", httpAddr))

	grpc_prometheus.EnableHandlingTimeHistogram()

	// gRPC-сервер отдаёт стандартный health-сервис для оркестратора.
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptors.Recover(log),
			interceptors.Logging(log),
			interceptors.Timeout(cfg.Timeouts.Service),
			grpc_prometheus.UnaryServerInterceptor,
		),
		grpc.ChainStreamInterceptor(
			interceptors.StreamRecover(log),
			grpc_prometheus.StreamServerInterceptor,
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	// Рефлексия — только в local/dev.
	if cfg.Env == envLocal || cfg.Env == envDev {
		reflection.Register(grpcServer)
	}

	grpc_prometheus.Register(grpcServer)

	grpcAddr := cfg.GRPC.Addr()
	grpcLn, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Error("grpc_listen_failed", slog.String("addr", grpcAddr), slog.String("err", err.Error()))
		_ = httpLn.Close()
		os.Exit(1)
	}
	log.Info("grpc_listen_start", slog.String("addr", grpcAddr))

	startSessionJanitor(rootCtx, svc, log, cfg.Janitor.Period)

	serveErrCh := make(chan error, 2)
	go func() {
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErrCh <- err
		}
	}()

	// Сервис готов: health -> SERVING и readiness=1.
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	atomic.StoreInt32(&ready, 1)
	log.Info("service_ready")

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		log.Error("serve_failed", slog.String("err", err.Error()))
	}

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	atomic.StoreInt32(&ready, 0)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}

	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc_stopped")
	case <-shutdownCtx.Done():
		log.Warn("grpc_force_stop")
		grpcServer.Stop()
	}

	log.Info("service_stopped")
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

// openStorage выбирает реализацию хранилища учётных записей по драйверу.
func openStorage(ctx context.Context, cfg config.DBConfig) (storage.Storage, error) {
	if cfg.Driver == config.DriverPostgres {
		st, err := postgres.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	}

	st, err := mongo.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// openLimiter: Redis, если задан URL, иначе счётчики в памяти процесса.
func openLimiter(ctx context.Context, cfg config.RedisConfig) (ratelimit.Limiter, func(), error) {
	if cfg.URL == "" {
		return ratelimit.NewMemory(), func() {}, nil
	}

	rl, err := ratelimit.NewRedis(ctx, cfg.URL, "")
	if err != nil {
		return nil, nil, err
	}

	return rl, func() { _ = rl.Close() }, nil
}

// startSessionJanitor периодически очищает просроченные refresh-токены.
func startSessionJanitor(ctx context.Context, svc *service.Service, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				if _, err := svc.CleanupExpiredSessions(ctx, now.UTC()); err != nil {
					log.Error("session_janitor_failed", slog.String("err", err.Error()))
				}
			}
		}
	}()
}
