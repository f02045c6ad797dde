// Package app собирает shop-service: HTTP API, gRPC health, метрики и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
	"github.com/vladislavdragonenkov/shop/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

// CheckoutServiceName: имя сервиса в gRPC health protocol.
const CheckoutServiceName = "shop.Checkout"

// App держит открытые listeners и зависимости одного процесса.
type App struct {
	cfg    Config
	deps   *Dependencies
	logger *log.Entry

	httpSrv    *http.Server
	metricsSrv *http.Server
	grpcSrv    *grpc.Server
	grpcHealth *health.Server

	httpLis    net.Listener
	metricsLis net.Listener
	grpcLis    net.Listener
}

// Run создаёт приложение и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(cfg, nil)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// New проверяет конфигурацию, связывает зависимости и открывает listeners.
func New(cfg Config, logger *log.Entry) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := NewDependencies(cfg, logger)
	a := &App{cfg: cfg, deps: deps, logger: logger}

	handler := httpapi.NewHandler(deps.Checkout, deps.Admin, deps.Guard, logger.WithField("component", "http"))
	a.httpSrv = &http.Server{
		Handler: httpapi.NewRouter(handler, httpapi.RouterOptions{
			RequestTimeout: cfg.RequestTimeout,
			Health:         deps.Health,
			Liveness:       healthcheck.LivenessHandler,
			Readiness:      deps.Health.ReadinessHandler,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.metricsSrv = &http.Server{Handler: newMetricsMux(deps.Health), ReadHeaderTimeout: 5 * time.Second}
	a.grpcSrv, a.grpcHealth = newGRPCServer(logger)

	var err error
	if a.httpLis, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
		a.closeListeners()
		return nil, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	if a.grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		a.closeListeners()
		return nil, fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	if a.metricsLis, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
		a.closeListeners()
		return nil, fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
	}

	return a, nil
}

// HTTPAddr возвращает фактический адрес API (полезно при порте :0).
func (a *App) HTTPAddr() string { return a.httpLis.Addr().String() }

// GRPCAddr возвращает фактический адрес gRPC health.
func (a *App) GRPCAddr() string { return a.grpcLis.Addr().String() }

// MetricsAddr возвращает фактический адрес /metrics.
func (a *App) MetricsAddr() string { return a.metricsLis.Addr().String() }

// Dependencies открывает доступ к компонентам (для интеграционных тестов и loadtest).
func (a *App) Dependencies() *Dependencies { return a.deps }

// Run обслуживает запросы до отмены ctx. При штатной остановке возвращает ctx.Err().
func (a *App) Run(ctx context.Context) error {
	defer a.deps.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.WithFields(version.Fields()).Infof("HTTP API слушает %s", a.HTTPAddr())
		return serveHTTP(a.httpSrv, a.httpLis)
	})
	g.Go(func() error {
		a.logger.Infof("метрики доступны по адресу %s/metrics", a.MetricsAddr())
		return serveHTTP(a.metricsSrv, a.metricsLis)
	})
	g.Go(func() error {
		a.logger.Infof("gRPC health сервер слушает %s", a.GRPCAddr())
		if err := a.grpcSrv.Serve(a.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.deps.OutboxWorker.Run(gctx)
	})
	g.Go(func() error {
		return a.deps.CleanupWorker.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) shutdown() {
	a.logger.Info("получен сигнал остановки, останавливаем серверы")
	a.deps.Health.SetReady(false)
	a.grpcHealth.Shutdown()

	stoppedCh := make(chan struct{})
	go func() {
		a.grpcSrv.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(a.cfg.ShutdownTimeout):
		a.logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		a.grpcSrv.Stop()
	}

	shutdownHTTP(a.httpSrv, a.cfg.ShutdownTimeout, a.logger)
	shutdownHTTP(a.metricsSrv, a.cfg.ShutdownTimeout, a.logger)
}

func (a *App) closeListeners() {
	for _, lis := range []net.Listener{a.httpLis, a.grpcLis, a.metricsLis} {
		if lis != nil {
			_ = lis.Close()
		}
	}
	a.deps.Close()
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(CheckoutServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthServer)

	// Reflection для grpcurl.
	reflection.Register(srv)
	grpcMetrics.InitializeMetrics(srv)

	return srv, healthServer
}

func newMetricsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	return mux
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server %s: %w", lis.Addr(), err)
	}
	return nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
