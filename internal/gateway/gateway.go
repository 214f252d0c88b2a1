// ABOUTME: Gateway orchestrator that coordinates the gRPC health and HTTP API servers
// ABOUTME: Wires store, worker pool, manager, and local host resources into one lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/coven-hostd/internal/config"
	"github.com/2389/coven-hostd/internal/manager"
	"github.com/2389/coven-hostd/internal/resource"
	"github.com/2389/coven-hostd/internal/store"
	"github.com/2389/coven-hostd/internal/workerpool"
)

// Gateway orchestrates the coven-hostd server components.
type Gateway struct {
	config     *config.Config
	store      store.Store
	pool       *workerpool.Pool
	manager    *manager.Manager
	health     *health.Server
	grpcServer *grpc.Server
	httpServer *http.Server
	logger     *slog.Logger

	// resources holds the in-process resource currently bound to each configured host
	resMu     sync.Mutex
	resources map[int64]*resource.Local

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COVEN_HOSTD_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// createGRPCServer creates the gRPC server carrying the health service.
func createGRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
}

// New creates a new Gateway instance with the given configuration and logger.
// Every configured host is connected before New returns.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	return newWithStore(cfg, s, logger)
}

func newWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	pool := workerpool.New(cfg.Pool.Workers, logger.With("component", "pool"))

	mgr := manager.New(manager.Params{
		Store:              s,
		Pool:               pool,
		PingInterval:       cfg.Agents.PingInterval,
		InvestigationDelay: cfg.Agents.InvestigationDelay,
		SweepInterval:      cfg.Agents.SweepInterval,
		Logger:             logger,
	})

	gw := &Gateway{
		config:     cfg,
		store:      s,
		pool:       pool,
		manager:    mgr,
		health:     health.NewServer(),
		grpcServer: createGRPCServer(),
		logger:     logger.With("component", "gateway"),
		resources:  make(map[int64]*resource.Local),
	}

	healthpb.RegisterHealthServer(gw.grpcServer, gw.health)
	gw.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	mgr.AddListener(gw.publishHealth)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	gw.registerAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := gw.connectHosts(context.Background()); err != nil {
		_ = gw.Shutdown(context.Background())
		return nil, err
	}

	return gw, nil
}

// connectHosts binds a local resource to every configured host.
func (g *Gateway) connectHosts(ctx context.Context) error {
	for _, h := range g.config.Hosts {
		if err := g.connectHost(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// connectHost binds a fresh local resource to h, replacing any current attache.
func (g *Gateway) connectHost(ctx context.Context, h config.HostConfig) error {
	res := resource.NewLocal(h.ID, h.Name, g.logger)
	if _, err := g.manager.Connect(ctx, manager.HostSpec{ID: h.ID, Name: h.Name, Maintenance: h.Maintenance}, res); err != nil {
		return fmt.Errorf("connecting host %d: %w", h.ID, err)
	}
	g.resMu.Lock()
	g.resources[h.ID] = res
	g.resMu.Unlock()
	return nil
}

// hostConfig returns the configured host with the given id.
func (g *Gateway) hostConfig(id int64) (config.HostConfig, bool) {
	for _, h := range g.config.Hosts {
		if h.ID == id {
			return h, true
		}
	}
	return config.HostConfig{}, false
}

// Resource returns the local resource currently bound to a configured host.
func (g *Gateway) Resource(id int64) (*resource.Local, bool) {
	g.resMu.Lock()
	defer g.resMu.Unlock()
	res, ok := g.resources[id]
	return res, ok
}

// Manager returns the host manager.
func (g *Gateway) Manager() *manager.Manager {
	return g.manager
}

// Handler returns the HTTP handler serving the API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupListeners creates the TCP listeners for both servers.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// Run starts the servers and the manager's sweep loop, and blocks until the
// context is canceled or one of them fails. Shutdown runs before Run returns.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners()
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		return g.manager.Run(egCtx)
	})

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops both servers, disconnects every host, and closes the store.
// Only the first call does any work.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		g.health.Shutdown()

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		g.shutdownGRPCServer(ctx)

		errs = appendCloseError(errs, "manager shutdown", g.manager.Shutdown(ctx))
		errs = appendCloseError(errs, "store close", g.store.Close())

		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}
