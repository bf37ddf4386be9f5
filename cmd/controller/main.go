package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metorial/agentsched/internal/commander"
	"github.com/metorial/agentsched/internal/config"
	"github.com/metorial/agentsched/internal/discovery"
	"google.golang.org/grpc"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := commander.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := commander.NewRegistry(db, commander.ClientDialer(cfg.Timeouts))
	ledger := commander.NewLedger(db)
	dispatcher := commander.NewDispatcher(db, ledger, commander.ClientDialer(cfg.Timeouts))
	tasks := commander.NewTasks(db)
	library := commander.NewLibrary(db)
	scheduler := commander.NewScheduler(db, dispatcher, cfg.ScheduleLocation)
	tasks.OnChange(scheduler.Reload)

	if cfg.ScriptLibrary != "" {
		if _, err := library.Seed(ctx, cfg.ScriptLibrary); err != nil {
			log.Printf("Warning: failed to seed script library: %v", err)
		}
	}

	sweepOrphans(ctx, ledger, orphanAge(cfg))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	healthServer := commander.NewHealth(db)
	healthServer.Register(grpcServer)
	go healthServer.Run(ctx, 10*time.Second)

	mux := http.NewServeMux()
	api := commander.NewAPI(db, registry, tasks, library, ledger, dispatcher, scheduler)
	api.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: mux,
	}

	var consul *discovery.Consul
	if cfg.ConsulAddr != "" {
		consul, err = discovery.New(cfg.ConsulAddr)
		if err != nil {
			log.Printf("Warning: failed to create Consul client: %v", err)
		} else {
			ip := cfg.AdvertiseIP
			if ip == "" {
				ip = discovery.LocalIP()
			}
			if err := consul.RegisterController(ip, cfg.GRPCPort, cfg.HTTPPort); err != nil {
				log.Printf("Warning: failed to register with Consul: %v", err)
			}
			defer consul.DeregisterController()
		}
	}

	go startMaintenanceTasks(ctx, cfg, registry, ledger, consul)

	errChan := make(chan error, 3)
	schedulerDone := make(chan struct{})
	if cfg.SchedulerEnabled {
		go func() {
			defer close(schedulerDone)
			log.Printf("Scheduler running (timezone %s)", cfg.ScheduleLocation)
			if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("scheduler: %w", err)
			}
		}()
	} else {
		close(schedulerDone)
		log.Println("Scheduler disabled; tasks run only on demand")
	}

	go func() {
		log.Printf("gRPC health server listening on :%d", cfg.GRPCPort)
		errChan <- grpcServer.Serve(lis)
	}()

	go func() {
		log.Printf("HTTP API server listening on :%d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-errChan:
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		cancel()
		healthServer.Shutdown()
		grpcServer.GracefulStop()

		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		runErr = httpServer.Shutdown(shutdownCtx)
	}

	// Scheduled dispatches finalize their records before the store closes.
	cancel()
	<-schedulerDone
	return runErr
}

func startMaintenanceTasks(ctx context.Context, cfg *config.Config, registry *commander.Registry,
	ledger *commander.Ledger, consul *discovery.Consul) {
	refreshTicker := time.NewTicker(cfg.RefreshInterval)
	defer refreshTicker.Stop()

	var discoveryC <-chan time.Time
	if consul != nil {
		discoveryTicker := time.NewTicker(cfg.DiscoveryInterval)
		defer discoveryTicker.Stop()
		discoveryC = discoveryTicker.C
		discoverAgents(ctx, registry, consul)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-refreshTicker.C:
			if err := registry.RefreshAll(ctx); err != nil {
				log.Printf("Error refreshing agent status: %v", err)
			}
			sweepOrphans(ctx, ledger, orphanAge(cfg))
		case <-discoveryC:
			discoverAgents(ctx, registry, consul)
		}
	}
}

func discoverAgents(ctx context.Context, registry *commander.Registry, consul *discovery.Consul) {
	addrs, err := consul.DiscoverAgents(ctx)
	if err != nil {
		log.Printf("Error discovering agents: %v", err)
		return
	}
	if added := registry.Discover(ctx, addrs); len(added) > 0 {
		log.Printf("Registered %d discovered agents", len(added))
	}
}

// orphanAge is how long a running execution may stay open before it is
// treated as abandoned: the execute budget plus a grace period for finalize.
func orphanAge(cfg *config.Config) time.Duration {
	return cfg.Timeouts.Execute + time.Minute
}

func sweepOrphans(ctx context.Context, ledger *commander.Ledger, olderThan time.Duration) {
	n, err := ledger.SweepOrphaned(ctx, olderThan)
	if err != nil {
		log.Printf("Error sweeping orphaned executions: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Marked %d orphaned executions as failed", n)
	}
}
