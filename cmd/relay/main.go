// Command relay runs the JSON-RPC reverse proxy: it loads config,
// builds every collaborator (endpoint table, health monitor, cache,
// selector, outbound client, metrics, handler), starts the HTTP
// listener, and drives the dashboard loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/you/eth-rpc-relay/internal/cache"
	"github.com/you/eth-rpc-relay/internal/configstore"
	"github.com/you/eth-rpc-relay/internal/endpoint"
	"github.com/you/eth-rpc-relay/internal/handler"
	"github.com/you/eth-rpc-relay/internal/health"
	"github.com/you/eth-rpc-relay/internal/httprpc"
	"github.com/you/eth-rpc-relay/internal/logging"
	"github.com/you/eth-rpc-relay/internal/metrics"
	"github.com/you/eth-rpc-relay/internal/selector"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to the relay YAML config")
	dev := flag.Bool("dev", false, "use a human-readable development logger")
	flag.Parse()

	logger, err := logging.New(*dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := configstore.Load(*configPath, logger)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err), zap.String("path", *configPath))
	}
	cfg := store.Current()

	table := endpoint.NewTable(handler.ToTableSpec(cfg))

	client := httprpc.New()
	reg := metrics.New()
	monitor := health.New(table, client, logger, cfg.HealthMonitor.MaxBlocksBehind)

	respCache := cache.New()
	respCache.SetTTLs(cfg.CacheTTL)

	sel := selector.New(table)
	h := handler.New(store, table, monitor, respCache, sel, client, reg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go runDashboard(ctx, h)

	addr := fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port)
	srv := &http.Server{Addr: addr, Handler: h.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("relay listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server exited", zap.Error(err))
	}
}
