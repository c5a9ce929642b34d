// Dashboard renders the endpoint table to stdout on relay.monitor_interval
// from a dedicated goroutine — a presentation surface only, never part of
// the client-facing API.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/you/eth-rpc-relay/internal/cache"
	"github.com/you/eth-rpc-relay/internal/endpoint"
	"github.com/you/eth-rpc-relay/internal/handler"
	"github.com/you/eth-rpc-relay/internal/metrics"
)

// defaultColumnWidths matches the health_monitor.column_widths keys the
// config may override.
var defaultColumnWidths = map[string]int{
	"url":     43,
	"status":  11,
	"behind":  6,
	"block":   13,
	"latency": 10,
	"tps":     6,
	"tpm":     6,
	"errors":  6,
	"calls":   9,
}

// runDashboard loops forever at relay.monitor_interval, running the same
// reload-and-apply check the request paths run (whoever wins the 30s
// throttle applies the change), poking the health monitor, rendering the
// status table, and feeding the endpoint gauges.
func runDashboard(ctx context.Context, h *handler.Handler) {
	for {
		now := time.Now()

		cfg := h.ReloadConfig(now)

		interval := time.Duration(cfg.Relay.MonitorInterval) * time.Second
		h.Monitor.MaybeRun(ctx, now, interval)
		render(h.Table, h.Cache, cfg.HealthMonitor.ColumnWidths, now)
		feedGauges(h.Metrics, h.Table)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func feedGauges(reg *metrics.Registry, table *endpoint.Table) {
	for _, v := range table.SnapshotAll() {
		healthy := 0.0
		if v.Healthy {
			healthy = 1.0
		}
		reg.EndpointHealthy.WithLabelValues(v.URL).Set(healthy)

		behind := float64(v.Behind)
		if v.Behind == endpoint.InfiniteBehind {
			behind = math.Inf(1)
		}
		reg.EndpointBehind.WithLabelValues(v.URL).Set(behind)
	}
}

// columnWidth returns the configured width for name, falling back to the
// built-in default.
func columnWidth(cfg map[string]int, name string) int {
	if w, ok := cfg[name]; ok && w > 0 {
		return w
	}
	return defaultColumnWidths[name]
}

// render draws the banner and the endpoint status table, with a footer
// row totaling TPS, TPM, and calls across every endpoint.
func render(table *endpoint.Table, respCache *cache.Cache, widths map[string]int, now time.Time) {
	views := table.SnapshotAll()

	var totalCalls, totalTPS, totalTPM uint64
	type row struct {
		view     endpoint.View
		tps, tpm int
	}
	rows := make([]row, 0, len(views))
	for _, v := range views {
		tps, tpm, _ := table.RateCounts(v.URL, now)
		rows = append(rows, row{view: v, tps: tps, tpm: tpm})
		totalCalls += v.CallCount
		totalTPS += uint64(tps)
		totalTPM += uint64(tpm)
	}

	hits := respCache.Hits()
	rate := 0.0
	if totalCalls > 0 {
		rate = float64(hits) / float64(totalCalls) * 100
	}
	fmt.Fprintf(os.Stdout, "\nTotal calls: %d | Cache hits: %d | Hit rate: %.1f%%\n", totalCalls, hits, rate)

	wURL := columnWidth(widths, "url")
	wStatus := columnWidth(widths, "status")
	wBehind := columnWidth(widths, "behind")
	wBlock := columnWidth(widths, "block")
	wLatency := columnWidth(widths, "latency")
	wTPS := columnWidth(widths, "tps")
	wTPM := columnWidth(widths, "tpm")
	wErrors := columnWidth(widths, "errors")
	wCalls := columnWidth(widths, "calls")

	fmt.Fprintf(os.Stdout, "%-*s %-*s %*s %*s %*s %*s %*s %*s %*s\n",
		wURL, "URL", wStatus, "Status", wBehind, ">>", wBlock, "Block",
		wLatency, "Latency", wTPS, "TPS", wTPM, "TPM", wErrors, "Err", wCalls, "Calls")

	for _, r := range rows {
		v := r.view
		status := "OK"
		if !v.Healthy {
			status = "DOWN"
		}
		fmt.Fprintf(os.Stdout, "%-*s %-*s %*s %*d %*s %*d %*d %*d %*d\n",
			wURL, v.URL, wStatus, status,
			wBehind, formatBehind(v.Behind),
			wBlock, v.LatestBlock,
			wLatency, formatLatency(v.Latency),
			wTPS, r.tps, wTPM, r.tpm,
			wErrors, v.Errors, wCalls, v.CallCount)
	}

	fmt.Fprintf(os.Stdout, "%-*s %-*s %*s %*s %*s %*d %*d %*s %*d\n",
		wURL, "", wStatus, "", wBehind, "", wBlock, "", wLatency, "",
		wTPS, totalTPS, wTPM, totalTPM, wErrors, "", wCalls, totalCalls)
}

// formatBehind renders the infinite sentinel as the literal "∞" the way
// a human reading the dashboard expects; /status keeps the numeric
// sentinel for machine consumers.
func formatBehind(behind uint64) string {
	if behind == endpoint.InfiniteBehind {
		return "∞"
	}
	return fmt.Sprintf("%d", behind)
}

// formatLatency renders latency in milliseconds, or "∞" for the
// sentinel an endpoint carries before its first successful probe and
// after a failed one.
func formatLatency(latency time.Duration) string {
	if latency == endpoint.InfiniteLatency {
		return "∞"
	}
	return fmt.Sprintf("%.1fms", float64(latency.Microseconds())/1000)
}
