// stomptail connects to one STOMP-over-WebSocket backend and prints every
// frame it forwards to the console.
// Usage: go run ./cmd/stomptail --url ws://localhost:15674/ws --dest /topic/quotes,/topic/trades
//
// Optional environment variables:
//
//	STOMP_LOGIN    - login sent on CONNECT
//	STOMP_PASSCODE - passcode sent on CONNECT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/stompbridge/internal/bus"
	"github.com/rickgao/stompbridge/internal/config"
	"github.com/rickgao/stompbridge/internal/connection"
	"github.com/rickgao/stompbridge/internal/logging"
	"github.com/rickgao/stompbridge/internal/stompws"
	"github.com/rickgao/stompbridge/internal/supervisor"
)

func main() {
	wsURL := flag.String("url", "ws://localhost:15674/ws", "backend WebSocket URL")
	dests := flag.String("dest", "/topic/test", "comma-separated destinations to subscribe")
	pattern := flag.String("pattern", "**", "local bus pattern to print")
	send := flag.String("send", "", "send one message after connecting, as destination=payload")
	verbose := flag.Bool("verbose", false, "print headers with every frame")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger, err := logging.FromStrings(*logLevel, "text", os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	local := bus.NewLocal(config.DefaultBusBufferSize, config.DefaultBusQueueLimit, logger)
	defer local.Close()

	sub, err := local.Subscribe(*pattern)
	if err != nil {
		logger.Error("invalid pattern", "error", err)
		os.Exit(2)
	}

	stompCfg := stompws.DefaultConfig()
	stompCfg.Login = os.Getenv("STOMP_LOGIN")
	stompCfg.Passcode = os.Getenv("STOMP_PASSCODE")

	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.URL = *wsURL
	mgrCfg.Destinations = splitList(*dests)

	mgr := connection.NewManager(mgrCfg, stompws.NewClient(stompCfg, logger), local, logger)

	reconnectCfg := config.ReconnectConfig{
		InitialDelay: config.DefaultReconnectInitial,
		MaxDelay:     config.DefaultReconnectMax,
		Multiplier:   config.DefaultReconnectMultiplier,
	}
	sup := supervisor.New(mgr, reconnectCfg, logger)
	mgr.SetErrorHandler(sup)
	go sup.Run(ctx)

	logger.Info("connecting", "url", *wsURL, "destinations", mgrCfg.Destinations)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	if *send != "" {
		dest, payload, ok := strings.Cut(*send, "=")
		if !ok {
			logger.Error("--send must be destination=payload")
			os.Exit(2)
		}
		if err := mgr.SendMessage(dest, payload); err != nil {
			logger.Error("send failed", "destination", dest, "error", err)
		}
	}

	go printFrames(ctx, sub, *verbose, logger)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				connStats := mgr.Stats()
				busStats := local.Stats()
				supStats := sup.Stats()
				logger.Info("stats",
					"state", connStats.State,
					"subscriptions", connStats.Subscriptions,
					"forwarded", connStats.FramesForwarded,
					"dropped", connStats.FramesDropped,
					"reconnects", supStats.Recovered,
					"bus_pending", sub.Pending(),
					"bus_dropped", busStats.Dropped,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	mgr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printFrames(ctx context.Context, sub *bus.Subscriber, verbose bool, logger *slog.Logger) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrBusClosed) {
				logger.Warn("bus read failed", "error", err)
			}
			return
		}

		fmt.Printf("[%s] %s\n", msg.Destination, msg.Payload)
		if verbose {
			keys := make([]string, 0, len(msg.Headers))
			for k := range msg.Headers {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("    %s: %s\n", k, msg.Headers[k])
			}
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
