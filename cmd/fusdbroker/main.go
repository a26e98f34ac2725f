// Command fusdbroker runs a FUSD broker as a standalone daemon: providers
// dial its socket, register devices, and the broker dispatches client
// calls against them for the lifetime of the process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Godzil/fusd"
	"github.com/Godzil/fusd/internal/logging"
)

func main() {
	var (
		socketPath = flag.String("socket", fusd.DefaultConfig().SocketPath, "provider-facing Unix domain socket path")
		verbose    = flag.Bool("v", false, "verbose (debug-level) logging")
		statusEach = flag.Duration("status-interval", 0, "log a device status snapshot on this interval (0 disables)")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := fusd.DefaultConfig()
	cfg.SocketPath = *socketPath
	if *verbose {
		cfg.Verbosity = logging.LevelDebug
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := fusd.CreateAndServe(ctx, cfg, &fusd.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to start broker", "error", err)
		os.Exit(1)
	}
	logger.Info("broker listening", "socket", *socketPath, "id", b.ID())

	if *statusEach > 0 {
		go func() {
			ticker := time.NewTicker(*statusEach)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fmt.Fprint(os.Stdout, string(b.Status(false)))
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	b.Stop()
}
