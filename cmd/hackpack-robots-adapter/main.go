package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/alexspaceteam/hackpack-robots/pkg/httpapi"
	"github.com/alexspaceteam/hackpack-robots/pkg/mcp"
	"github.com/alexspaceteam/hackpack-robots/pkg/statebus"
	"github.com/alexspaceteam/hackpack-robots/pkg/supervisor"
)

var (
	line         = pflag.String("line", "/dev/ttyACM0", "serial device path")
	baud         = pflag.Int("baud", 115200, "serial baud rate")
	port         = pflag.Int("port", 8080, "HTTP listen port")
	manifestDir  = pflag.String("manifest-dir", "/etc/hackpack-robots/manifests", "directory holding <deviceId>.json manifests")
	redisAddr    = pflag.String("redis-addr", "", "redis address for state/telemetry publishing (empty disables)")
	pollInterval = pflag.Duration("poll-interval", 5*time.Second, "device-presence poll interval while disconnected")
	dwell        = pflag.Duration("dwell", 3*time.Second, "settle time after opening the serial port before handshaking")
	logLevel     = pflag.String("log-level", "info", "zerolog level: debug, info, warn, error")
)

func main() {
	pflag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil {
		logger = logger.Level(lvl)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
		logger.Warn().Str("log-level", *logLevel).Msg("unrecognized log level, defaulting to info")
	}

	logger.Info().
		Str("line", *line).
		Int("baud", *baud).
		Int("port", *port).
		Str("manifest_dir", *manifestDir).
		Msg("starting hackpack-robots-adapter")

	bus, err := statebus.New(*redisAddr, "", 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer bus.Close()
	if *redisAddr != "" {
		logger.Info().Str("redis_addr", *redisAddr).Msg("connected to redis")
	}

	sup := supervisor.New(supervisor.Config{
		Line:          *line,
		Baud:          *baud,
		ManifestDir:   *manifestDir,
		PollInterval:  *pollInterval,
		PostOpenDwell: *dwell,
		Logger:        logger,
		Bus:           bus,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)

	dispatcher := mcp.NewServer(sup, logger)
	dispatcher.SetBus(bus)

	router := httpapi.NewRouter(dispatcher, sup, logger)
	server := &http.Server{
		Addr:    ":" + strconv.Itoa(*port),
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}

	cancel()
	logger.Info().Msg("stopped")
}
