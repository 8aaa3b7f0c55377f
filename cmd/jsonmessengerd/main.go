// Command jsonmessengerd accepts JSON message streams over TCP, TLS and
// WebSocket, answers heartbeats, and forwards application messages to the log
// or to NATS.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/jsonmessenger"
	"github.com/Zereker/jsonmessenger/natssink"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	zl, logCloser, err := initLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger := jsonmessenger.NewZerologLogger(zl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sink := jsonmessenger.LogSink(logger)
	if cfg.NATSURL != "" {
		nc, err := natssink.Connect(cfg.NATSURL, "jsonmessengerd")
		if err != nil {
			return err
		}
		defer nc.Drain()
		sink = natssink.New(nc, cfg.NATSSubject, logger)
		logger.Info("publishing events to nats", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	messenger, err := jsonmessenger.New(
		jsonmessenger.SinkOption(sink),
		jsonmessenger.MessengerLoggerOption(logger),
		jsonmessenger.MetricsOption(reg),
		jsonmessenger.IdleThresholdOption(cfg.EchoIdle),
		jsonmessenger.EchoThresholdOption(cfg.EchoThreshold),
		jsonmessenger.MaxMessageSizeOption(cfg.MaxMessageSize),
		jsonmessenger.NotifyOnConnectOption(!cfg.NoConnectNotice),
	)
	if err != nil {
		return err
	}

	logger.Info("starting jsonmessengerd",
		"tcp_port", cfg.TCPPort, "ssl_port", cfg.SSLPort, "ws_port", cfg.WSPort,
		"echo_idle", cfg.EchoIdle, "echo_threshold", cfg.EchoThreshold)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ignoreShutdown(messenger.Run(gctx))
	})

	if cfg.TCPPort != 0 {
		if err := serveSocket(gctx, group, cfg, cfg.TCPPort, nil, messenger, logger); err != nil {
			return err
		}
	}

	if cfg.SSLPort != 0 {
		cert, err := tls.LoadX509KeyPair(cfg.SSLCert, cfg.SSLKey)
		if err != nil {
			return errors.Wrap(err, "load tls key pair")
		}
		tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		if err := serveSocket(gctx, group, cfg, cfg.SSLPort, tlsConfig, messenger, logger); err != nil {
			return err
		}
	}

	if cfg.WSPort != 0 {
		serveHTTP(gctx, group, hostPort(cfg.Listen, cfg.WSPort),
			jsonmessenger.NewWebSocketHandler(gctx, messenger), logger)
	}

	if cfg.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		serveHTTP(gctx, group, hostPort(cfg.Listen, cfg.MetricsPort), mux, logger)
	}

	err = group.Wait()
	logger.Info("jsonmessengerd stopped")
	return err
}

func serveSocket(ctx context.Context, group *errgroup.Group, cfg *config, port int,
	tlsConfig *tls.Config, handler jsonmessenger.Handler, logger jsonmessenger.Logger) error {
	addr, err := net.ResolveTCPAddr("tcp", hostPort(cfg.Listen, port))
	if err != nil {
		return errors.Wrap(err, "resolve listen address")
	}

	opts := []jsonmessenger.ServerOption{
		jsonmessenger.ServerLoggerOption(logger),
		jsonmessenger.ServerShutdownTimeoutOption(cfg.ShutdownTimeout),
	}
	if tlsConfig != nil {
		opts = append(opts, jsonmessenger.ServerTLSOption(tlsConfig))
	}

	server, err := jsonmessenger.Listen(addr, opts...)
	if err != nil {
		return err
	}

	group.Go(func() error {
		defer server.Close()
		return ignoreShutdown(server.Serve(ctx, handler))
	})
	return nil
}

func serveHTTP(ctx context.Context, group *errgroup.Group, addr string, h http.Handler, logger jsonmessenger.Logger) {
	srv := &http.Server{Addr: addr, Handler: h}

	group.Go(func() error {
		logger.Info("http server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "serve http on %s", addr)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		return srv.Close()
	})
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func ignoreShutdown(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
