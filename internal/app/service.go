package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"klaxer/internal/clock"
	"klaxer/internal/config"
	"klaxer/internal/deliver"
	"klaxer/internal/ingest"
	"klaxer/internal/logging"
	"klaxer/internal/metrics"
	"klaxer/internal/pipeline"
	"klaxer/internal/rules"
	"klaxer/internal/session"
	"klaxer/internal/sink"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable klaxer service.
type Service struct {
	source    config.ConfigSource
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	filters   *session.Filters
	pipeline  *pipeline.Pipeline
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	clock     clock.Clock
}

// NewService builds a service instance from a config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	registry, err := rules.Compile(cfg.Services)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("compile rules: %w", err)
	}

	chatSink, err := buildSink(cfg.Sink)
	if err != nil {
		closeLog()
		return nil, err
	}

	filters := session.NewFilters(clk.Now)
	poster := deliver.NewPoster(chatSink, logger)

	service := &Service{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		filters:  filters,
		pipeline: pipeline.New(registry, filters, poster, logger, clk),
		clock:    clk,
	}

	service.buildHTTPServer()
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Run starts the service lifecycle and blocks until a shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.cfg.Service.ReloadEnabled {
		reloadInterval := time.Duration(s.cfg.Service.ReloadIntervalSec) * time.Second
		reloadTicker := time.NewTicker(reloadInterval)
		defer reloadTicker.Stop()
		go func() {
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-reloadTicker.C:
					if err := s.reloadRules(); err != nil {
						s.logger.Error("rules reload failed", "error", err.Error())
					}
				}
			}
		}()
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		firstErr = fmt.Errorf("http shutdown: %w", err)
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			if firstErr == nil {
				firstErr = fmt.Errorf("nats subscriber close: %w", err)
			}
		}
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup
// failures.
// Params: none.
// Returns: acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the router with ingest, filters, and health routes.
// Params: none.
// Returns: HTTP server stored on the service.
func (s *Service) buildHTTPServer() {
	httpCfg := s.cfg.Ingest.HTTP
	mux := http.NewServeMux()
	mux.HandleFunc(httpCfg.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(httpCfg.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(httpCfg.MetricsPath, metrics.Handler())

	if httpCfg.Enabled {
		handler := ingest.NewHTTPHandler(s.pipeline, httpCfg.MaxBodyBytes, s.logger)
		mux.Handle("POST /alert/{service}/{token}", handler)
		ingest.NewFiltersHandler(s.filters).Register(mux)
	}

	s.httpSrv = &http.Server{
		Addr:              httpCfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.pipeline, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// reloadRules recompiles the rule registry from the config source and swaps
// it atomically. Transport sections are not reloaded; changing them requires
// a restart.
// Params: none.
// Returns: reload or compile error.
func (s *Service) reloadRules() error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return err
	}
	registry, err := rules.Compile(nextCfg.Services)
	if err != nil {
		return err
	}
	s.pipeline.SetRegistry(registry)
	s.cfg.Services = nextCfg.Services
	s.logger.Info("rules reloaded", "services", len(nextCfg.Services))
	return nil
}

// buildSink creates the chat sink selected by configuration.
// Params: sink section of the config snapshot.
// Returns: chat sink implementation or error for unknown kinds.
func buildSink(cfg config.SinkConfig) (deliver.ChatSink, error) {
	switch cfg.Kind {
	case config.SinkKindSlack:
		return sink.NewSlack(cfg.Slack), nil
	case config.SinkKindTelegram:
		return sink.NewTelegram(cfg.Telegram), nil
	default:
		return nil, fmt.Errorf("unsupported sink kind %q", cfg.Kind)
	}
}
