package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weiawesome/wes-io-live/chat-client/internal/chatwindow"
	"github.com/weiawesome/wes-io-live/chat-client/internal/config"
	"github.com/weiawesome/wes-io-live/chat-client/internal/history"
	"github.com/weiawesome/wes-io-live/chat-client/internal/identity"
	"github.com/weiawesome/wes-io-live/chat-client/internal/inbox"
	"github.com/weiawesome/wes-io-live/chat-client/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-client/internal/realtime"
	"github.com/weiawesome/wes-io-live/chat-client/internal/tui"
	pkglog "github.com/weiawesome/wes-io-live/chat-client/pkg/log"
)

func main() {
	configPath := "./config"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger; the terminal belongs to the UI
	if err := pkglog.Init(cfg.Log); err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to initialize logger")
	}
	defer pkglog.Close()
	logger := pkglog.L()

	id, err := identity.New(cfg.Auth.Token, cfg.Auth.UserID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve signed-in user")
	}
	logger.Info().Int64(pkglog.FieldViewerID, id.ViewerID()).Msg("starting chat client")

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var metricsServer *http.Server
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{
			Addr:         cfg.Metrics.Address,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	// Collaborators
	hist, err := history.NewHTTPClient(history.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Token:   id.Token,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create history client")
	}

	transport, err := realtime.NewTransport(cfg.Realtime, id.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create realtime transport")
	}
	// One connection for the whole process, shared by the list and the window.
	channel := realtime.NewManager(transport, realtime.Options{
		ReconnectDelay: cfg.Realtime.ReconnectDelay,
		DialTimeout:    cfg.Realtime.DialTimeout,
		Metrics:        m,
	})
	logger.Info().Str(pkglog.FieldDriver, transport.Name()).Msg("realtime transport configured")

	window := chatwindow.New(hist, channel, id, chatwindow.Options{
		PageSize:           cfg.Chat.PageSize,
		AppendAcknowledged: cfg.Chat.AppendAcknowledged,
		MarkReadInterval:   cfg.Chat.MarkReadInterval,
		Scroll:             cfg.Scroll,
		Metrics:            m,
	})
	conversations := inbox.New(hist, channel, id)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	windowDone := make(chan error, 1)
	go func() {
		windowDone <- window.Run(ctx)
	}()

	inboxReady := make(chan struct{})
	go func() {
		defer close(inboxReady)
		if err := conversations.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to load conversations")
		}
	}()

	program := tea.NewProgram(
		tui.New(window, conversations, id.ViewerID(), id.DisplayName()),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logger.Error().Err(err).Msg("terminal ui exited with error")
	}

	// Graceful shutdown
	logger.Info().Msg("shutting down chat client")
	cancel()

	select {
	case <-windowDone:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("chat window shutdown timed out")
	}

	<-inboxReady
	conversations.Stop()

	if err := channel.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close realtime connection")
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("chat client stopped")
}
