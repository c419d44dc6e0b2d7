package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chadiek/agent-playground/internal/config"
	"github.com/chadiek/agent-playground/internal/httpserver"
	"github.com/chadiek/agent-playground/internal/playground"
	"github.com/chadiek/agent-playground/internal/rtc"
)

type runOptions struct {
	addr   string
	micPCM string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join the room and serve the playground view",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			debug, _ := cmd.Flags().GetBool("debug")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if opts.addr != "" {
				cfg.HTTPAddress = opts.addr
			}
			logger, err := newLogger(debug)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts, cmd.InOrStdin(), logger)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address (overrides http_address)")
	cmd.Flags().StringVar(&opts.micPCM, "mic-pcm", "", "publish 48kHz mono s16le PCM from this file as the microphone (- for stdin)")
	return cmd
}

func run(ctx context.Context, cfg config.Config, opts runOptions, stdin io.Reader, logger *zap.Logger) error {
	session, err := rtc.Dial(ctx, rtc.Options{
		URL:            cfg.SignalingURL,
		Token:          cfg.Token,
		ICEServersJSON: cfg.ICEServersJSON,
		Microphone:     cfg.Inputs.Mic,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	if cfg.Inputs.Mic {
		if err := publishMic(ctx, session, opts.micPCM, stdin, logger); err != nil {
			logger.Warn("microphone not published", zap.Error(err))
		}
	}

	ctrl, err := playground.New(session, session, cfg.Playground(), logger)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	srv := httpserver.New(ctrl, httpserver.Options{Password: cfg.HTTPPassword}, logger)
	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddress))
		serverErrors <- server.ListenAndServe()
	}()
	runDone := make(chan error, 1)
	go func() { runDone <- ctrl.Run(ctx) }()

	var result error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			result = fmt.Errorf("server: %w", err)
		}
	case err := <-runDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			result = err
		}
		logger.Info("session ended")
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
	return result
}

// publishMic publishes the local microphone and, when path is set, streams
// PCM from it until EOF or ctx ends.
func publishMic(ctx context.Context, session *rtc.Session, path string, stdin io.Reader, logger *zap.Logger) error {
	mic, err := session.PublishMicrophone()
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	var r io.Reader = stdin
	var closer io.Closer
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		r, closer = f, f
	}
	go func() {
		if closer != nil {
			defer closer.Close()
		}
		if err := mic.Stream(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("microphone stream ended", zap.Error(err))
		}
	}()
	return nil
}
