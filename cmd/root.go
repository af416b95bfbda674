package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-reply-parser/config"
	"github.com/dhcgn/mbox-reply-parser/imap"
	"github.com/dhcgn/mbox-reply-parser/mbox"
	"github.com/dhcgn/mbox-reply-parser/output"
	"github.com/dhcgn/mbox-reply-parser/progress"
	"github.com/dhcgn/mbox-reply-parser/runner"
	"github.com/dhcgn/mbox-reply-parser/stats"
)

var rootCmd = &cobra.Command{
	Use:   "mbox-reply-parser",
	Short: "Extract the visible reply text from mbox archives and IMAP folders",
	Long: `Reads every message of an mbox archive or an IMAP folder, strips quoted
history and signatures from the text body and writes what the sender actually
wrote as JSON lines, YAML documents or plain text.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg.LogLevel, cfg.LogDir)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		logger = logger.With("run", uuid.NewString())
		slog.SetDefault(logger)

		source := cfg.MboxPath
		if cfg.UseIMAP() {
			source = fmt.Sprintf("imap://%s/%s", cfg.IMAPHost, cfg.Folder)
		}
		logger.Info("starting mbox-reply-parser", "source", source, "output", cfg.Output, "format", cfg.Format, "dryRun", cfg.DryRun)

		return run(cmd.Context(), cfg, logger)
	},
}

func init() {
	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	reporter := stats.NewReporter(r, logger)

	total := 0
	if !cfg.UseIMAP() {
		if total, err = mbox.CountMessages(cfg.MboxPath); err != nil {
			logger.Warn("could not count messages", "mbox", cfg.MboxPath, "err", err)
			total = 0
		}
	} else {
		total = cfg.Limit
	}
	bar := progress.New(progress.Options{
		Total:       total,
		AlreadyDone: r.Tracker().Snapshot().Extracted,
		LogLevel:    cfg.LogLevel,
		Interactive: cfg.Output != "-",
	})
	progress.NewProgressReporter(r, bar, logger)

	if cfg.UseIMAP() {
		fetchOpts := imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Folder:             cfg.Folder,
			Limit:              cfg.Limit,
		}
		if _, err := imap.NewProducer(fetchOpts, r, logger); err != nil {
			r.Stop()
			return fmt.Errorf("imap.NewProducer: %w", err)
		}
	} else {
		if _, err := mbox.NewProducer(mbox.Options{Path: cfg.MboxPath}, r, logger); err != nil {
			r.Stop()
			return fmt.Errorf("mbox.NewProducer: %w", err)
		}
	}

	sinkOpts := output.SinkOptions{Path: cfg.Output, Format: cfg.Format, DryRun: cfg.DryRun}
	if _, err := output.NewSink(sinkOpts, r, logger); err != nil {
		r.Stop()
		return fmt.Errorf("output.NewSink: %w", err)
	}

	if ctx != nil {
		stopOnSignal := context.AfterFunc(ctx, r.Stop)
		defer stopOnSignal()
	}

	err = r.Start()
	bar.Stop()

	if f := r.Filter(); f.Active() {
		logFilterStats(logger, f.GetStats())
	}

	if ctx != nil && errors.Is(ctx.Err(), context.Canceled) && err == nil {
		logger.Warn("interrupted", "written", reporter.Summary().Written, "elapsed", r.Elapsed())
	}
	return err
}

func setupLogger(logLevel, logDir string) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch logLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	// Replies may go to stdout, so logs always use stderr.
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(logDir, fmt.Sprintf("mbox-reply-parser-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}
