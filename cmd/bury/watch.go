package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/neural-garage/tools/internal/scanner"
	"github.com/neural-garage/tools/internal/service/analysis"
	"github.com/neural-garage/tools/pkg/watch"
)

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Watch for file changes and re-analyze",
		ArgsUsage: "[path]",
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:  "debounce",
				Value: watch.DefaultDebounce,
				Usage: "Quiet period before a changed file triggers analysis",
			},
		}, analyzeFlags()...),
		Action: runWatchCmd,
	}
}

func runWatchCmd(c *cli.Context) error {
	svc, err := newService(c, getPath(c))
	if err != nil {
		return err
	}
	defer svc.Close()
	cfg := svc.Config()
	logger := loggerFrom(c)

	formatter, err := newFormatter(c, cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	opts := analysis.DeadCodeOptions{NoCache: c.Bool("no-cache")}
	run := func(ctx context.Context) {
		result, err := analyzeOnce(ctx, svc, opts, progressWriter(c))
		switch {
		case errors.Is(err, analysis.ErrNoFiles):
			color.New(color.FgYellow).Fprintln(c.App.ErrWriter, "No source files found to analyze.")
		case err != nil:
			if !errors.Is(err, context.Canceled) {
				color.New(color.FgRed).Fprintf(c.App.ErrWriter, "Analysis error: %v\n", err)
			}
		default:
			if err := formatter.Output(reportFor(cfg, result)); err != nil {
				logger.Error("write report", "error", err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	run(ctx)

	// the watcher gets its own scanner; Relevant is called while runs scan
	watcher, err := watch.NewWatcher(svc.Root(), scanner.NewScanner(cfg), c.Duration("debounce"),
		watch.WithOutput(c.App.Writer), watch.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Stop()

	watcher.SetCallback(func(ctx context.Context, changed []string) {
		logger.Info("re-analyzing", "changed", len(changed))
		start := time.Now()
		run(ctx)
		logger.Debug("re-analysis finished", "duration", time.Since(start))
	})

	err = watcher.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
