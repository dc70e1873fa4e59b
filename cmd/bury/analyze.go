package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/neural-garage/tools/internal/output"
	"github.com/neural-garage/tools/internal/progress"
	"github.com/neural-garage/tools/internal/remote"
	"github.com/neural-garage/tools/internal/service/analysis"
	"github.com/neural-garage/tools/pkg/analyzer"
	"github.com/neural-garage/tools/pkg/analyzer/deadcode"
	"github.com/neural-garage/tools/pkg/config"
)

func analyzeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format: text, json, markdown, toon, yaml",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write output to file",
		},
		&cli.BoolFlag{
			Name:  "library",
			Usage: "Treat every public symbol as a root",
		},
		&cli.StringSliceFlag{
			Name:    "entry",
			Aliases: []string{"e"},
			Usage:   "Extra entry point name pattern (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "pin",
			Usage: "Symbol pattern that is always live (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "include-tests",
			Value: true,
			Usage: "Treat test functions as roots",
		},
		&cli.Float64Flag{
			Name:  "min-confidence",
			Usage: "Hide dead symbols below this confidence (0.0-1.0)",
		},
		&cli.BoolFlag{
			Name:  "show-live",
			Usage: "Also list live symbols and what keeps them alive",
		},
		&cli.BoolFlag{
			Name:  "no-cache",
			Usage: "Disable the incremental fact cache",
		},
		&cli.StringFlag{
			Name:  "ref",
			Usage: "Analyze a git branch, tag or commit instead of the working tree",
		},
		&cli.BoolFlag{
			Name:  "shallow",
			Usage: "Shallow clone (depth=1) when the path is a remote repository",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Parallel extraction workers (0 = 2x CPUs)",
		},
		&cli.BoolFlag{
			Name:  "no-progress",
			Usage: "Hide the progress bar",
		},
		&cli.BoolFlag{
			Name:  "fail-on-dead",
			Usage: "Exit with status 1 when dead code is reported",
		},
	}
}

func analyzeCmd() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Aliases:   []string{"a"},
		Usage:     "Report unreachable functions, methods and classes",
		ArgsUsage: "[path | owner/repo[@ref] | git URL]",
		Flags:     analyzeFlags(),
		Action:    runAnalyzeCmd,
	}
}

// loadProjectConfig loads --config when given, otherwise the config file
// found in root.
func loadProjectConfig(c *cli.Context, root string) (*config.Config, string, error) {
	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	return config.LoadOrDefault(root)
}

// applyFlags layers explicitly set flags over the configuration.
func applyFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("format") {
		cfg.Output.Format = string(output.ParseFormat(c.String("format")))
	}
	if c.IsSet("library") {
		cfg.Project.Library = c.Bool("library")
	}
	if c.IsSet("include-tests") {
		cfg.Project.IncludeTests = c.Bool("include-tests")
	}
	if entries := c.StringSlice("entry"); len(entries) > 0 {
		cfg.Project.EntryPoints = append(cfg.RootConfig().EntryPatterns, entries...)
	}
	cfg.Project.Pins = append(cfg.Project.Pins, c.StringSlice("pin")...)
	if c.IsSet("min-confidence") {
		cfg.Analysis.MinConfidence = c.Float64("min-confidence")
	}
	if c.IsSet("workers") {
		cfg.Analysis.Workers = c.Int("workers")
	}
	if c.Bool("show-live") {
		cfg.Output.ShowLive = true
	}
	if c.Bool("verbose") {
		cfg.Output.Verbose = true
	}
	if c.Bool("no-color") {
		cfg.Output.Color = false
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid options: %v", err), 2)
	}
	return nil
}

// newService loads the configuration for the project at root, applies the
// command line flags and creates the analysis service.
func newService(c *cli.Context, root string) (*analysis.Service, error) {
	cfg, cfgPath, err := loadProjectConfig(c, root)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(c, cfg); err != nil {
		return nil, err
	}
	logger := loggerFrom(c)
	if cfgPath != "" {
		logger.Info("loaded config", "path", cfgPath)
	}
	return analysis.New(root, analysis.WithConfig(cfg), analysis.WithLogger(logger))
}

// newFormatter writes to --output when set, otherwise to the app's writer.
func newFormatter(c *cli.Context, cfg *config.Config) (*output.Formatter, error) {
	format := output.ParseFormat(cfg.Output.Format)
	if path := c.String("output"); path != "" {
		return output.NewFormatter(format, path, false)
	}
	return output.NewWriterFormatter(format, c.App.Writer, cfg.Output.Color && !color.NoColor), nil
}

func reportFor(cfg *config.Config, result *deadcode.Analysis) *output.DeadCodeReport {
	return output.NewDeadCodeReport(result, output.DeadCodeOptions{
		MinConfidence: cfg.Analysis.MinConfidence,
		ShowLive:      cfg.Output.ShowLive,
		Verbose:       cfg.Output.Verbose,
	})
}

// analyzeOnce runs one analysis, drawing a progress bar on w when enabled.
func analyzeOnce(ctx context.Context, svc *analysis.Service, opts analysis.DeadCodeOptions, w io.Writer) (*deadcode.Analysis, error) {
	if w == nil {
		return svc.AnalyzeDeadCode(ctx, opts)
	}
	bar := progress.NewBar(w, "Extracting facts")
	ctx = analyzer.WithTracker(ctx, bar.Tracker("extract"))
	result, err := svc.AnalyzeDeadCode(ctx, opts)
	if err != nil && !errors.Is(err, analysis.ErrNoFiles) {
		bar.FinishError(err)
	} else {
		bar.FinishSuccess()
	}
	return result, err
}

func progressWriter(c *cli.Context) io.Writer {
	if c.Bool("no-progress") || c.Bool("quiet") {
		return nil
	}
	return c.App.ErrWriter
}

// resolveTarget clones the path argument when it names a remote
// repository. It returns the directory to analyze, the options for the run
// and a cleanup function.
func resolveTarget(ctx context.Context, c *cli.Context) (string, analysis.DeadCodeOptions, func(), error) {
	path := getPath(c)
	opts := analysis.DeadCodeOptions{
		Ref:     c.String("ref"),
		NoCache: c.Bool("no-cache"),
	}

	src, err := remote.Parse(path)
	if err != nil {
		return "", opts, nil, err
	}
	if src == nil {
		return path, opts, func() {}, nil
	}

	if src.Ref == "" {
		src.Ref = opts.Ref
	}
	logger := loggerFrom(c)
	logger.Info("cloning", "repository", src.String())

	if err := src.Clone(ctx, progressWriter(c), c.Bool("shallow")); err != nil {
		return "", opts, nil, err
	}

	// the clone is removed afterwards, so its cache would never be reused
	opts.Ref = src.Ref
	opts.NoCache = true
	dir := src.CloneDir
	cleanup := func() {
		if err := src.Cleanup(); err != nil {
			logger.Warn("remove clone", "dir", dir, "error", err)
		}
	}
	return dir, opts, cleanup, nil
}

func runAnalyzeCmd(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, opts, cleanup, err := resolveTarget(ctx, c)
	if err != nil {
		return err
	}
	defer cleanup()

	svc, err := newService(c, root)
	if err != nil {
		return err
	}
	defer svc.Close()
	cfg := svc.Config()

	result, err := analyzeOnce(ctx, svc, opts, progressWriter(c))
	if errors.Is(err, analysis.ErrNoFiles) {
		color.New(color.FgYellow).Fprintln(c.App.ErrWriter, "No source files found to analyze.")
		return nil
	}
	if err != nil {
		return err
	}

	formatter, err := newFormatter(c, cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	report := reportFor(cfg, result)
	if err := formatter.Output(report); err != nil {
		return err
	}

	if c.Bool("fail-on-dead") {
		if n := len(report.Data().Dead); n > 0 {
			return cli.Exit(fmt.Sprintf("Found %d dead code items", n), 1)
		}
	}
	return nil
}
