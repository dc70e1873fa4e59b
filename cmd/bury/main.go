package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/neural-garage/tools/internal/logging"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func init() {
	// -v is taken by --verbose
	cli.VersionFlag = &cli.BoolFlag{Name: "version", Usage: "print the version"}
}

// getPath returns the project directory from the first positional
// argument, defaulting to ".".
func getPath(c *cli.Context) string {
	if c.Args().Len() > 0 {
		return c.Args().First()
	}
	return "."
}

// loggerFrom returns the logger set up in the app's Before hook.
func loggerFrom(c *cli.Context) *slog.Logger {
	if l, ok := c.App.Metadata["logger"].(*slog.Logger); ok {
		return l
	}
	return logging.Discard()
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to config file (TOML, YAML, or JSON)",
			EnvVars: []string{"BURY_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log progress details to stderr",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Log debug details to stderr",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress logging",
		},
		&cli.BoolFlag{
			Name:  "log-json",
			Usage: "Write logs as JSON",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "Disable colored output",
		},
		&cli.StringFlag{
			Name:  "pprof",
			Usage: "Enable pprof profiling and write to specified prefix (creates <prefix>.cpu.pprof and <prefix>.mem.pprof)",
		},
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "bury",
		Usage:     "Find dead code by reachability analysis",
		Version:   fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Metadata:  make(map[string]interface{}),
		Writer:    stdout,
		ErrWriter: stderr,
		Description: `Bury builds a symbol graph of a project, selects roots such as main
functions, script guards, tests and pinned symbols, and reports every
function, method and class no root can reach.

Supports: Python, TypeScript, TSX, JavaScript, Go`,
		ArgsUsage: "[path]",
		Flags:     append(globalFlags(), analyzeFlags()...),
		// exit codes are handled in main so tests can run the app
		ExitErrHandler: func(*cli.Context, error) {},
		Before: func(c *cli.Context) error {
			if c.Bool("no-color") {
				color.NoColor = true
			}
			c.App.Metadata["logger"] = logging.New(c.App.ErrWriter, logging.Options{
				Level: logging.LevelFromFlags(c.Bool("verbose"), c.Bool("debug"), c.Bool("quiet")),
				JSON:  c.Bool("log-json"),
			})

			if pprofPrefix := c.String("pprof"); pprofPrefix != "" {
				cpuFile, err := os.Create(pprofPrefix + ".cpu.pprof")
				if err != nil {
					return fmt.Errorf("failed to create CPU profile: %w", err)
				}
				if err := pprof.StartCPUProfile(cpuFile); err != nil {
					cpuFile.Close()
					return fmt.Errorf("failed to start CPU profile: %w", err)
				}
				c.App.Metadata["pprofCPU"] = cpuFile
			}
			return nil
		},
		After: func(c *cli.Context) error {
			pprofPrefix := c.String("pprof")
			if pprofPrefix == "" {
				return nil
			}
			pprof.StopCPUProfile()
			if cpuFile, ok := c.App.Metadata["pprofCPU"].(*os.File); ok {
				cpuFile.Close()
				color.New(color.FgGreen).Fprintf(c.App.ErrWriter, "CPU profile written to %s.cpu.pprof\n", pprofPrefix)
			}

			memFile, err := os.Create(pprofPrefix + ".mem.pprof")
			if err != nil {
				return fmt.Errorf("failed to create memory profile: %w", err)
			}
			defer memFile.Close()

			runtime.GC()
			if err := pprof.WriteHeapProfile(memFile); err != nil {
				return fmt.Errorf("failed to write memory profile: %w", err)
			}
			color.New(color.FgGreen).Fprintf(c.App.ErrWriter, "Memory profile written to %s.mem.pprof\n", pprofPrefix)
			return nil
		},
		Action: runAnalyzeCmd,
		Commands: []*cli.Command{
			analyzeCmd(),
			initCmd(),
			watchCmd(),
			cacheCmd(),
			mcpCmd(),
		},
	}
}

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			if msg := exitErr.Error(); msg != "" {
				color.New(color.FgYellow).Fprintln(os.Stderr, msg)
			}
			os.Exit(exitErr.ExitCode())
		}
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
