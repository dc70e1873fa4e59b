package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/neural-garage/tools/internal/output"
	"github.com/neural-garage/tools/internal/service/analysis"
)

func cacheCmd() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clear the incremental fact cache",
		Subcommands: []*cli.Command{
			{
				Name:      "stats",
				Usage:     "Show fact cache statistics",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Value:   "text",
						Usage:   "Output format: text, json, markdown, toon, yaml",
					},
				},
				Action: runCacheStatsCmd,
			},
			{
				Name:      "clear",
				Usage:     "Remove every cached fact set",
				ArgsUsage: "[path]",
				Action:    runCacheClearCmd,
			},
		},
	}
}

func cacheService(c *cli.Context) (*analysis.Service, error) {
	root := getPath(c)
	cfg, _, err := loadProjectConfig(c, root)
	if err != nil {
		return nil, err
	}
	return analysis.New(root, analysis.WithConfig(cfg), analysis.WithLogger(loggerFrom(c)))
}

func runCacheStatsCmd(c *cli.Context) error {
	svc, err := cacheService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	stats, err := svc.CacheStats(c.Context)
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}

	table := output.NewTable(
		"Fact Cache",
		[]string{"Setting", "Value"},
		[][]string{
			{"Path", stats.Path},
			{"Format version", strconv.Itoa(stats.FormatVersion)},
			{"Entries", strconv.Itoa(stats.Entries)},
			{"Projects", strconv.Itoa(stats.Projects)},
			{"Size", formatBytes(stats.Bytes)},
			{"Max entries", strconv.Itoa(stats.MaxEntries)},
		},
		nil,
		stats,
	)
	f := output.NewWriterFormatter(output.ParseFormat(c.String("format")), c.App.Writer, !color.NoColor)
	return f.Output(table)
}

func runCacheClearCmd(c *cli.Context) error {
	svc, err := cacheService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.ClearCache(c.Context); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	color.New(color.FgGreen).Fprintln(c.App.Writer, "Cache cleared.")
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
