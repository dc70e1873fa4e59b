package mcpserver

import (
	"bytes"
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/neural-garage/tools/internal/output"
	"github.com/neural-garage/tools/internal/service/analysis"
	"github.com/neural-garage/tools/pkg/config"
)

// AnalyzeInput is the base input for project tools.
type AnalyzeInput struct {
	Path string `json:"path,omitempty" jsonschema:"Project directory to analyze. Defaults to the current directory."`
}

// DeadCodeInput configures one dead code analysis. Unset fields keep the
// values from the project's bury config file.
type DeadCodeInput struct {
	AnalyzeInput
	Format        string   `json:"format,omitempty" jsonschema:"Output format: toon (default), json, yaml, or markdown."`
	Library       *bool    `json:"library,omitempty" jsonschema:"Treat every public symbol as a root, for packages used by other projects."`
	IncludeTests  *bool    `json:"include_tests,omitempty" jsonschema:"Treat test functions as roots. Default true."`
	Entries       []string `json:"entries,omitempty" jsonschema:"Extra entry point name patterns, for example cli_* or app.handlers.*."`
	Pins          []string `json:"pins,omitempty" jsonschema:"Symbol patterns that are always live, for code called by name or reflection."`
	MinConfidence float64  `json:"min_confidence,omitempty" jsonschema:"Hide dead symbols below this confidence (0.0-1.0)."`
	ShowLive      bool     `json:"show_live,omitempty" jsonschema:"Include live symbols with the path that keeps them alive."`
	Ref           string   `json:"ref,omitempty" jsonschema:"Analyze a git branch, tag or commit instead of the working tree."`
	NoCache       bool     `json:"no_cache,omitempty" jsonschema:"Skip the incremental fact cache."`
}

func getPath(input AnalyzeInput) string {
	if input.Path == "" {
		return "."
	}
	return input.Path
}

func getFormat(format string) output.Format {
	switch format {
	case "json":
		return output.FormatJSON
	case "yaml", "yml":
		return output.FormatYAML
	case "markdown", "md":
		return output.FormatMarkdown
	default:
		return output.FormatTOON
	}
}

// applyInput layers the tool arguments over the project configuration.
func applyInput(cfg *config.Config, input DeadCodeInput) {
	if input.Library != nil {
		cfg.Project.Library = *input.Library
	}
	if input.IncludeTests != nil {
		cfg.Project.IncludeTests = *input.IncludeTests
	}
	if len(input.Entries) > 0 {
		cfg.Project.EntryPoints = append(cfg.RootConfig().EntryPatterns, input.Entries...)
	}
	cfg.Project.Pins = append(cfg.Project.Pins, input.Pins...)
	if input.MinConfidence > 0 {
		cfg.Analysis.MinConfidence = input.MinConfidence
	}
}

func formatOutput(r output.Renderable, format output.Format) (string, error) {
	var buf bytes.Buffer
	if format == output.FormatMarkdown {
		if err := r.RenderMarkdown(&buf); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	if err := output.Encode(&buf, format, r.RenderData()); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func toolResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, nil, nil
}

func toolError(msg string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + msg},
		},
		IsError: true,
	}, nil, nil
}

func (s *Server) handleAnalyzeDeadCode(ctx context.Context, req *mcp.CallToolRequest, input DeadCodeInput) (*mcp.CallToolResult, any, error) {
	path := getPath(input.AnalyzeInput)
	cfg, _, err := config.LoadOrDefault(path)
	if err != nil {
		return toolError(err.Error())
	}
	applyInput(cfg, input)
	if err := cfg.Validate(); err != nil {
		return toolError(err.Error())
	}

	svc, err := analysis.New(path, analysis.WithConfig(cfg), analysis.WithLogger(s.logger))
	if err != nil {
		return toolError(err.Error())
	}
	defer svc.Close()

	result, err := svc.AnalyzeDeadCode(ctx, analysis.DeadCodeOptions{Ref: input.Ref, NoCache: input.NoCache})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		return toolError(err.Error())
	}

	report := output.NewDeadCodeReport(result, output.DeadCodeOptions{
		MinConfidence: cfg.Analysis.MinConfidence,
		ShowLive:      input.ShowLive,
		Verbose:       input.ShowLive,
	})
	text, err := formatOutput(report, getFormat(input.Format))
	if err != nil {
		return nil, nil, err
	}
	return toolResult(text)
}

// CacheStatsInput selects the project whose cache is inspected.
type CacheStatsInput struct {
	AnalyzeInput
	Format string `json:"format,omitempty" jsonschema:"Output format: toon (default), json, or yaml."`
}

func (s *Server) handleCacheStats(ctx context.Context, req *mcp.CallToolRequest, input CacheStatsInput) (*mcp.CallToolResult, any, error) {
	svc, err := analysis.New(getPath(input.AnalyzeInput), analysis.WithLogger(s.logger))
	if err != nil {
		return toolError(err.Error())
	}
	defer svc.Close()

	stats, err := svc.CacheStats(ctx)
	if err != nil {
		return toolError(err.Error())
	}
	format := getFormat(input.Format)
	if format == output.FormatMarkdown {
		format = output.FormatTOON
	}
	var buf bytes.Buffer
	if err := output.Encode(&buf, format, stats); err != nil {
		return nil, nil, err
	}
	return toolResult(buf.String())
}
