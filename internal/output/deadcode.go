package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/neural-garage/tools/pkg/analyzer/deadcode"
)

// DeadCodeOptions controls which parts of an analysis are reported.
type DeadCodeOptions struct {
	// MinConfidence hides dead symbols below this confidence.
	MinConfidence float64
	// ShowLive includes live symbols and their justifying paths.
	ShowLive bool
	// Verbose adds justifying paths to the text and markdown tables.
	Verbose bool
}

// DeadCodeReport renders a dead code analysis.
type DeadCodeReport struct {
	analysis *deadcode.Analysis
	opts     DeadCodeOptions
}

// NewDeadCodeReport wraps an analysis for output.
func NewDeadCodeReport(a *deadcode.Analysis, opts DeadCodeOptions) *DeadCodeReport {
	return &DeadCodeReport{analysis: a, opts: opts}
}

// DeadCodeData is the structured form of a report.
type DeadCodeData struct {
	RunID            string                `json:"run_id" toon:"run_id"`
	Project          string                `json:"project,omitempty" toon:"project,omitempty"`
	GeneratedAt      time.Time             `json:"generated_at" toon:"generated_at"`
	Dead             []deadcode.Record     `json:"dead" toon:"dead"`
	LiveViaAmbiguous []deadcode.Record     `json:"live_via_ambiguous" toon:"live_via_ambiguous"`
	Live             []deadcode.Record     `json:"live,omitempty" toon:"live,omitempty"`
	DeadCycles       [][]string            `json:"dead_cycles,omitempty" toon:"dead_cycles,omitempty"`
	Diagnostics      []deadcode.Diagnostic `json:"diagnostics" toon:"diagnostics"`
	Summary          deadcode.Summary      `json:"summary" toon:"summary"`
}

// Data returns the records selected by the options. Record order is the
// analysis order.
func (r *DeadCodeReport) Data() DeadCodeData {
	a := r.analysis
	data := DeadCodeData{
		RunID:            a.RunID,
		Project:          a.Project,
		GeneratedAt:      a.GeneratedAt,
		Dead:             []deadcode.Record{},
		LiveViaAmbiguous: []deadcode.Record{},
		DeadCycles:       a.Cycles,
		Diagnostics:      a.Diagnostics,
		Summary:          a.Summary,
	}
	if data.Diagnostics == nil {
		data.Diagnostics = []deadcode.Diagnostic{}
	}
	for _, rec := range a.Records {
		switch rec.Status {
		case deadcode.StatusDead:
			if rec.Confidence >= r.opts.MinConfidence {
				data.Dead = append(data.Dead, rec)
			}
		case deadcode.StatusLiveViaAmbiguous:
			data.LiveViaAmbiguous = append(data.LiveViaAmbiguous, rec)
		case deadcode.StatusLive:
			if r.opts.ShowLive {
				data.Live = append(data.Live, rec)
			}
		}
	}
	return data
}

// RenderData implements Renderable.
func (r *DeadCodeReport) RenderData() any {
	return r.Data()
}

// RenderText implements Renderable.
func (r *DeadCodeReport) RenderText(w io.Writer, colored bool) error {
	return r.report(colored, true).RenderText(w, colored)
}

// RenderMarkdown implements Renderable.
func (r *DeadCodeReport) RenderMarkdown(w io.Writer) error {
	return r.report(false, false).RenderMarkdown(w)
}

func (r *DeadCodeReport) report(colored, text bool) *Report {
	data := r.Data()
	paint := func(level, s string) string {
		if colored {
			return levelColor(level, s)
		}
		return s
	}
	code := func(s string) string {
		if text {
			return s
		}
		return "`" + s + "`"
	}

	rep := &Report{Title: "Dead Code Analysis"}

	if len(data.Dead) == 0 {
		rep.Sections = append(rep.Sections, &Section{Title: "Dead Symbols", Content: "No dead code found."})
	} else {
		headers := []string{"Confidence", "Level", "Kind", "Symbol", "Location"}
		rows := make([][]string, 0, len(data.Dead))
		for _, rec := range data.Dead {
			level := string(rec.ConfidenceLevel)
			rows = append(rows, []string{
				fmt.Sprintf("%.2f", rec.Confidence),
				paint(level, level),
				string(rec.Kind),
				code(rec.Symbol),
				rec.Location.String(),
			})
		}
		footer := []string{"", "", "", fmt.Sprintf("%d dead", len(data.Dead)), ""}
		rep.Sections = append(rep.Sections, NewTable("Dead Symbols", headers, rows, footer, nil))
	}

	if len(data.LiveViaAmbiguous) > 0 {
		headers := []string{"Symbol", "Location", "Reached Via"}
		rows := make([][]string, 0, len(data.LiveViaAmbiguous))
		for _, rec := range data.LiveViaAmbiguous {
			rows = append(rows, []string{code(rec.Symbol), rec.Location.String(), pathString(rec.Path)})
		}
		rep.Sections = append(rep.Sections, NewTable("Live Only Through Ambiguous References", headers, rows, nil, nil))
	}

	if len(data.Live) > 0 {
		headers := []string{"Symbol", "Location", "Root"}
		if r.opts.Verbose {
			headers = append(headers, "Path")
		}
		rows := make([][]string, 0, len(data.Live))
		for _, rec := range data.Live {
			root := string(rec.RootReason)
			if root == "" {
				root = "-"
			}
			row := []string{paint("live", code(rec.Symbol)), rec.Location.String(), root}
			if r.opts.Verbose {
				row = append(row, pathString(rec.Path))
			}
			rows = append(rows, row)
		}
		rep.Sections = append(rep.Sections, NewTable("Live Symbols", headers, rows, nil, nil))
	}

	if len(data.DeadCycles) > 0 {
		lines := make([]string, 0, len(data.DeadCycles))
		for _, c := range data.DeadCycles {
			if len(c) == 1 {
				lines = append(lines, "- "+code(c[0])+" (self-recursive)")
				continue
			}
			members := make([]string, len(c))
			for i, m := range c {
				members[i] = code(m)
			}
			lines = append(lines, "- "+strings.Join(members, ", "))
		}
		rep.Sections = append(rep.Sections, &Section{Title: "Dead Cycles", Content: strings.Join(lines, "\n")})
	}

	if len(data.Diagnostics) > 0 {
		lines := make([]string, 0, len(data.Diagnostics))
		for _, d := range data.Diagnostics {
			lines = append(lines, "- "+paint(string(d.Severity), string(d.Severity))+" "+d.String())
		}
		rep.Sections = append(rep.Sections, &Section{Title: "Diagnostics", Content: strings.Join(lines, "\n")})
	}

	rep.Sections = append(rep.Sections, &Section{Title: "Summary", Content: summaryText(data.Summary, r.analysis.Duration, colored)})
	return rep
}

func pathString(path []string) string {
	if len(path) == 0 {
		return "-"
	}
	return strings.Join(path, " -> ")
}

func summaryText(s deadcode.Summary, d time.Duration, colored bool) string {
	dead := fmt.Sprintf("%d", s.Dead)
	if colored && s.Dead > 0 {
		dead = color.RedString(dead)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Files:       %d analyzed", s.TotalFilesAnalyzed)
	if s.CachedFiles > 0 {
		fmt.Fprintf(&b, ", %d from cache", s.CachedFiles)
	}
	if s.FailedFiles > 0 {
		fmt.Fprintf(&b, ", %d failed", s.FailedFiles)
	}
	fmt.Fprintf(&b, "\nSymbols:     %d (%d roots)\n", s.TotalSymbols, s.TotalRoots)
	fmt.Fprintf(&b, "Live:        %d (+%d through ambiguous references)\n", s.Live, s.LiveViaAmbiguous)
	fmt.Fprintf(&b, "Dead:        %s (%.1f%%)\n", dead, s.DeadCodePercentage)
	fmt.Fprintf(&b, "References:  %d (%d ambiguous, %d unresolved, %d external)",
		s.TotalReferences, s.AmbiguousReferences, s.UnresolvedReferences, s.ExternalReferences)
	if d > 0 {
		fmt.Fprintf(&b, "\nDuration:    %s", d.Round(time.Millisecond))
	}
	return b.String()
}
