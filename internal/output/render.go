package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// Table is a titled grid. Structured output uses Data when set, otherwise
// one map per row keyed by header.
type Table struct {
	Title   string     `json:"-"`
	Headers []string   `json:"-"`
	Rows    [][]string `json:"-"`
	Footer  []string   `json:"-"`
	Data    any        `json:"data,omitempty"`
}

// NewTable creates a table.
func NewTable(title string, headers []string, rows [][]string, footer []string, data any) *Table {
	return &Table{Title: title, Headers: headers, Rows: rows, Footer: footer, Data: data}
}

func (t *Table) RenderData() any {
	if t.Data != nil {
		return t.Data
	}
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		m := make(map[string]string, len(t.Headers))
		for j := 0; j < len(t.Headers) && j < len(row); j++ {
			m[t.Headers[j]] = row[j]
		}
		out = append(out, m)
	}
	return out
}

func (t *Table) RenderText(w io.Writer, colored bool) error {
	if t.Title != "" {
		heading(w, t.Title, '=', colored)
		fmt.Fprintln(w)
	}

	table := newTextTable(w)
	table.Header(t.Headers)
	for _, row := range t.Rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	if len(t.Footer) > 0 {
		cells := make([]any, 0, len(t.Footer))
		for _, c := range t.Footer {
			cells = append(cells, c)
		}
		table.Footer(cells...)
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

// newTextTable returns a borderless, left-aligned table with upper-cased
// headers.
func newTextTable(w io.Writer) *tablewriter.Table {
	left := tw.CellAlignment{Global: tw.AlignLeft}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment:  left,
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
			},
			Row:    tw.CellConfig{Alignment: left},
			Footer: tw.CellConfig{Alignment: left},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.Border{Left: tw.Off, Right: tw.Off, Top: tw.Off, Bottom: tw.Off},
			Settings: tw.Settings{
				Separators: tw.Separators{BetweenColumns: tw.Off},
			},
		}),
	)
}

func (t *Table) RenderMarkdown(w io.Writer) error {
	var b strings.Builder
	if t.Title != "" {
		fmt.Fprintf(&b, "## %s\n\n", t.Title)
	}
	writeMarkdownRow(&b, t.Headers)
	sep := make([]string, len(t.Headers))
	for i := range sep {
		sep[i] = "---"
	}
	b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
	for _, row := range t.Rows {
		writeMarkdownRow(&b, row)
	}
	if len(t.Footer) > 0 {
		writeMarkdownRow(&b, t.Footer)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func writeMarkdownRow(b *strings.Builder, cells []string) {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = strings.ReplaceAll(c, "|", `\|`)
	}
	b.WriteString("| " + strings.Join(escaped, " | ") + " |\n")
}

// Section is a titled block of text with nested subsections.
type Section struct {
	Title    string    `json:"title,omitempty"`
	Content  string    `json:"content,omitempty"`
	Sections []Section `json:"sections,omitempty"`
	Data     any       `json:"data,omitempty"`
}

func (s *Section) RenderData() any {
	if s.Data != nil {
		return s.Data
	}
	return s
}

func (s *Section) RenderText(w io.Writer, colored bool) error {
	s.writeText(w, colored, 0)
	return nil
}

func (s *Section) writeText(w io.Writer, colored bool, depth int) {
	if s.Title != "" {
		underline := '='
		if depth > 0 {
			underline = '-'
		}
		heading(w, s.Title, underline, colored)
	}
	if s.Content != "" {
		fmt.Fprintln(w, s.Content)
	}
	for i := range s.Sections {
		fmt.Fprintln(w)
		s.Sections[i].writeText(w, colored, depth+1)
	}
}

func (s *Section) RenderMarkdown(w io.Writer) error {
	s.writeMarkdown(w, 2)
	return nil
}

func (s *Section) writeMarkdown(w io.Writer, level int) {
	if s.Title != "" {
		fmt.Fprintf(w, "%s %s\n\n", strings.Repeat("#", level), s.Title)
	}
	if s.Content != "" {
		fmt.Fprintf(w, "%s\n\n", s.Content)
	}
	for i := range s.Sections {
		s.Sections[i].writeMarkdown(w, level+1)
	}
}

// Report is a titled sequence of renderables.
type Report struct {
	Title    string       `json:"title,omitempty"`
	Sections []Renderable `json:"-"`
	Data     any          `json:"data,omitempty"`
}

func (r *Report) RenderData() any {
	if r.Data != nil {
		return r.Data
	}
	parts := make([]any, 0, len(r.Sections))
	for _, s := range r.Sections {
		parts = append(parts, s.RenderData())
	}
	return map[string]any{"title": r.Title, "sections": parts}
}

func (r *Report) RenderText(w io.Writer, colored bool) error {
	if r.Title != "" {
		title := r.Title
		if colored {
			title = color.New(color.Bold, color.FgCyan).Sprint(title)
		}
		fmt.Fprintf(w, "%s\n%s\n\n", title, strings.Repeat("=", len(r.Title)))
	}
	for i, s := range r.Sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := s.RenderText(w, colored); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) RenderMarkdown(w io.Writer) error {
	if r.Title != "" {
		fmt.Fprintf(w, "# %s\n\n", r.Title)
	}
	for _, s := range r.Sections {
		if err := s.RenderMarkdown(w); err != nil {
			return err
		}
	}
	return nil
}

func heading(w io.Writer, title string, underline rune, colored bool) {
	text := title
	if colored {
		text = color.New(color.Bold).Sprint(title)
	}
	fmt.Fprintf(w, "%s\n%s\n", text, strings.Repeat(string(underline), len(title)))
}

// levelColor colors text by confidence level or diagnostic severity.
func levelColor(level, text string) string {
	switch strings.ToLower(level) {
	case "high", "error":
		return color.RedString(text)
	case "medium", "warning":
		return color.YellowString(text)
	case "low", "info":
		return color.CyanString(text)
	case "live":
		return color.GreenString(text)
	}
	return text
}
