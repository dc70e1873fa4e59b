// Package output renders analysis results as text tables, markdown or one of
// the structured encodings.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	toon "github.com/toon-format/toon-go"
	"gopkg.in/yaml.v3"
)

// Format is an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatTOON     Format = "toon"
	FormatYAML     Format = "yaml"
)

// ParseFormat converts a string to Format, defaulting to text.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "markdown", "md":
		return FormatMarkdown
	case "toon":
		return FormatTOON
	case "yaml", "yml":
		return FormatYAML
	default:
		return FormatText
	}
}

// Renderable is output that knows its human-readable forms. Structured
// formats encode RenderData.
type Renderable interface {
	RenderText(w io.Writer, colored bool) error
	RenderMarkdown(w io.Writer) error
	RenderData() any
}

// Formatter writes results in one format to a writer or file.
type Formatter struct {
	format  Format
	w       io.Writer
	closer  io.Closer
	colored bool
}

// NewFormatter creates a formatter writing to the file at path, or to stdout
// when path is empty. Files are never colored.
func NewFormatter(format Format, path string, colored bool) (*Formatter, error) {
	if path == "" {
		return NewWriterFormatter(format, os.Stdout, colored), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Formatter{format: format, w: f, closer: f}, nil
}

// NewWriterFormatter creates a formatter writing to w.
func NewWriterFormatter(format Format, w io.Writer, colored bool) *Formatter {
	return &Formatter{format: format, w: w, colored: colored}
}

// Close closes the output file, if any.
func (f *Formatter) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Colored reports whether text output is colored.
func (f *Formatter) Colored() bool {
	return f.colored
}

// Output writes data. Renderables pick their own text and markdown forms;
// anything else is encoded.
func (f *Formatter) Output(data any) error {
	r, ok := data.(Renderable)
	if !ok {
		return Encode(f.w, f.format, data)
	}
	switch f.format {
	case FormatText:
		return r.RenderText(f.w, f.colored)
	case FormatMarkdown:
		return r.RenderMarkdown(f.w)
	}
	return Encode(f.w, f.format, r.RenderData())
}

// Encode writes data as JSON, YAML or TOON. Markdown wraps the JSON in a
// fenced block; text falls back to JSON.
func Encode(w io.Writer, format Format, data any) error {
	switch format {
	case FormatTOON:
		out, err := toon.Marshal(data, toon.WithIndent(2))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case FormatYAML:
		return encodeYAML(w, data)
	case FormatMarkdown:
		if _, err := io.WriteString(w, "```json\n"); err != nil {
			return err
		}
		if err := encodeJSON(w, data); err != nil {
			return err
		}
		_, err := io.WriteString(w, "```\n")
		return err
	}
	return encodeJSON(w, data)
}

func encodeJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// encodeYAML goes through JSON so the json tags decide field names and
// order. The node styles JSON leaves behind are cleared to get block style.
func encodeYAML(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	clearStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// clearStyle resets flow and quoting styles. The encoder still quotes
// strings that would otherwise read as another type.
func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}
