package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects how response bodies are printed.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --format value. Empty selects JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	}
	return "", ErrUsageHint(fmt.Sprintf("unknown format %q", s), "Use json or yaml")
}

// Options controls a Writer.
type Options struct {
	Format  Format
	Out     io.Writer // response bodies; default os.Stdout
	Err     io.Writer // status and error lines; default os.Stderr
	Filters []Filter  // applied in order before printing
}

// Writer prints response bodies to Out and status lines to Err.
type Writer struct {
	opts Options
}

// New creates a Writer.
func New(opts Options) *Writer {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	return &Writer{opts: opts}
}

// Out returns the body writer.
func (w *Writer) Out() io.Writer { return w.opts.Out }

// Err returns the status writer.
func (w *Writer) Err() io.Writer { return w.opts.Err }

// Print filters v and writes it in the configured format.
func (w *Writer) Print(v any) error {
	if len(w.opts.Filters) > 0 {
		var err error
		if v, err = generic(v); err != nil {
			return err
		}
	}
	for _, f := range w.opts.Filters {
		var err error
		if v, err = f.Apply(v); err != nil {
			return err
		}
	}
	switch w.opts.Format {
	case FormatYAML:
		return w.writeYAML(v)
	default:
		return w.writeJSON(v)
	}
}

// generic converts v to the maps, slices and float64s JSON decodes to,
// the only shapes the filters query.
func generic(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding output: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encoding output: %w", err)
	}
	return out, nil
}

// writeJSON prints sorted keys with a two space indent.
func (w *Writer) writeJSON(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err := w.opts.Out.Write(buf.Bytes())
	return err
}

func (w *Writer) writeYAML(v any) error {
	enc := yaml.NewEncoder(w.opts.Out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return enc.Close()
}

// Exception writes `<op>: <Kind>: "<message>"` to Err. Reported errors
// are skipped.
func (w *Writer) Exception(op string, err error) {
	e := AsError(err)
	if e.Reported {
		return
	}
	fmt.Fprintf(w.opts.Err, "%s: %s: \"%s\"\n", op, e.Kind, e.Message)
	if e.Hint != "" {
		fmt.Fprintf(w.opts.Err, "hint: %s\n", e.Hint)
	}
}

// Text writes a non-JSON body as-is.
func (w *Writer) Text(s string) {
	fmt.Fprintln(w.opts.Out, strings.TrimRight(s, "\n"))
}

// Warn writes a warning line to Err.
func (w *Writer) Warn(format string, args ...any) {
	fmt.Fprintf(w.opts.Err, "Warning: "+format+"\n", args...)
}
