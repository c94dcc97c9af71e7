package report

import (
	"encoding/json"
	"io"
)

// JSONWriter outputs the summary as JSON for scripts and for the deck
// builder that consumes harvests downstream.
//
// The document is the Summary itself: run metadata, per-strategy counts,
// one entry per stored file in harvest order, and the files an earlier run
// already stored. Field names are snake_case and stable across releases.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	// When false, output is one compact line.
	indent bool
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint enables two-space indented output.
// Use it when the report is meant to be read by a person.
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write implements Writer. It returns the number of bytes written,
// including the trailing newline.
func (w *JSONWriter) Write(s *Summary) (int, error) {
	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(s, "", "  ")
	} else {
		data, err = json.Marshal(s)
	}
	if err != nil {
		return 0, err
	}

	// Trailing newline for terminal output.
	data = append(data, '\n')
	return w.output.Write(data)
}
