package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/webimg/internal/model"
)

// SimpleWriter outputs a plain text summary for terminal display.
type SimpleWriter struct {
	baseWriter

	// verbose adds the source and page URL of every asset.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write implements Writer.
func (w *SimpleWriter) Write(s *Summary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, s)
	w.writeAssets(&sb, s)
	w.writeSeen(&sb, s)

	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, s *Summary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                          WEBIMG HARVEST\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	for i, seed := range s.Seeds {
		label := "Seeds:"
		if i > 0 {
			label = ""
		}
		fmt.Fprintf(sb, "%-16s%s\n", label, seed)
	}
	fmt.Fprintf(sb, "%-16s%s\n", "Output:", s.OutputDir)
	if s.RunID != "" {
		fmt.Fprintf(sb, "%-16s%s\n", "Run ID:", s.RunID)
	}
	fmt.Fprintf(sb, "%-16s%s\n", "Started:", s.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "%-16s%s\n", "Duration:", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(sb, "%-16s%d visited, %d failed\n", "Pages:", s.PagesVisited, s.PagesFailed)
	if s.Truncated {
		fmt.Fprintf(sb, "%-16s%s\n", "Status:", "STOPPED EARLY (partial results)")
	} else {
		fmt.Fprintf(sb, "%-16s%s\n", "Status:", "Complete")
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeAssets(sb *strings.Builder, s *Summary) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	fmt.Fprintf(sb, "ASSETS (%d)\n", len(s.Assets))
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if len(s.Assets) == 0 {
		sb.WriteString("  No images were stored\n\n")
		return
	}

	counts := make([]string, 0, len(strategies))
	for _, st := range strategies {
		counts = append(counts, fmt.Sprintf("%s: %d", st, s.ByStrategy[st]))
	}
	sb.WriteString("  " + strings.Join(counts, "  ") + "\n\n")

	for _, line := range s.Assets {
		fmt.Fprintf(sb, "  [%c] %s  %dx%d\n", strategyMark(line.Strategy), line.Filename, line.Width, line.Height)
		fmt.Fprintf(sb, "      %s\n", line.AttributionURL)
		if w.verbose {
			if line.SourceURL != line.AttributionURL {
				fmt.Fprintf(sb, "      Source: %s\n", line.SourceURL)
			}
			fmt.Fprintf(sb, "      Page:   %s\n", line.PageURL)
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSeen(sb *strings.Builder, s *Summary) {
	if len(s.Seen) == 0 {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("ALREADY HARVESTED\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	for _, seen := range s.Seen {
		fmt.Fprintf(sb, "  %s = %s (run %s)\n", seen.Filename, seen.PreviousFilename, shortID(seen.PreviousRunID))
	}
	sb.WriteString("\n")
}

// strategyMark is the one-letter tag of a strategy in text output.
func strategyMark(s model.Strategy) byte {
	if s == "" {
		return '?'
	}
	return s[0]
}

// shortID returns the first eight characters of a run ID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
