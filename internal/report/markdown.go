package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs the summary as Markdown, grouping assets by their
// attribution URL so the result can be pasted into a credits page.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write implements Writer.
func (w *MarkdownWriter) Write(s *Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, s)
	w.writeStrategies(md, s)
	w.writeSources(md, s)
	w.writeSeen(md, s)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainText("*Report generated by [webimg](https://github.com/nao1215/webimg)*")

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s *Summary) {
	md.H1("Image Harvest")
	md.PlainText("")

	rows := [][]string{}
	for _, seed := range s.Seeds {
		rows = append(rows, []string{"Seed", code(seed)})
	}
	if s.RunID != "" {
		rows = append(rows, []string{"Run ID", code(s.RunID)})
	}
	rows = append(rows,
		[]string{"Output", code(s.OutputDir)},
		[]string{"Started", s.StartedAt.Format("2006-01-02 15:04:05 MST")},
		[]string{"Duration", s.Duration().Round(time.Millisecond).String()},
		[]string{"Pages", fmt.Sprintf("%d visited, %d failed", s.PagesVisited, s.PagesFailed)},
		[]string{"Images", strconv.Itoa(len(s.Assets))},
	)
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	if s.Truncated {
		md.Warningf("The harvest was stopped early. Results are partial.")
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeStrategies(md *markdown.Markdown, s *Summary) {
	if len(s.Assets) == 0 {
		md.Note("No images were stored.")
		md.PlainText("")
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Acquisition strategy"),
		piechart.WithShowData(true),
	)
	for _, st := range strategies {
		if n := s.ByStrategy[st]; n > 0 {
			chart.LabelAndIntValue(string(st), uint64(n))
		}
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeSources(md *markdown.Markdown, s *Summary) {
	groups := s.Groups()
	if len(groups) == 0 {
		return
	}

	md.H2("Sources")
	md.PlainText("")
	for _, g := range groups {
		md.PlainText("### " + g.URL)
		md.PlainText("")
		items := make([]string, 0, len(g.Filenames))
		for _, name := range g.Filenames {
			items = append(items, code(name))
		}
		md.BulletList(items...)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeSeen(md *markdown.Markdown, s *Summary) {
	if len(s.Seen) == 0 {
		return
	}

	md.H2("Already Harvested")
	md.PlainText("")
	rows := make([][]string, 0, len(s.Seen))
	for _, seen := range s.Seen {
		rows = append(rows, []string{seen.Filename, seen.PreviousFilename, code(shortID(seen.PreviousRunID))})
	}
	md.Table(markdown.TableSet{
		Header: []string{"File", "Earlier file", "Run"},
		Rows:   rows,
	})
	md.PlainText("")
}

// code formats s as inline code.
func code(s string) string {
	return "`" + s + "`"
}
