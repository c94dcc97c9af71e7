package report

import (
	"io"
)

// Writer renders a Summary to some destination.
type Writer interface {
	// Write outputs the summary and returns the number of bytes written.
	Write(summary *Summary) (int, error)
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
