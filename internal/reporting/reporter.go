// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
)

// Reporter defines the interface for writing fix runs to an output.
type Reporter interface {
	// Write adds a run to the report.
	Write(report *autofix.FixImplementationReport) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
// An empty path or "stdout" writes to standard output.
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if !supportedFormat(format) {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWriter(format, writer, toolVersion, logger)
}

// NewWriter creates a reporter for format that writes to w and closes it on
// Close. Use NopCloser for writers the caller keeps.
func NewWriter(format string, w io.WriteCloser, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	switch format {
	case "sarif":
		return NewSARIFReporter(w, toolVersion, logger), nil
	case "text":
		return NewTextReporter(w), nil
	case "json":
		return NewJSONReporter(w, logger), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// NopCloser wraps w so that Close does nothing.
func NopCloser(w io.Writer) io.WriteCloser {
	return &nopWriteCloser{w}
}

func supportedFormat(format string) bool {
	switch format {
	case "json", "sarif", "text":
		return true
	}
	return false
}
