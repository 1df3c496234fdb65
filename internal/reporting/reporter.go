package reporting

import (
	"errors"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

// Supported output formats.
const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter defines the interface for writing scan results to an output.
type Reporter interface {
	// Write processes the report of one run.
	Write(report *schemas.Report) error
	// Close finalizes the output and closes any underlying resources (e.g., file handles).
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
// An empty path or "stdout" writes to standard output. catalog may be nil;
// it only supplies rule titles for SARIF.
func New(format, outputPath, toolVersion string, catalog *rules.Catalog, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if format != FormatJSON && format != FormatSARIF {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == FormatSARIF {
		return NewSARIFReporter(writer, toolVersion, catalog, logger), nil
	}
	return NewJSONReporter(writer, logger), nil
}

// JSONReporter writes each report as an indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser, logger *zap.Logger) *JSONReporter {
	return &JSONReporter{writer: writer, logger: logger.Named("json_reporter")}
}

// Write encodes report to the output.
func (r *JSONReporter) Write(report *schemas.Report) error {
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode JSON report: %w", err)
	}
	r.logger.Debug("Wrote JSON report",
		zap.String("run_id", report.RunID),
		zap.Int("vulnerabilities", len(report.Vulnerabilities)))
	return nil
}

// Close closes the underlying writer.
func (r *JSONReporter) Close() error {
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("failed to close output writer: %w", err)
	}
	return nil
}
