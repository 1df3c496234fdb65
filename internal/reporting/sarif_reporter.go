// File: internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/owenrumney/go-sarif/v2/sarif"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName    = "scalpel-sast"
	ToolInfoURI = "https://github.com/xkilldash9x/scalpel-sast"

	// fingerprintKey names the partial fingerprint of every result.
	fingerprintKey = "scalpelLocation/v1"
)

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// Results of every Write are buffered in a single run and written on Close.
// It is thread safe.
type SARIFReporter struct {
	writer      io.WriteCloser
	logger      *zap.Logger
	toolVersion string
	catalog     *rules.Catalog

	// mu protects everything below.
	mu      sync.Mutex
	results []schemas.Vulnerability
	gaps    []schemas.CoverageGap
	runIDs  []string
}

// NewSARIFReporter creates a new reporter that writes SARIF output. It takes
// ownership of writer.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, catalog *rules.Catalog, logger *zap.Logger) *SARIFReporter {
	return &SARIFReporter{
		writer:      writer,
		logger:      logger.Named("sarif_reporter"),
		toolVersion: toolVersion,
		catalog:     catalog,
	}
}

// Write adds the vulnerabilities and coverage gaps of report to the log.
func (r *SARIFReporter) Write(report *schemas.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append(r.results, report.Vulnerabilities...)
	r.gaps = append(r.gaps, report.Gaps...)
	r.runIDs = append(r.runIDs, report.RunID)
	if len(report.Vulnerabilities) > 0 {
		r.logger.Debug("Wrote vulnerabilities to SARIF buffer", zap.Int("count", len(report.Vulnerabilities)))
	}
	return nil
}

// Close builds the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	log, err := r.build()
	if err != nil {
		_ = r.writer.Close()
		return err
	}

	encodeErr := log.PrettyWrite(r.writer)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Info("Wrote SARIF report",
		zap.Int("total_results", len(r.results)),
		zap.Int("coverage_gaps", len(r.gaps)),
		zap.Duration("duration", time.Since(startTime)))
	return nil
}

func (r *SARIFReporter) build() (*sarif.Report, error) {
	log, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("failed to create SARIF report: %w", err)
	}

	run := sarif.NewRunWithInformationURI(ToolName, ToolInfoURI)
	if r.toolVersion != "" {
		version := r.toolVersion
		run.Tool.Driver.Version = &version
	}

	vulns := append([]schemas.Vulnerability(nil), r.results...)
	sort.SliceStable(vulns, func(i, j int) bool {
		if vulns[i].Path != vulns[j].Path {
			return vulns[i].Path < vulns[j].Path
		}
		if vulns[i].NodeID != vulns[j].NodeID {
			return vulns[i].NodeID < vulns[j].NodeID
		}
		return vulns[i].RuleID < vulns[j].RuleID
	})

	seen := make(map[string]bool)
	for _, v := range vulns {
		if !seen[v.RuleID] {
			seen[v.RuleID] = true
			r.addRule(run, v)
		}
		run.AddResult(newResult(v))
	}

	if len(r.gaps) > 0 || len(r.runIDs) > 0 {
		run.Properties = sarif.Properties{
			"runIds":       r.runIDs,
			"coverageGaps": gapProperties(r.gaps),
		}
	}

	log.AddRun(run)
	return log, nil
}

// addRule registers the rule of v, preferring catalog metadata when present.
func (r *SARIFReporter) addRule(run *sarif.Run, v schemas.Vulnerability) {
	title, description, cwe := v.RuleID, v.Description, v.CWE
	if r.catalog != nil {
		if rule, ok := r.catalog.Rule(v.RuleID); ok {
			title = rule.Title
			if rule.Description != "" {
				description = rule.Description
			}
			cwe = rule.CWE
		}
	}

	tags := []string{"security", "taint"}
	for _, id := range cwe {
		tags = append(tags, "external/cwe/cwe-"+id)
	}
	rule := run.AddRule(v.RuleID).
		WithDescription(title).
		WithProperties(sarif.Properties{
			"tags":      tags,
			"precision": "high",
			"kind":      v.Kind,
		})
	rule.Name = &title
	rule.FullDescription = sarif.NewMultiformatMessageString(description)
	rule.DefaultConfiguration = sarif.NewReportingConfiguration().WithLevel("error")
}

func newResult(v schemas.Vulnerability) *sarif.Result {
	region := sarif.NewRegion().WithStartLine(v.Line).WithStartColumn(v.Column)
	if v.Snippet != "" {
		snippet := v.Snippet
		region.Snippet = &sarif.ArtifactContent{Text: &snippet}
	}
	location := sarif.NewLocation().WithPhysicalLocation(
		sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewArtifactLocation().WithUri(v.Path)).
			WithRegion(region),
	)

	result := sarif.NewRuleResult(v.RuleID).
		WithMessage(sarif.NewTextMessage(v.Description)).
		WithLevel("error").
		WithLocations([]*sarif.Location{location})
	result.PartialFingerprints = map[string]interface{}{fingerprintKey: fingerprint(v)}
	return result
}

// fingerprint identifies a result by rule, file and sink text. It does not
// depend on line numbers.
func fingerprint(v schemas.Vulnerability) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", v.RuleID, v.Path, strings.TrimSpace(v.Snippet))
	return hex.EncodeToString(h.Sum(nil))
}

func gapProperties(gaps []schemas.CoverageGap) []map[string]string {
	out := make([]map[string]string, 0, len(gaps))
	for _, g := range gaps {
		entry := map[string]string{"path": g.Path, "reason": string(g.Reason)}
		if g.RuleID != "" {
			entry["ruleId"] = g.RuleID
		}
		if g.Detail != "" {
			entry["detail"] = g.Detail
		}
		out = append(out, entry)
	}
	return out
}
