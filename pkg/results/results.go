// Package results provides utilities for storing, loading, filtering, and analyzing experiment reports.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mcpchecker/evalkit/pkg/evaluator"
	"github.com/mcpchecker/evalkit/pkg/gate"
	"github.com/mcpchecker/evalkit/pkg/runner"
	"github.com/mcpchecker/evalkit/pkg/summary"
)

// DefaultMinScore is the score an evaluation needs to count as passed when
// no threshold says otherwise.
const DefaultMinScore = gate.DefaultMinScore

// Config is the effective configuration an experiment ran with. Secrets are
// never recorded.
type Config struct {
	Concurrency int              `json:"concurrency"`
	TimeoutMs   int64            `json:"timeoutMs"`
	Runs        int              `json:"runs"`
	Model       string           `json:"model,omitempty"`
	Evaluators  []evaluator.Spec `json:"evaluators"`
}

// Report is the persisted outcome of one experiment.
type Report struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Timestamp time.Time            `json:"timestamp"`
	Tags      []string             `json:"tags,omitempty"`
	Config    Config               `json:"config"`
	Summary   *summary.Summary     `json:"summary"`
	Items     []*runner.ItemResult `json:"items"`
	CI        *gate.Result         `json:"ci,omitempty"`
}

// Stats holds pass/fail counts derived from a report.
type Stats struct {
	ResultsFile        string  `json:"resultsFile"`
	ItemsTotal         int     `json:"itemsTotal"`
	ItemsPassed        int     `json:"itemsPassed"`
	ItemsErrored       int     `json:"itemsErrored"`
	ItemPassRate       float64 `json:"itemPassRate"`
	EvaluationsTotal   int     `json:"evaluationsTotal"`
	EvaluationsPassed  int     `json:"evaluationsPassed"`
	EvaluationPassRate float64 `json:"evaluationPassRate"`
}

// FileStorage writes each report as an indented JSON file in Dir.
type FileStorage struct {
	Dir string
}

func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{Dir: dir}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PathFor returns the file a report is written to.
func (s *FileStorage) PathFor(r *Report) string {
	name := unsafeFileChars.ReplaceAllString(r.Name, "-")
	if name == "" {
		name = "experiment"
	}

	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}

	return filepath.Join(s.Dir, fmt.Sprintf("evalkit-%s-%s-%s.json", name, r.Timestamp.UTC().Format("20060102T150405"), id))
}

func (s *FileStorage) Save(_ context.Context, r *Report) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if err := os.WriteFile(s.PathFor(r), data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// Load reads a JSON report file.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}

	report := &Report{}
	if err := json.Unmarshal(data, report); err != nil {
		return nil, fmt.Errorf("failed to parse results JSON: %w", err)
	}

	return report, nil
}

// ItemKey identifies an item across reports: its "id" or "name" field when
// present, otherwise its dataset position.
func ItemKey(item *runner.ItemResult) string {
	for _, field := range []string{"id", "name"} {
		if v, ok := item.Input[field]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return fmt.Sprintf("#%d", item.Index)
}

// FilterItems returns the items whose key or input contains filter,
// case-insensitively.
func FilterItems(items []*runner.ItemResult, filter string) []*runner.ItemResult {
	if filter == "" {
		return items
	}

	filter = strings.ToLower(filter)
	filtered := make([]*runner.ItemResult, 0, len(items))
	for _, item := range items {
		if strings.Contains(strings.ToLower(ItemKey(item)), filter) {
			filtered = append(filtered, item)
			continue
		}

		input, err := json.Marshal(item.Input)
		if err == nil && strings.Contains(strings.ToLower(string(input)), filter) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// ItemPassed reports whether item ran without error and every evaluation
// scored at least minScore.
func ItemPassed(item *runner.ItemResult, minScore float64) bool {
	if item.Error != "" {
		return false
	}
	for _, res := range item.Evaluations {
		if res == nil || res.Score < minScore {
			return false
		}
	}
	return true
}

// PassedEvaluations returns how many of item's evaluations scored at least minScore.
func PassedEvaluations(item *runner.ItemResult, minScore float64) int {
	passed := 0
	for _, res := range item.Evaluations {
		if res != nil && res.Score >= minScore {
			passed++
		}
	}
	return passed
}

// CalculateStats computes pass/fail statistics from a report.
func CalculateStats(resultsFile string, report *Report, minScore float64) Stats {
	stats := Stats{
		ResultsFile: resultsFile,
		ItemsTotal:  len(report.Items),
	}

	for _, item := range report.Items {
		if item.Error != "" {
			stats.ItemsErrored++
		}
		if ItemPassed(item, minScore) {
			stats.ItemsPassed++
		}

		stats.EvaluationsTotal += len(item.Evaluations)
		stats.EvaluationsPassed += PassedEvaluations(item, minScore)
	}

	if stats.ItemsTotal > 0 {
		stats.ItemPassRate = float64(stats.ItemsPassed) / float64(stats.ItemsTotal)
	}
	if stats.EvaluationsTotal > 0 {
		stats.EvaluationPassRate = float64(stats.EvaluationsPassed) / float64(stats.EvaluationsTotal)
	}

	return stats
}

// FailureReason returns the item error, or a description of the first
// evaluator (by name) that scored below minScore.
func FailureReason(item *runner.ItemResult, minScore float64) string {
	if item.Error != "" {
		return item.Error
	}

	for _, name := range EvaluatorNames(item) {
		res := item.Evaluations[name]
		if res != nil && res.Score < minScore {
			if res.Reason != "" {
				return fmt.Sprintf("%s scored %.2f: %s", name, res.Score, res.Reason)
			}
			return fmt.Sprintf("%s scored %.2f", name, res.Score)
		}
	}
	return ""
}

// CollectFailedEvaluations returns a formatted line per evaluation below minScore.
func CollectFailedEvaluations(item *runner.ItemResult, minScore float64) []string {
	var failures []string
	for _, name := range EvaluatorNames(item) {
		res := item.Evaluations[name]
		if res == nil || res.Score >= minScore {
			continue
		}
		failures = append(failures, strings.TrimSpace(fmt.Sprintf("%s: %.2f %s", name, res.Score, res.Reason)))
	}
	return failures
}

// EvaluatorNames returns the names of item's evaluations, sorted.
func EvaluatorNames(item *runner.ItemResult) []string {
	names := make([]string, 0, len(item.Evaluations))
	for name := range item.Evaluations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
