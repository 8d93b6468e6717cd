package experiment

import (
	"github.com/mcpchecker/evalkit/pkg/gate"
	"github.com/mcpchecker/evalkit/pkg/results"
	"github.com/mcpchecker/evalkit/pkg/runner"
)

// EventType represents the type of progress event
type EventType string

const (
	EventExperimentStart    EventType = "experiment_start"
	EventUnitComplete       EventType = "unit_complete"
	EventGateChecked        EventType = "gate_checked"
	EventExperimentComplete EventType = "experiment_complete"
)

// ProgressEvent is delivered to observers while an experiment runs. Only the
// field matching Type is set.
type ProgressEvent struct {
	Type       EventType
	Experiment string
	Message    string

	// Total is the number of units, set on experiment start
	Total    int
	Progress *runner.Progress
	Gate     *gate.Result
	Report   *results.Report
}

// ProgressCallback observes an experiment. Calls are serialized.
type ProgressCallback func(event ProgressEvent)
