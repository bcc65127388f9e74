package analysis

import (
	"github.com/defectwise/defectwise/pkg/types/common"
)

// Event names as they appear on the message bus.
const (
	EventAnalysisCompleted = "analysis.completed"
	EventAnalysisFailed    = "analysis.failed"
)

// AnalysisCompletedEvent is raised when an analysis stores its result.
type AnalysisCompletedEvent struct {
	common.BaseEvent
	Filename     string         `json:"filename"`
	ContentHash  string         `json:"content_hash"`
	TotalDefects int            `json:"total_defects"`
	Summary      map[string]int `json:"summary,omitempty"`
}

// NewAnalysisCompletedEvent builds the completion event from the aggregate.
func NewAnalysisCompletedEvent(a *Analysis) *AnalysisCompletedEvent {
	evt := &AnalysisCompletedEvent{
		BaseEvent:   common.NewBaseEvent(string(a.ID)),
		Filename:    a.Filename,
		ContentHash: a.ContentHash,
	}
	if a.Result != nil {
		evt.TotalDefects = a.Result.TotalDefects
		evt.Summary = a.Result.Summary
	}
	return evt
}

// Name identifies the event on the bus.
func (e *AnalysisCompletedEvent) Name() string { return EventAnalysisCompleted }

// AnalysisFailedEvent is raised when an analysis cannot produce a result.
type AnalysisFailedEvent struct {
	common.BaseEvent
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// NewAnalysisFailedEvent builds the failure event from the aggregate.
func NewAnalysisFailedEvent(a *Analysis) *AnalysisFailedEvent {
	return &AnalysisFailedEvent{
		BaseEvent: common.NewBaseEvent(string(a.ID)),
		Filename:  a.Filename,
		Reason:    a.FailureReason,
	}
}

// Name identifies the event on the bus.
func (e *AnalysisFailedEvent) Name() string { return EventAnalysisFailed }
