// Package analysis implements the Analysis bounded context: the aggregate
// root tracking one survey document from submission through detection to a
// stored result, its status lifecycle, and the domain events other parts of
// the platform react to. Business rules about analysis state live here;
// persistence and messaging are handled by the infrastructure layer.
package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/defectwise/defectwise/internal/intelligence/detector"
	"github.com/defectwise/defectwise/internal/intelligence/textnorm"
	"github.com/defectwise/defectwise/pkg/errors"
	"github.com/defectwise/defectwise/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Status lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// Status is the processing state of an Analysis.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the defined states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s allows no further automatic processing. Both
// terminal states can still be re-entered through reanalysis.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// allowedTransitions defines the valid next states reachable from each
// status. Completed and failed analyses may return to running so that a
// taxonomy upgrade or a retry can reprocess the stored document.
//
//	pending ──► running ──► completed
//	   │           │            │
//	   └──► failed ◄┘           │
//	          └──────► running ◄┘
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusRunning},
	StatusFailed:    {StatusRunning},
}

// ─────────────────────────────────────────────────────────────────────────────
// Content hashing
// ─────────────────────────────────────────────────────────────────────────────

// HashText returns the duplicate-detection hash of a document: the sha256
// of its normalized sentence stream. Whitespace, boilerplate and line-break
// differences between two uploads of the same report therefore produce the
// same hash.
func HashText(text string) string {
	h := sha256.New()
	for _, s := range textnorm.Normalize(text) {
		h.Write([]byte(s.Text))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ─────────────────────────────────────────────────────────────────────────────
// Analysis aggregate root
// ─────────────────────────────────────────────────────────────────────────────

// Analysis is the aggregate root of the analysis bounded context. Mutations
// go through the exported methods so the status machine and domain events
// stay consistent; callers must not set fields directly.
type Analysis struct {
	ID          common.ID `json:"id"`
	Filename    string    `json:"filename"`
	ContentHash string    `json:"content_hash"`
	Status      Status    `json:"status"`

	// Result is the engine output, present once Status is completed.
	Result *detector.AnalysisResult `json:"result,omitempty"`

	// SourceKey is the object-storage key of the raw document when the
	// analysis came in through an upload. Empty for plain-text requests.
	SourceKey string `json:"source_key,omitempty"`

	// FailureReason is set when Status is failed.
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	events []common.DomainEvent
}

// New creates a pending Analysis for a named document and its content hash.
func New(filename, contentHash string) (*Analysis, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, errors.New(errors.CodeInvalidParam, "analysis: filename must not be empty")
	}
	if contentHash == "" {
		return nil, errors.New(errors.CodeInvalidParam, "analysis: content hash must not be empty")
	}
	now := time.Now().UTC()
	return &Analysis{
		ID:          common.NewID(),
		Filename:    filename,
		ContentHash: contentHash,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// HashBytes returns the duplicate-detection hash of a raw uploaded file.
// Binary formats cannot be sentence-normalized before extraction, so upload
// identity is the sha256 of the bytes as received.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewFromText creates a pending Analysis, hashing the document content.
func NewFromText(filename, text string) (*Analysis, error) {
	return New(filename, HashText(text))
}

// ─────────────────────────────────────────────────────────────────────────────
// State transitions
// ─────────────────────────────────────────────────────────────────────────────

// Start moves the analysis into the running state.
func (a *Analysis) Start() error {
	return a.transition(StatusRunning)
}

// Complete stores the engine result and moves the analysis into the
// completed state, recording an AnalysisCompletedEvent. A reanalysis
// overwrites any earlier result and failure reason.
func (a *Analysis) Complete(result *detector.AnalysisResult) error {
	if result == nil {
		return errors.New(errors.CodeInvalidParam, "analysis: completed result must not be nil")
	}
	if err := a.transition(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.Result = result
	a.FailureReason = ""
	a.CompletedAt = &now
	a.record(NewAnalysisCompletedEvent(a))
	return nil
}

// Fail moves the analysis into the failed state with a reason, recording an
// AnalysisFailedEvent.
func (a *Analysis) Fail(reason string) error {
	if err := a.transition(StatusFailed); err != nil {
		return err
	}
	a.FailureReason = reason
	a.record(NewAnalysisFailedEvent(a))
	return nil
}

// MarkSource records the object-storage key holding the raw document.
func (a *Analysis) MarkSource(key string) {
	a.SourceKey = key
	a.touch()
}

// transition enforces the status machine.
func (a *Analysis) transition(next Status) error {
	for _, allowed := range allowedTransitions[a.Status] {
		if allowed == next {
			a.Status = next
			a.touch()
			return nil
		}
	}
	return errors.Newf(errors.ErrCodeAnalysisInvalidState,
		"analysis %s: illegal status transition %s -> %s", a.ID, a.Status, next)
}

// touch refreshes the modification timestamp.
func (a *Analysis) touch() {
	a.UpdatedAt = time.Now().UTC()
}

// DefectCount returns the number of stored defects, zero while no result
// is present.
func (a *Analysis) DefectCount() int {
	if a.Result == nil {
		return 0
	}
	return a.Result.TotalDefects
}

// ─────────────────────────────────────────────────────────────────────────────
// Domain event collection
// ─────────────────────────────────────────────────────────────────────────────

// Events drains the events accumulated since the last call. Application
// services publish them after the unit of work commits.
func (a *Analysis) Events() []common.DomainEvent {
	evts := a.events
	a.events = nil
	return evts
}

func (a *Analysis) record(evt common.DomainEvent) {
	a.events = append(a.events, evt)
}
