// Package campaign defines the workflow aggregate driven by the orchestration
// core: one Campaign per running pipeline instance, with an ordered set of
// stage records whose transitions are the only mutation the driver performs.
package campaign

import (
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// StageStatus represents the execution status of a single stage
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// Status is the campaign-level label, derived purely from stage state
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// runningPrefix labels an in-flight campaign with its current capability,
// e.g. "running:draft".
const runningPrefix = "running:"

// RunningStatus builds the in-flight label for the given capability
func RunningStatus(capability string) Status {
	return Status(runningPrefix + capability)
}

// IsTerminal reports whether no further transitions are permitted
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunningCapability extracts the capability from a running label, if any
func (s Status) RunningCapability() (string, bool) {
	if strings.HasPrefix(string(s), runningPrefix) {
		return strings.TrimPrefix(string(s), runningPrefix), true
	}
	return "", false
}

// StageRecord tracks one ordered step of a campaign. Order is 1-based and
// matches the stage registry; only Status, timestamps, Output and
// ErrorMessage mutate after creation.
type StageRecord struct {
	Order        int             `json:"order"`
	Capability   string          `json:"capability"`
	Status       StageStatus     `json:"status"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// DurationMs returns the wall time the stage attempt took, or 0 when the
// stage never ran to a per-stage terminal status.
func (r *StageRecord) DurationMs() int64 {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt).Milliseconds()
}

// Campaign is the aggregate root for one workflow instance
type Campaign struct {
	ID            string                 `json:"id"`
	TemplateKind  string                 `json:"templateKind"`
	Owner         string                 `json:"owner,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Parameters    json.RawMessage        `json:"parameters,omitempty"`
	Stages        []StageRecord          `json:"stages"`
	CurrentStage  int                    `json:"currentStageIndex"`
	Status        Status                 `json:"status"`
	Metrics       map[string]interface{} `json:"metrics,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`

	// ResumedAt marks the most recent operator resume. Stage attempts that
	// finished before it belong to an earlier, already-scored run.
	ResumedAt *time.Time `json:"resumedAt,omitempty"`

	// Version supports optimistic read-modify-write in the state store
	Version int64 `json:"version"`
}

// New creates a campaign with all stages pending and the cursor on stage 1.
// Capabilities come from the stage registry in declared order.
func New(templateKind, owner, correlationID string, parameters json.RawMessage, capabilities []string) (*Campaign, error) {
	if len(capabilities) == 0 {
		return nil, fmt.Errorf("campaign requires at least one stage")
	}

	now := time.Now().UTC()
	stages := make([]StageRecord, len(capabilities))
	for i, capability := range capabilities {
		stages[i] = StageRecord{
			Order:      i + 1,
			Capability: capability,
			Status:     StagePending,
		}
	}

	return &Campaign{
		ID:            uuid.New().String(),
		TemplateKind:  templateKind,
		Owner:         owner,
		CorrelationID: correlationID,
		Parameters:    parameters,
		Stages:        stages,
		CurrentStage:  1,
		Status:        StatusInitiated,
		Metrics:       make(map[string]interface{}),
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}, nil
}

// DeriveStatus computes the campaign label from stage state alone:
// any failed stage is terminal failure, all completed is terminal success,
// all pending is initiated, anything in between is running at the current
// capability.
func (c *Campaign) DeriveStatus() Status {
	allPending := true
	allCompleted := true

	for i := range c.Stages {
		switch c.Stages[i].Status {
		case StageFailed:
			return StatusFailed
		case StagePending:
			allCompleted = false
		case StageRunning:
			allCompleted = false
			allPending = false
		case StageCompleted:
			allPending = false
		}
	}

	if allCompleted {
		return StatusCompleted
	}
	if allPending {
		return StatusInitiated
	}

	for i := range c.Stages {
		if c.Stages[i].Status != StageCompleted {
			return RunningStatus(c.Stages[i].Capability)
		}
	}
	return StatusCompleted
}

// SyncStatus refreshes the stored label from stage state
func (c *Campaign) SyncStatus() {
	c.Status = c.DeriveStatus()
}

// IsTerminal reports whether the campaign reached completed or failed
func (c *Campaign) IsTerminal() bool {
	return c.DeriveStatus().IsTerminal()
}

// StageAt returns the record with the given 1-based order
func (c *Campaign) StageAt(order int) (*StageRecord, error) {
	if order < 1 || order > len(c.Stages) {
		return nil, fmt.Errorf("stage order %d out of range 1..%d", order, len(c.Stages))
	}
	return &c.Stages[order-1], nil
}

// Current returns the record the cursor points at
func (c *Campaign) Current() (*StageRecord, error) {
	return c.StageAt(c.CurrentStage)
}

// PriorOutputs collects the outputs of completed stages before the given
// order, keyed by capability. Later stages may read but never write these.
func (c *Campaign) PriorOutputs(order int) map[string]json.RawMessage {
	outputs := make(map[string]json.RawMessage)
	for i := range c.Stages {
		stage := &c.Stages[i]
		if stage.Order >= order {
			break
		}
		if stage.Status == StageCompleted && len(stage.Output) > 0 {
			outputs[stage.Capability] = stage.Output
		}
	}
	return outputs
}

// MergeOutputMetrics folds a stage output into the campaign metrics bag.
// Outputs that are not JSON objects are kept on the stage record only.
func (c *Campaign) MergeOutputMetrics(output json.RawMessage) error {
	if len(output) == 0 {
		return nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(output, &fields); err != nil {
		return nil
	}

	if c.Metrics == nil {
		c.Metrics = make(map[string]interface{})
	}
	return mergo.Merge(&c.Metrics, fields, mergo.WithOverride)
}

// Clone returns a deep copy so callers can never mutate stored state
func (c *Campaign) Clone() (*Campaign, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal campaign: %w", err)
	}

	var copied Campaign
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign: %w", err)
	}
	return &copied, nil
}
