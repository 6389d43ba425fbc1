package campaign

import (
	"fmt"
	"time"
)

// RunStatus classifies a terminal campaign run for history and metrics
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
	RunPartial RunStatus = "partial"
)

// StageAttempt is one scored stage execution inside an ExecutionRecord.
// Attempts belonging to a campaign that later failed at a different stage
// are still scored independently.
type StageAttempt struct {
	Capability  string      `json:"capability"`
	Status      StageStatus `json:"status"`
	DurationMs  int64       `json:"durationMs"`
	CompletedAt time.Time   `json:"completedAt"`
	Error       string      `json:"error,omitempty"`
}

// ExecutionRecord summarizes one terminal campaign run
type ExecutionRecord struct {
	CampaignID  string         `json:"campaignId"`
	Status      RunStatus      `json:"status"`
	DurationMs  int64          `json:"durationMs"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Attempts    []StageAttempt `json:"stageAttempts"`
}

// BuildExecutionRecord summarizes a terminal campaign. A failed run with at
// least one completed stage is scored partial, a failed run with none is a
// plain failure. On a resumed campaign only stages finished after the resume
// point are scored, so earlier runs of the same campaign are never counted
// twice.
func (c *Campaign) BuildExecutionRecord() (*ExecutionRecord, error) {
	status := c.DeriveStatus()
	if !status.IsTerminal() {
		return nil, fmt.Errorf("campaign %s is not terminal: %s", c.ID, status)
	}

	record := &ExecutionRecord{
		CampaignID: c.ID,
		StartedAt:  c.CreatedAt,
	}

	completed := 0
	var lastFinished *time.Time
	for i := range c.Stages {
		stage := &c.Stages[i]
		if stage.Status != StageCompleted && stage.Status != StageFailed {
			continue
		}
		if c.ResumedAt != nil && stage.CompletedAt != nil && stage.CompletedAt.Before(*c.ResumedAt) {
			continue
		}

		attempt := StageAttempt{
			Capability: stage.Capability,
			Status:     stage.Status,
			DurationMs: stage.DurationMs(),
			Error:      stage.ErrorMessage,
		}
		if stage.CompletedAt != nil {
			attempt.CompletedAt = *stage.CompletedAt
			lastFinished = stage.CompletedAt
		}
		record.Attempts = append(record.Attempts, attempt)

		if stage.Status == StageCompleted {
			completed++
		}
	}

	if first := c.Stages[0].StartedAt; first != nil {
		record.StartedAt = *first
	}
	if c.ResumedAt != nil {
		record.StartedAt = *c.ResumedAt
	}
	record.CompletedAt = c.UpdatedAt
	if lastFinished != nil {
		record.CompletedAt = *lastFinished
	}
	record.DurationMs = record.CompletedAt.Sub(record.StartedAt).Milliseconds()

	switch {
	case status == StatusCompleted:
		record.Status = RunSuccess
	case completed > 0:
		record.Status = RunPartial
	default:
		record.Status = RunFailure
	}

	return record, nil
}
