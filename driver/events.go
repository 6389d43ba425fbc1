package driver

import (
	"context"
	"time"

	"github.com/campflow/campflow-go/campaign"
	"github.com/campflow/campflow-go/contracts"
)

// EventPublisher publishes campaign lifecycle events. Publish failures are
// logged and never fail the advance that produced them.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event contracts.Event) error
}

// CampaignCompletedEvent is published when a campaign's last stage completes
type CampaignCompletedEvent struct {
	contracts.BaseEvent

	CampaignID   string                  `json:"campaignId"`
	TemplateKind string                  `json:"templateKind"`
	Owner        string                  `json:"owner,omitempty"`
	DurationMs   int64                   `json:"durationMs"`
	StartedAt    time.Time               `json:"startedAt"`
	CompletedAt  time.Time               `json:"completedAt"`
	Attempts     []campaign.StageAttempt `json:"stageAttempts"`
}

// CampaignFailedEvent is published when any stage fails and halts a campaign
type CampaignFailedEvent struct {
	contracts.BaseEvent

	CampaignID       string                  `json:"campaignId"`
	TemplateKind     string                  `json:"templateKind"`
	Owner            string                  `json:"owner,omitempty"`
	FailedStage      int                     `json:"failedStageOrder"`
	FailedCapability string                  `json:"failedCapability"`
	Error            string                  `json:"error"`
	CompletedStages  int                     `json:"completedStages"`
	TotalStages      int                     `json:"totalStages"`
	Attempts         []campaign.StageAttempt `json:"stageAttempts"`
}

// NewCampaignCompletedEvent builds the success event from a terminal run
func NewCampaignCompletedEvent(c *campaign.Campaign, record *campaign.ExecutionRecord) *CampaignCompletedEvent {
	event := &CampaignCompletedEvent{
		BaseEvent: contracts.BaseEvent{
			BaseMessage: contracts.NewBaseMessage("CampaignCompletedEvent"),
			AggregateID: c.ID,
			Sequence:    c.Version,
			Source:      "campflow",
		},
		CampaignID:   c.ID,
		TemplateKind: c.TemplateKind,
		Owner:        c.Owner,
		DurationMs:   record.DurationMs,
		StartedAt:    record.StartedAt,
		CompletedAt:  record.CompletedAt,
		Attempts:     record.Attempts,
	}
	event.SetCorrelationID(c.CorrelationID)
	return event
}

// NewCampaignFailedEvent builds the failure event from a terminal run
func NewCampaignFailedEvent(c *campaign.Campaign, record *campaign.ExecutionRecord) *CampaignFailedEvent {
	event := &CampaignFailedEvent{
		BaseEvent: contracts.BaseEvent{
			BaseMessage: contracts.NewBaseMessage("CampaignFailedEvent"),
			AggregateID: c.ID,
			Sequence:    c.Version,
			Source:      "campflow",
		},
		CampaignID:   c.ID,
		TemplateKind: c.TemplateKind,
		Owner:        c.Owner,
		TotalStages:  len(c.Stages),
		Attempts:     record.Attempts,
	}
	event.SetCorrelationID(c.CorrelationID)

	for i := range c.Stages {
		stage := &c.Stages[i]
		switch stage.Status {
		case campaign.StageCompleted:
			event.CompletedStages++
		case campaign.StageFailed:
			event.FailedStage = stage.Order
			event.FailedCapability = stage.Capability
			event.Error = stage.ErrorMessage
		}
	}
	return event
}

func (d *Driver) publishTerminalEvent(ctx context.Context, c *campaign.Campaign, record *campaign.ExecutionRecord) {
	if d.events == nil {
		return
	}

	var event contracts.Event
	if record.Status == campaign.RunSuccess {
		event = NewCampaignCompletedEvent(c, record)
	} else {
		event = NewCampaignFailedEvent(c, record)
	}

	if err := d.events.PublishEvent(ctx, event); err != nil {
		d.logger.Error("failed to publish campaign lifecycle event",
			"campaignId", c.ID,
			"eventType", event.GetType(),
			"error", err)
	}
}
