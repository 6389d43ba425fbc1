// Package driver advances campaigns through their stage pipeline, one
// short-lived unit of work per call: load state, perform at most one remote
// capability call, persist, then schedule the next unit. Stage failures are
// terminal and recorded as data; the driver never retries and never crashes
// the process over a failed stage.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campflow/campflow-go/campaign"
	"github.com/campflow/campflow-go/invoker"
	"github.com/campflow/campflow-go/store"
)

const defaultStageTimeout = 60 * time.Second

// Scheduler enqueues the next advance for a campaign as a first-class,
// retryable operation.
type Scheduler interface {
	Schedule(ctx context.Context, campaignID string) error
}

// CompletionRecorder receives the execution record of every terminal run
type CompletionRecorder interface {
	RecordCompletion(record *campaign.ExecutionRecord)
}

// Outcome describes what one Advance call did
type Outcome struct {
	CampaignID  string
	Status      campaign.Status
	StageOrder  int
	StageStatus campaign.StageStatus

	// NoOp reports an idempotent re-entry: the campaign was already
	// terminal, or the current stage had already finished.
	NoOp bool
}

// Driver is the campaign state machine
type Driver struct {
	store        store.Store
	invoker      invoker.Invoker
	scheduler    Scheduler
	recorder     CompletionRecorder
	events       EventPublisher
	logger       *slog.Logger
	stageTimeout time.Duration
}

// Option configures the Driver
type Option func(*Driver)

// WithScheduler sets the scheduler used to enqueue the next stage
func WithScheduler(scheduler Scheduler) Option {
	return func(d *Driver) {
		d.scheduler = scheduler
	}
}

// WithCompletionRecorder sets the metrics sink for terminal runs
func WithCompletionRecorder(recorder CompletionRecorder) Option {
	return func(d *Driver) {
		d.recorder = recorder
	}
}

// WithEventPublisher sets the publisher for campaign lifecycle events
func WithEventPublisher(events EventPublisher) Option {
	return func(d *Driver) {
		d.events = events
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithStageTimeout bounds each capability call
func WithStageTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.stageTimeout = timeout
	}
}

// New creates a driver over the given store and invoker
func New(campaignStore store.Store, agentInvoker invoker.Invoker, options ...Option) *Driver {
	d := &Driver{
		store:        campaignStore,
		invoker:      agentInvoker,
		logger:       slog.Default(),
		stageTimeout: defaultStageTimeout,
	}
	for _, opt := range options {
		opt(d)
	}
	d.logger = d.logger.With("component", "workflow-driver")
	return d
}

// Advance executes the campaign's current stage. Calls on a terminal
// campaign, or on a current stage that already finished, are safe no-ops.
// A persistence failure after a successful remote call returns an error
// without advancing; re-invoking Advance re-attempts the same stage.
func (d *Driver) Advance(ctx context.Context, campaignID string) (Outcome, error) {
	c, err := d.store.Get(ctx, campaignID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load campaign: %w", err)
	}

	if status := c.DeriveStatus(); status.IsTerminal() {
		return Outcome{
			CampaignID: campaignID,
			Status:     status,
			StageOrder: c.CurrentStage,
			NoOp:       true,
		}, nil
	}

	stage, err := c.Current()
	if err != nil {
		return Outcome{}, fmt.Errorf("campaign %s has invalid stage cursor: %w", campaignID, err)
	}

	if stage.Status == campaign.StageCompleted || stage.Status == campaign.StageFailed {
		return Outcome{
			CampaignID:  campaignID,
			Status:      c.DeriveStatus(),
			StageOrder:  stage.Order,
			StageStatus: stage.Status,
			NoOp:        true,
		}, nil
	}

	// Durability checkpoint before the remote call: a crash mid-call leaves
	// a recoverable running record instead of a silently lost attempt.
	now := time.Now().UTC()
	if stage.StartedAt == nil {
		stage.StartedAt = &now
	}
	stage.Status = campaign.StageRunning
	c.SyncStatus()
	c.UpdatedAt = now
	if err := d.store.Update(ctx, c); err != nil {
		return Outcome{}, fmt.Errorf("failed to checkpoint stage %d of campaign %s: %w", stage.Order, campaignID, err)
	}

	d.logger.Info("executing stage",
		"campaignId", campaignID,
		"stageOrder", stage.Order,
		"capability", stage.Capability)

	request := invoker.Request{
		CampaignID:   campaignID,
		StageOrder:   stage.Order,
		Parameters:   c.Parameters,
		PriorOutputs: c.PriorOutputs(stage.Order),
	}

	callCtx, cancel := context.WithTimeout(ctx, d.stageTimeout)
	response, invokeErr := d.invoker.Invoke(callCtx, stage.Capability, request)
	cancel()

	if invokeErr != nil {
		return d.failStage(ctx, c, stage, invokeErr)
	}
	return d.completeStage(ctx, c, stage, response)
}

// completeStage records a successful attempt and either moves the cursor
// forward or finishes the campaign. The output, the stage transition, and
// the cursor move persist in a single write.
func (d *Driver) completeStage(ctx context.Context, c *campaign.Campaign, stage *campaign.StageRecord, response *invoker.Response) (Outcome, error) {
	now := time.Now().UTC()
	stage.Status = campaign.StageCompleted
	stage.CompletedAt = &now
	if response != nil {
		stage.Output = response.Output
		if err := c.MergeOutputMetrics(response.Output); err != nil {
			d.logger.Warn("failed to merge stage output into campaign metrics",
				"campaignId", c.ID, "stageOrder", stage.Order, "error", err)
		}
	}

	hasNext := stage.Order < len(c.Stages)
	if hasNext {
		c.CurrentStage = stage.Order + 1
	}
	c.SyncStatus()
	c.UpdatedAt = now

	if err := d.store.Update(ctx, c); err != nil {
		// Completion is not provably durable, so the pipeline must not move
		// on. The caller retries Advance against the same stage.
		return Outcome{}, fmt.Errorf("failed to persist completion of stage %d of campaign %s: %w",
			stage.Order, c.ID, err)
	}

	d.logger.Info("stage completed",
		"campaignId", c.ID,
		"stageOrder", stage.Order,
		"capability", stage.Capability,
		"durationMs", stage.DurationMs())

	outcome := Outcome{
		CampaignID:  c.ID,
		Status:      c.Status,
		StageOrder:  stage.Order,
		StageStatus: campaign.StageCompleted,
	}

	if !hasNext {
		d.finishCampaign(ctx, c)
		return outcome, nil
	}

	if d.scheduler != nil {
		if err := d.scheduler.Schedule(ctx, c.ID); err != nil {
			// State is durable; a retried Advance picks up the next stage.
			return outcome, fmt.Errorf("failed to schedule stage %d of campaign %s: %w",
				c.CurrentStage, c.ID, err)
		}
	}
	return outcome, nil
}

// failStage marks the current stage failed and the campaign terminally
// failed. Nothing after the failed stage ever leaves pending.
func (d *Driver) failStage(ctx context.Context, c *campaign.Campaign, stage *campaign.StageRecord, invokeErr error) (Outcome, error) {
	now := time.Now().UTC()
	stage.Status = campaign.StageFailed
	stage.CompletedAt = &now
	stage.ErrorMessage = invokeErr.Error()
	c.SyncStatus()
	c.UpdatedAt = now

	if err := d.store.Update(ctx, c); err != nil {
		return Outcome{}, fmt.Errorf("failed to persist failure of stage %d of campaign %s: %w",
			stage.Order, c.ID, err)
	}

	d.logger.Warn("stage failed, campaign halted",
		"campaignId", c.ID,
		"stageOrder", stage.Order,
		"capability", stage.Capability,
		"errorKind", string(invoker.KindOf(invokeErr)),
		"error", invokeErr.Error())

	d.finishCampaign(ctx, c)

	return Outcome{
		CampaignID:  c.ID,
		Status:      c.Status,
		StageOrder:  stage.Order,
		StageStatus: campaign.StageFailed,
	}, nil
}

// finishCampaign scores the terminal run once: metrics first, then the
// lifecycle event. Neither can fail the advance that got us here.
func (d *Driver) finishCampaign(ctx context.Context, c *campaign.Campaign) {
	record, err := c.BuildExecutionRecord()
	if err != nil {
		d.logger.Error("failed to build execution record", "campaignId", c.ID, "error", err)
		return
	}

	if d.recorder != nil {
		d.recorder.RecordCompletion(record)
	}

	d.publishTerminalEvent(ctx, c, record)

	d.logger.Info("campaign finished",
		"campaignId", c.ID,
		"status", c.Status,
		"durationMs", record.DurationMs,
		"stagesAttempted", len(record.Attempts))
}
