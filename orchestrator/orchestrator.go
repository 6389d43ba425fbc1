// Package orchestrator is the entry point of the campaign workflow core:
// it creates campaigns from stage templates, kicks off their first stage,
// and exposes the read-only status and metrics queries.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campflow/campflow-go/campaign"
	"github.com/campflow/campflow-go/driver"
	"github.com/campflow/campflow-go/metrics"
	"github.com/campflow/campflow-go/registry"
	"github.com/campflow/campflow-go/store"
	"github.com/goccy/go-json"
)

// StartRequest carries the inputs for a new campaign
type StartRequest struct {
	TemplateKind  string          `json:"templateKind"`
	Owner         string          `json:"owner,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
}

// StartResult is returned synchronously; the pipeline runs asynchronously
type StartResult struct {
	CampaignID string          `json:"campaignId"`
	Status     campaign.Status `json:"status"`
}

// Orchestrator wires the registry, store, driver, scheduler and metrics
// into the externally triggered operations.
type Orchestrator struct {
	registry   *registry.Registry
	store      store.Store
	scheduler  driver.Scheduler
	aggregator *metrics.Aggregator
	logger     *slog.Logger
}

// Option configures the Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithAggregator exposes metrics queries through the facade
func WithAggregator(aggregator *metrics.Aggregator) Option {
	return func(o *Orchestrator) {
		o.aggregator = aggregator
	}
}

// New creates the facade. The scheduler must feed a Driver sharing the same
// store; the caller guarantees at most one active driver per campaign ID.
func New(reg *registry.Registry, campaignStore store.Store, scheduler driver.Scheduler, options ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:  reg,
		store:     campaignStore,
		scheduler: scheduler,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o
}

// Start creates a campaign with all stages pending and schedules stage 1.
// An unknown template kind is a configuration error; no campaign is created.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	capabilities, err := o.registry.Capabilities(req.TemplateKind)
	if err != nil {
		return nil, err
	}

	c, err := campaign.New(req.TemplateKind, req.Owner, req.CorrelationID, req.Parameters, capabilities)
	if err != nil {
		return nil, err
	}

	if err := o.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to persist campaign: %w", err)
	}

	if err := o.scheduler.Schedule(ctx, c.ID); err != nil {
		// The campaign exists and is recoverable; surface the scheduling
		// failure so the caller can re-trigger.
		return nil, fmt.Errorf("campaign %s created but not scheduled: %w", c.ID, err)
	}

	o.logger.Info("campaign started",
		"campaignId", c.ID,
		"templateKind", req.TemplateKind,
		"owner", req.Owner,
		"stages", len(capabilities))

	return &StartResult{
		CampaignID: c.ID,
		Status:     campaign.StatusInitiated,
	}, nil
}

// GetStatus returns the full campaign projection or a not-found error
func (o *Orchestrator) GetStatus(ctx context.Context, campaignID string) (*campaign.View, error) {
	c, err := o.store.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return c.ToView(), nil
}

// ListByOwner returns the projections of all campaigns for an owner
func (o *Orchestrator) ListByOwner(ctx context.Context, owner string) ([]*campaign.View, error) {
	campaigns, err := o.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	views := make([]*campaign.View, len(campaigns))
	for i, c := range campaigns {
		views[i] = c.ToView()
	}
	return views, nil
}

// Resume re-arms a failed campaign at its failed stage and schedules it.
// This is the explicit operator-triggered retry; the driver itself never
// retries a failed stage. The resumed run is scored from the resume point,
// stages finished before it stay with the earlier run's record.
func (o *Orchestrator) Resume(ctx context.Context, campaignID string) error {
	c, err := o.store.Get(ctx, campaignID)
	if err != nil {
		return err
	}

	if c.DeriveStatus() != campaign.StatusFailed {
		return fmt.Errorf("campaign %s is not failed, nothing to resume", campaignID)
	}

	stage, err := c.Current()
	if err != nil {
		return fmt.Errorf("campaign %s has invalid stage cursor: %w", campaignID, err)
	}
	if stage.Status != campaign.StageFailed {
		return fmt.Errorf("campaign %s current stage %d is %s, expected failed",
			campaignID, stage.Order, stage.Status)
	}

	stage.Status = campaign.StagePending
	stage.StartedAt = nil
	stage.CompletedAt = nil
	stage.ErrorMessage = ""
	c.SyncStatus()
	now := time.Now().UTC()
	c.ResumedAt = &now
	c.UpdatedAt = now

	if err := o.store.Update(ctx, c); err != nil {
		return fmt.Errorf("failed to re-arm campaign %s: %w", campaignID, err)
	}

	if err := o.scheduler.Schedule(ctx, campaignID); err != nil {
		return fmt.Errorf("campaign %s re-armed but not scheduled: %w", campaignID, err)
	}

	o.logger.Info("campaign resumed", "campaignId", campaignID, "stageOrder", stage.Order)
	return nil
}

// GlobalMetrics returns the cross-run counters snapshot
func (o *Orchestrator) GlobalMetrics() metrics.GlobalMetrics {
	if o.aggregator == nil {
		return metrics.GlobalMetrics{}
	}
	return o.aggregator.Global()
}

// AgentMetric returns the accumulated metric for one capability
func (o *Orchestrator) AgentMetric(capability string) (metrics.AgentMetric, bool) {
	if o.aggregator == nil {
		return metrics.AgentMetric{}, false
	}
	return o.aggregator.Agent(capability)
}

// TopAgents returns up to n capabilities by execution count
func (o *Orchestrator) TopAgents(n int) []metrics.AgentMetric {
	if o.aggregator == nil {
		return nil
	}
	return o.aggregator.TopAgentsByExecutions(n)
}
