// Package scheduler turns "run the next advance for campaign X" into a
// first-class, inspectable, retryable task instead of a fire-and-forget
// timer. The in-process ChannelScheduler serializes advances per campaign
// ID; the QueueScheduler makes the task durable on the broker.
package scheduler

import (
	"context"
)

// AdvanceFunc executes one advance for a campaign. An error means the
// advance did not durably progress and may be re-attempted.
type AdvanceFunc func(ctx context.Context, campaignID string) error
