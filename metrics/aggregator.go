// Package metrics accumulates cross-run campaign statistics: global outcome
// counters, a running weighted average of campaign duration, and per-agent
// execution stats. The aggregator is a single shared accumulator contended
// by every completing campaign; reads return eventually-consistent snapshots.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/campflow/campflow-go/campaign"
)

// AgentMetric is the accumulated view of one capability
type AgentMetric struct {
	Capability            string    `json:"capability"`
	Executions            int64     `json:"executions"`
	Errors                int64     `json:"errors"`
	SuccessRate           float64   `json:"successRate"`
	AverageResponseTimeMs float64   `json:"averageResponseTimeMs"`
	LastExecutionAt       time.Time `json:"lastExecutionAt"`
}

// GlobalMetrics summarizes all terminal campaign runs
type GlobalMetrics struct {
	Total             int64   `json:"total"`
	Succeeded         int64   `json:"succeeded"`
	Failed            int64   `json:"failed"`
	AverageDurationMs float64 `json:"averageDurationMs"`
}

type agentAccumulator struct {
	executions      int64
	errors          int64
	averageMs       float64
	lastExecutionAt time.Time
}

// Aggregator accumulates execution records under a single lock. All running
// averages use the online-mean update avg += (sample - avg) / n, so two
// concurrent completions with durations 100ms and 300ms always average to
// 200ms regardless of commit order.
type Aggregator struct {
	mu sync.RWMutex

	total      int64
	succeeded  int64
	failed     int64
	avgRunMs   float64
	agents     map[string]*agentAccumulator
	history    []campaign.ExecutionRecord
	historyCap int
}

// AggregatorOption configures the Aggregator
type AggregatorOption func(*Aggregator)

// WithHistoryLimit bounds how many execution records are retained
func WithHistoryLimit(limit int) AggregatorOption {
	return func(a *Aggregator) {
		a.historyCap = limit
	}
}

// NewAggregator creates an empty aggregator
func NewAggregator(options ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		agents:     make(map[string]*agentAccumulator),
		historyCap: 1000,
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// RecordCompletion folds one terminal campaign run into the accumulated
// state: global counters, the campaign duration average, and one sample per
// stage attempt contained in the record. Attempts belonging to a run that
// failed at a later stage are scored for their own capability independently.
func (a *Aggregator) RecordCompletion(record *campaign.ExecutionRecord) {
	if record == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	if record.Status == campaign.RunSuccess {
		a.succeeded++
	} else {
		a.failed++
	}
	a.avgRunMs += (float64(record.DurationMs) - a.avgRunMs) / float64(a.total)

	for _, attempt := range record.Attempts {
		acc, exists := a.agents[attempt.Capability]
		if !exists {
			acc = &agentAccumulator{}
			a.agents[attempt.Capability] = acc
		}

		acc.executions++
		if attempt.Status == campaign.StageFailed {
			acc.errors++
		}
		acc.averageMs += (float64(attempt.DurationMs) - acc.averageMs) / float64(acc.executions)
		last := attempt.CompletedAt
		if last.IsZero() {
			last = record.CompletedAt
		}
		acc.lastExecutionAt = last
	}

	a.history = append(a.history, *record)
	if len(a.history) > a.historyCap {
		a.history = a.history[len(a.history)-a.historyCap:]
	}
}

// Global returns a snapshot of the campaign-level counters
func (a *Aggregator) Global() GlobalMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return GlobalMetrics{
		Total:             a.total,
		Succeeded:         a.succeeded,
		Failed:            a.failed,
		AverageDurationMs: a.avgRunMs,
	}
}

// Agent returns the accumulated metric for one capability
func (a *Aggregator) Agent(capability string) (AgentMetric, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	acc, exists := a.agents[capability]
	if !exists {
		return AgentMetric{}, false
	}
	return a.snapshot(capability, acc), true
}

// TopAgentsByExecutions returns up to n capabilities ordered by execution
// count, descending; ties break on capability name for stable output.
func (a *Aggregator) TopAgentsByExecutions(n int) []AgentMetric {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]AgentMetric, 0, len(a.agents))
	for capability, acc := range a.agents {
		out = append(out, a.snapshot(capability, acc))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Executions != out[j].Executions {
			return out[i].Executions > out[j].Executions
		}
		return out[i].Capability < out[j].Capability
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// History returns the most recent execution records, newest last, up to limit
func (a *Aggregator) History(limit int) []campaign.ExecutionRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	start := 0
	if limit > 0 && len(a.history) > limit {
		start = len(a.history) - limit
	}

	out := make([]campaign.ExecutionRecord, len(a.history)-start)
	copy(out, a.history[start:])
	return out
}

func (a *Aggregator) snapshot(capability string, acc *agentAccumulator) AgentMetric {
	metric := AgentMetric{
		Capability:            capability,
		Executions:            acc.executions,
		Errors:                acc.errors,
		AverageResponseTimeMs: acc.averageMs,
		LastExecutionAt:       acc.lastExecutionAt,
	}
	if acc.executions > 0 {
		metric.SuccessRate = float64(acc.executions-acc.errors) / float64(acc.executions) * 100
	}
	return metric
}
