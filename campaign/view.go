package campaign

import (
	"time"

	"github.com/goccy/go-json"
)

// View is the read-only projection returned by status queries
type View struct {
	ID            string                 `json:"id"`
	TemplateKind  string                 `json:"templateKind"`
	Owner         string                 `json:"owner,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Status        Status                 `json:"status"`
	CurrentStage  int                    `json:"currentStageIndex"`
	Stages        []StageView            `json:"stages"`
	Metrics       map[string]interface{} `json:"metrics,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// StageView is the read-only projection of a single stage record
type StageView struct {
	Order        int             `json:"order"`
	Capability   string          `json:"capability"`
	Status       StageStatus     `json:"status"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	DurationMs   int64           `json:"durationMs,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// ToView projects the campaign into its query shape. The projection owns
// its own copies so callers cannot reach back into stored state.
func (c *Campaign) ToView() *View {
	view := &View{
		ID:            c.ID,
		TemplateKind:  c.TemplateKind,
		Owner:         c.Owner,
		CorrelationID: c.CorrelationID,
		Status:        c.DeriveStatus(),
		CurrentStage:  c.CurrentStage,
		Stages:        make([]StageView, len(c.Stages)),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}

	if len(c.Metrics) > 0 {
		view.Metrics = make(map[string]interface{}, len(c.Metrics))
		for k, v := range c.Metrics {
			view.Metrics[k] = v
		}
	}

	for i := range c.Stages {
		stage := &c.Stages[i]
		sv := StageView{
			Order:        stage.Order,
			Capability:   stage.Capability,
			Status:       stage.Status,
			DurationMs:   stage.DurationMs(),
			ErrorMessage: stage.ErrorMessage,
		}
		if stage.StartedAt != nil {
			t := *stage.StartedAt
			sv.StartedAt = &t
		}
		if stage.CompletedAt != nil {
			t := *stage.CompletedAt
			sv.CompletedAt = &t
		}
		if len(stage.Output) > 0 {
			sv.Output = append(json.RawMessage(nil), stage.Output...)
		}
		view.Stages[i] = sv
	}

	return view
}
