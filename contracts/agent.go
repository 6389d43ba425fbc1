package contracts

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Failure kinds reported by a capability reply. The driver uses the kind to
// classify a stage failure without parsing free-text messages.
const (
	FailureUnreachable = "unreachable"
	FailureRejected    = "rejected"
	FailureTimeout     = "timeout"
)

// AgentRequest is the command sent to a remote agent capability for one
// stage execution. Parameters are the campaign-wide inputs; PriorOutputs
// carries the outputs of earlier completed stages, keyed by capability.
type AgentRequest struct {
	BaseCommand
	CampaignID   string                     `json:"campaignId"`
	StageOrder   int                        `json:"stageOrder"`
	Parameters   json.RawMessage            `json:"parameters,omitempty"`
	PriorOutputs map[string]json.RawMessage `json:"priorOutputs,omitempty"`
}

// NewAgentRequest creates an invocation command for the given capability
func NewAgentRequest(capability, campaignID string, stageOrder int, parameters json.RawMessage, priorOutputs map[string]json.RawMessage) *AgentRequest {
	return &AgentRequest{
		BaseCommand:  NewBaseCommand("AgentRequest", capability),
		CampaignID:   campaignID,
		StageOrder:   stageOrder,
		Parameters:   parameters,
		PriorOutputs: priorOutputs,
	}
}

// AgentReply is the capability's response to an AgentRequest. On success
// Output holds the stage-specific payload, opaque to the driver. On failure
// FailureKind is one of the Failure* constants.
type AgentReply struct {
	BaseReply
	Output         json.RawMessage `json:"output,omitempty"`
	FailureKind    string          `json:"failureKind,omitempty"`
	FailureMessage string          `json:"failureMessage,omitempty"`
}

// NewAgentReply creates a successful reply carrying the stage output
func NewAgentReply(correlationID string, output json.RawMessage) *AgentReply {
	return &AgentReply{
		BaseReply: NewBaseReply(correlationID),
		Output:    output,
	}
}

// NewAgentFailureReply creates a domain-level failure reply
func NewAgentFailureReply(correlationID, kind, message string) *AgentReply {
	reply := &AgentReply{
		BaseReply:      NewBaseReply(correlationID),
		FailureKind:    kind,
		FailureMessage: message,
	}
	reply.Success = false
	return reply
}

// IsSuccess returns whether the capability reported success
func (r AgentReply) IsSuccess() bool {
	return r.Success
}

// GetError returns the reported failure, or nil on success
func (r AgentReply) GetError() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%s: %s", r.FailureKind, r.FailureMessage)
}
