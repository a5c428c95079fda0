package models

import "time"

// SignalType categorises a BehaviourSignal emitted by the sensor.
type SignalType string

const (
	SignalProcess   SignalType = "process"
	SignalMemory    SignalType = "memory"
	SignalFile      SignalType = "file"
	SignalPrivilege SignalType = "privilege"
)

// ResponseAction is the set of response actions a DefencePolicy can
// permit. Order matters only for readability; comparisons are by
// value.
type ResponseAction string

const (
	ObserveOnly     ResponseAction = "observe_only"
	KillProcess     ResponseAction = "kill_process"
	Quarantine      ResponseAction = "quarantine"
	BlockNetwork    ResponseAction = "block_network"
	PreventExecution ResponseAction = "prevent_execution"
)

// BehaviourSignal is emitted by the sensor (an opaque producer outside
// this module's scope) and consumed by DefenceModule.
type BehaviourSignal struct {
	Type              SignalType     `json:"type"`
	Name              string         `json:"name"`
	RuleID            string         `json:"rule_id"`
	ProcessID         string         `json:"process_id,omitempty"`
	FilePath          string         `json:"file_path,omitempty"`
	CommandLine       string         `json:"command_line,omitempty"`
	Confidence        float64        `json:"confidence"`
	ObservedAt        time.Time      `json:"observed_at"`
	ResponseDefined   bool           `json:"response_defined"`
	RequestedResponse ResponseAction `json:"requested_response"`
}

// DefenceFinding is the evaluated, but not yet applied, decision for a
// BehaviourSignal.
type DefenceFinding struct {
	DetectionID        string         `json:"detection_id"`
	RuleID             string         `json:"rule_id"`
	BehaviourSignature string         `json:"behaviour_signature"`
	Confidence         float64        `json:"confidence"`
	ProcessID          string         `json:"process_id,omitempty"`
	FilePath           string         `json:"file_path,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	ProposedResponse   ResponseAction `json:"proposed_response"`
	DecisionReason     string         `json:"decision_reason"`
}

// PolicyMode switches the engine between observe-only and enforce.
type PolicyMode string

const (
	PolicyObserve PolicyMode = "observe"
	PolicyEnforce PolicyMode = "enforce"
)

// DefencePolicy is loaded from config and mutable only on reload.
type DefencePolicy struct {
	PolicyID           string     `json:"policy_id"`
	Mode               PolicyMode `json:"mode"`
	MinConfidence      float64    `json:"min_confidence"`
	MaxActionsPerWindow int       `json:"max_actions_per_window"`
	ActionWindowSeconds int       `json:"action_window_seconds"`

	AllowKill       bool `json:"allow_kill"`
	AllowQuarantine bool `json:"allow_quarantine"`
	AllowBlock      bool `json:"allow_block"`
	AllowPrevent    bool `json:"allow_prevent"`
}

// Allows reports whether the policy's per-action allow-bits permit the
// given response action. ObserveOnly is always permitted.
func (p DefencePolicy) Allows(action ResponseAction) bool {
	switch action {
	case ObserveOnly:
		return true
	case KillProcess:
		return p.AllowKill
	case Quarantine:
		return p.AllowQuarantine
	case BlockNetwork:
		return p.AllowBlock
	case PreventExecution:
		return p.AllowPrevent
	default:
		return false
	}
}

// DefenceEvidence captures the before/after state an executor reports
// around an applied finding. The policy engine never collects these
// itself.
type DefenceEvidence struct {
	Finding     DefenceFinding
	AppliedAt   time.Time
	BeforeState string
	AfterState  string
}
