// Package defence implements the policy engine of spec.md §4.5:
// mapping behaviour signals to permitted response actions under a
// DefencePolicy, with a rolling rate-limit window. Grounded on the
// policy/rule shape of sgerhart-aegis_agent's models.Policy/Rule in
// the retrieval pack (a named policy with an enabled/priority gate),
// generalised here to the ObserveOnly-downgrade semantics spec.md
// requires.
package defence

import (
	"time"

	"github.com/google/uuid"

	"github.com/tamsilcms/agent/pkg/models"
)

// Engine evaluates BehaviourSignals against a DefencePolicy and
// applies permitted DefenceFindings, rate-limiting itself with an
// ActionTimestampWindow it owns exclusively.
type Engine struct {
	policy models.DefencePolicy
	window *actionWindow
	now    func() time.Time
}

// New builds an Engine for policy.
func New(policy models.DefencePolicy) *Engine {
	return &Engine{
		policy: policy,
		window: newActionWindow(time.Duration(policy.ActionWindowSeconds) * time.Second),
		now:    time.Now,
	}
}

// SetPolicy replaces the active policy (config reload).
func (e *Engine) SetPolicy(policy models.DefencePolicy) {
	e.policy = policy
	e.window.resize(time.Duration(policy.ActionWindowSeconds) * time.Second)
}

// Evaluate runs the top-to-bottom rule ladder of spec.md §4.5. The
// first firing rule wins; evaluation only trims expired entries from
// the rate-limit window and never records an action in it (only Apply
// does, and only for a permitted non-ObserveOnly action).
func (e *Engine) Evaluate(sig models.BehaviourSignal) models.DefenceFinding {
	finding := models.DefenceFinding{
		DetectionID:        uuid.NewString(),
		RuleID:             sig.RuleID,
		BehaviourSignature: sig.Name,
		Confidence:         sig.Confidence,
		ProcessID:          sig.ProcessID,
		FilePath:           sig.FilePath,
		Timestamp:          sig.ObservedAt,
	}

	switch {
	case sig.RuleID == "":
		finding.ProposedResponse = models.ObserveOnly
		finding.DecisionReason = "missing rule identifier"
	case !sig.ResponseDefined:
		finding.ProposedResponse = models.ObserveOnly
		finding.DecisionReason = "response undefined"
	case sig.Confidence < e.policy.MinConfidence:
		finding.ProposedResponse = models.ObserveOnly
		finding.DecisionReason = "confidence below threshold"
	case requiresProcessID(sig.RequestedResponse) && sig.ProcessID == "":
		finding.ProposedResponse = models.ObserveOnly
		finding.DecisionReason = "missing process identifier"
	case requiresFilePath(sig.RequestedResponse) && sig.FilePath == "":
		finding.ProposedResponse = models.ObserveOnly
		finding.DecisionReason = "missing file path"
	case e.policy.Mode == models.PolicyObserve:
		finding.ProposedResponse = models.ObserveOnly
		finding.DecisionReason = "policy observe-only"
	case e.window.count(e.now()) >= e.policy.MaxActionsPerWindow:
		finding.ProposedResponse = models.ObserveOnly
		finding.DecisionReason = "rate limited"
	default:
		finding.ProposedResponse = sig.RequestedResponse
		finding.DecisionReason = "action permitted"
	}

	return finding
}

func requiresProcessID(a models.ResponseAction) bool {
	return a == models.KillProcess || a == models.BlockNetwork
}

func requiresFilePath(a models.ResponseAction) bool {
	return a == models.Quarantine || a == models.PreventExecution
}

// Apply checks the policy's per-action allow-bits and pushes the
// current time into the rate-limit window if the action is permitted
// and non-ObserveOnly. BeforeState/AfterState are supplied by the
// caller (the executor), never collected by the engine itself.
func (e *Engine) Apply(finding models.DefenceFinding, beforeState, afterState string) models.DefenceEvidence {
	action := finding.ProposedResponse
	if action != models.ObserveOnly && !e.policy.Allows(action) {
		finding.ProposedResponse = models.ObserveOnly
		finding.DecisionReason = "action blocked by policy"
		action = models.ObserveOnly
	}

	now := e.now()
	if action != models.ObserveOnly {
		e.window.push(now)
	}

	return models.DefenceEvidence{
		Finding:     finding,
		AppliedAt:   now,
		BeforeState: beforeState,
		AfterState:  afterState,
	}
}
