package defence

import (
	"testing"
	"time"

	"github.com/tamsilcms/agent/pkg/models"
)

func enforcePolicy() models.DefencePolicy {
	return models.DefencePolicy{
		Mode:                models.PolicyEnforce,
		MinConfidence:       0.5,
		MaxActionsPerWindow: 2,
		ActionWindowSeconds: 10,
		AllowKill:           true,
		AllowQuarantine:     true,
		AllowBlock:          true,
		AllowPrevent:        true,
	}
}

func signal(t time.Time, pid string) models.BehaviourSignal {
	return models.BehaviourSignal{
		Type:              models.SignalProcess,
		RuleID:            "r1",
		ProcessID:         pid,
		Confidence:        0.9,
		ObservedAt:        t,
		ResponseDefined:   true,
		RequestedResponse: models.KillProcess,
	}
}

func TestRateLimitAtThreeSignals(t *testing.T) {
	base := time.Unix(0, 0)
	e := New(enforcePolicy())
	e.now = func() time.Time { return base }

	f0 := e.Evaluate(signal(base, "100"))
	if f0.ProposedResponse != models.KillProcess {
		t.Fatalf("expected first signal permitted, got %+v", f0)
	}
	e.Apply(f0, "", "")

	e.now = func() time.Time { return base.Add(time.Second) }
	f1 := e.Evaluate(signal(base.Add(time.Second), "101"))
	if f1.ProposedResponse != models.KillProcess {
		t.Fatalf("expected second signal permitted, got %+v", f1)
	}
	e.Apply(f1, "", "")

	e.now = func() time.Time { return base.Add(2 * time.Second) }
	f2 := e.Evaluate(signal(base.Add(2*time.Second), "102"))
	if f2.ProposedResponse != models.ObserveOnly || f2.DecisionReason != "rate limited" {
		t.Fatalf("expected third signal rate limited, got %+v", f2)
	}
}

func TestMissingRuleID(t *testing.T) {
	e := New(enforcePolicy())
	sig := signal(time.Now(), "1")
	sig.RuleID = ""
	f := e.Evaluate(sig)
	if f.ProposedResponse != models.ObserveOnly || f.DecisionReason != "missing rule identifier" {
		t.Fatalf("expected missing rule identifier downgrade, got %+v", f)
	}
}

func TestResponseUndefined(t *testing.T) {
	e := New(enforcePolicy())
	sig := signal(time.Now(), "1")
	sig.ResponseDefined = false
	f := e.Evaluate(sig)
	if f.DecisionReason != "response undefined" {
		t.Fatalf("expected response undefined, got %+v", f)
	}
}

func TestConfidenceBelowThreshold(t *testing.T) {
	e := New(enforcePolicy())
	sig := signal(time.Now(), "1")
	sig.Confidence = 0.1
	f := e.Evaluate(sig)
	if f.DecisionReason != "confidence below threshold" {
		t.Fatalf("expected confidence below threshold, got %+v", f)
	}
}

func TestMissingProcessID(t *testing.T) {
	e := New(enforcePolicy())
	sig := signal(time.Now(), "")
	f := e.Evaluate(sig)
	if f.DecisionReason != "missing process identifier" {
		t.Fatalf("expected missing process identifier, got %+v", f)
	}
}

func TestMissingFilePath(t *testing.T) {
	e := New(enforcePolicy())
	sig := signal(time.Now(), "1")
	sig.RequestedResponse = models.Quarantine
	f := e.Evaluate(sig)
	if f.DecisionReason != "missing file path" {
		t.Fatalf("expected missing file path, got %+v", f)
	}
}

func TestObserveModeDowngradesEverything(t *testing.T) {
	p := enforcePolicy()
	p.Mode = models.PolicyObserve
	e := New(p)
	f := e.Evaluate(signal(time.Now(), "1"))
	if f.ProposedResponse != models.ObserveOnly || f.DecisionReason != "policy observe-only" {
		t.Fatalf("expected observe-mode downgrade, got %+v", f)
	}
}

func TestApplyBlocksDisallowedAction(t *testing.T) {
	p := enforcePolicy()
	p.AllowKill = false
	e := New(p)
	finding := e.Evaluate(signal(time.Now(), "1"))
	if finding.ProposedResponse != models.KillProcess {
		t.Fatalf("expected evaluate to still propose kill before apply, got %+v", finding)
	}
	ev := e.Apply(finding, "before", "after")
	if ev.Finding.ProposedResponse != models.ObserveOnly || ev.Finding.DecisionReason != "action blocked by policy" {
		t.Fatalf("expected apply to downgrade disallowed action, got %+v", ev.Finding)
	}
}

func TestWindowTrimsExpiredEntries(t *testing.T) {
	p := enforcePolicy()
	e := New(p)
	base := time.Unix(1000, 0)
	e.now = func() time.Time { return base }
	f := e.Evaluate(signal(base, "1"))
	e.Apply(f, "", "")
	f2 := e.Evaluate(signal(base, "2"))
	e.Apply(f2, "", "")

	// Past the 10s window: both earlier actions should have aged out.
	e.now = func() time.Time { return base.Add(11 * time.Second) }
	f3 := e.Evaluate(signal(base.Add(11*time.Second), "3"))
	if f3.ProposedResponse != models.KillProcess {
		t.Fatalf("expected rate limit to reset once the window elapses, got %+v", f3)
	}
}
