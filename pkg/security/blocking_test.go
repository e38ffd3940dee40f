package security

import (
	"strings"
	"testing"
)

func newBlockingFixture(t *testing.T) (*BlockingEngine, *StateManager, *AlertStore) {
	t.Helper()
	state := NewStateManager(nil)
	alerts := NewAlertStore(state, 0, nil)
	return NewBlockingEngine(state, alerts, 0, nil), state, alerts
}

func weightedResult(level ThreatLevel, signals map[SignalSource]ThreatSignal, kw *KeywordDetection) *SecurityAnalysisResult {
	return &SecurityAnalysisResult{
		Signals:     signals,
		ThreatLevel: level,
		Keywords:    kw,
		Strategy:    StrategyWeighted,
		SessionID:   "s1",
	}
}

func TestDecideRuleOrder(t *testing.T) {
	e, _, _ := newBlockingFixture(t)

	testCases := []struct {
		name       string
		result     *SecurityAnalysisResult
		wantReason string
		wantSev    ThreatLevel
	}{
		{
			name: "critical level wins over everything",
			result: weightedResult(LevelCritical, map[SignalSource]ThreatSignal{
				SourceIntent: {Source: SourceIntent, Label: LabelMalicious, Confidence: 0.95},
			}, &KeywordDetection{Matches: []string{"drop table"}}),
			wantReason: ReasonCriticalThreat,
			wantSev:    LevelCritical,
		},
		{
			name: "high level blocks too",
			result: weightedResult(LevelHigh, map[SignalSource]ThreatSignal{
				SourceNetwork: {Source: SourceNetwork, Label: LabelDDOS, Confidence: 0.88},
			}, nil),
			wantReason: ReasonCriticalThreat,
			wantSev:    LevelHigh,
		},
		{
			name: "confirmed intent below high level",
			result: weightedResult(LevelMedium, map[SignalSource]ThreatSignal{
				SourceIntent:        {Source: SourceIntent, Label: LabelMalicious, Confidence: 0.8},
				SourceVulnerability: {Source: SourceVulnerability, Label: "XSS", Confidence: 0.9},
			}, nil),
			wantReason: ReasonMaliciousIntent,
			wantSev:    LevelHigh,
		},
		{
			name: "confident vulnerability",
			result: weightedResult(LevelMedium, map[SignalSource]ThreatSignal{
				SourceVulnerability: {Source: SourceVulnerability, Label: "XSS", Confidence: 0.65},
				SourceIntent:        {Source: SourceIntent, Label: LabelLegitimate, Confidence: 0.9},
			}, nil),
			wantReason: ReasonVulnerability + ": XSS",
			wantSev:    LevelHigh,
		},
		{
			name: "keyword evidence alone",
			result: weightedResult(LevelLow, nil,
				&KeywordDetection{Matches: []string{"exploit"}, TopCategory: "exploit", Level: LevelMedium}),
			wantReason: ReasonMaliciousContent,
			wantSev:    LevelHigh,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Decide(tc.result)
			if d == nil {
				t.Fatal("expected a block decision")
			}
			if d.Reason != tc.wantReason {
				t.Fatalf("expected reason %q, got %q", tc.wantReason, d.Reason)
			}
			if d.Severity != tc.wantSev {
				t.Fatalf("expected severity %s, got %s", tc.wantSev, d.Severity)
			}
		})
	}
}

func TestDecideNoBlock(t *testing.T) {
	e, _, _ := newBlockingFixture(t)

	testCases := []struct {
		name   string
		result *SecurityAnalysisResult
	}{
		{
			name: "clean result",
			result: weightedResult(LevelSafe, map[SignalSource]ThreatSignal{
				SourceVulnerability: {Source: SourceVulnerability, Label: LabelSafe, Confidence: 0.9},
			}, nil),
		},
		{
			name: "low confidence vulnerability",
			result: weightedResult(LevelMedium, map[SignalSource]ThreatSignal{
				SourceVulnerability: {Source: SourceVulnerability, Label: "XSS", Confidence: 0.55},
			}, nil),
		},
		{
			name: "uncertain intent",
			result: weightedResult(LevelMedium, map[SignalSource]ThreatSignal{
				SourceIntent: {Source: SourceIntent, Label: LabelSuspicious, Confidence: 0.95},
			}, nil),
		},
		{
			name: "malicious intent below threshold",
			result: weightedResult(LevelMedium, map[SignalSource]ThreatSignal{
				SourceIntent: {Source: SourceIntent, Label: LabelMalicious, Confidence: 0.65},
			}, nil),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if d := e.Decide(tc.result); d != nil {
				t.Fatalf("expected no block, got %+v", d)
			}
		})
	}
}

func TestDecideKeywordStrategyOnlyUsesKeywordRule(t *testing.T) {
	e, _, _ := newBlockingFixture(t)

	// The pre-screen result is critical by the count rule, but its reason
	// must stay the keyword one.
	result := &SecurityAnalysisResult{
		Signals:     map[SignalSource]ThreatSignal{},
		ThreatLevel: LevelCritical,
		Keywords:    &KeywordDetection{Matches: []string{"or 1=1"}, Level: LevelCritical},
		Strategy:    StrategyKeywordCount,
	}
	d := e.Decide(result)
	if d == nil {
		t.Fatal("expected a block decision")
	}
	if d.Reason != ReasonMaliciousContent {
		t.Fatalf("expected keyword reason, got %q", d.Reason)
	}
	if d.Severity != LevelCritical {
		t.Fatalf("expected critical severity, got %s", d.Severity)
	}

	clean := &SecurityAnalysisResult{
		Signals:     map[SignalSource]ThreatSignal{},
		ThreatLevel: LevelSafe,
		Strategy:    StrategyKeywordCount,
	}
	if d := e.Decide(clean); d != nil {
		t.Fatalf("clean pre-screen must not block, got %+v", d)
	}
}

func TestDecideAndApplySideEffects(t *testing.T) {
	e, state, alerts := newBlockingFixture(t)

	result := weightedResult(LevelCritical, map[SignalSource]ThreatSignal{
		SourceVulnerability: {Source: SourceVulnerability, Label: "SQL_INJECTION", Confidence: 0.9},
	}, nil)
	blocked := e.DecideAndApply(result, "SELECT * FROM users", "s1")
	if !blocked {
		t.Fatal("expected a block")
	}

	snap := state.Snapshot()
	if !snap.Blocked || snap.BlockReason != ReasonCriticalThreat {
		t.Fatalf("unexpected system state: %+v", snap)
	}
	if snap.ThreatLevel != SystemDanger {
		t.Fatalf("critical block must push danger, got %s", snap.ThreatLevel)
	}

	s, ok := state.Session("s1")
	if !ok || !s.Blocked || s.ThreatScore != 1.0 {
		t.Fatalf("session must be marked blocked at full score, got %+v", s)
	}

	sysAlerts := alerts.List(AlertFilter{Type: AlertSystem})
	if len(sysAlerts) != 1 {
		t.Fatalf("expected exactly one system alert, got %d", len(sysAlerts))
	}
	a := sysAlerts[0]
	if a.Severity != LevelCritical || a.Message != ReasonCriticalThreat {
		t.Fatalf("unexpected system alert: %+v", a)
	}
	if a.Details["text"] != "SELECT * FROM users" {
		t.Fatalf("expected offending text in details, got %v", a.Details["text"])
	}
	if a.Details["analysis"] == nil {
		t.Fatal("expected full analysis in details")
	}
}

func TestDecideAndApplyNoBlockLeavesStateAlone(t *testing.T) {
	e, state, alerts := newBlockingFixture(t)

	result := weightedResult(LevelLow, nil, nil)
	if e.DecideAndApply(result, "texte anodin", "s1") {
		t.Fatal("expected no block")
	}
	if state.IsBlocked("s1") {
		t.Fatal("state must be untouched")
	}
	if alerts.Len() != 0 {
		t.Fatalf("no alert expected, got %d", alerts.Len())
	}
}

func TestDecideAndApplyTruncatesText(t *testing.T) {
	e, _, alerts := newBlockingFixture(t)

	long := strings.Repeat("é", 300)
	result := weightedResult(LevelCritical, nil, &KeywordDetection{Matches: []string{"x"}})
	if !e.DecideAndApply(result, long, "s1") {
		t.Fatal("expected a block")
	}
	a := alerts.List(AlertFilter{Type: AlertSystem})[0]
	text, _ := a.Details["text"].(string)
	if !strings.HasSuffix(text, "...") {
		t.Fatalf("expected truncation marker, got %q", text)
	}
	if got := len([]rune(strings.TrimSuffix(text, "..."))); got != 200 {
		t.Fatalf("expected 200 runes kept, got %d", got)
	}
}
