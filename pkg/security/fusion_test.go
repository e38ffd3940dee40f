package security

import (
	"context"
	"errors"
	"testing"
)

// stubPredictor returns a fixed verdict, or fails on demand.
type stubPredictor struct {
	label string
	conf  float64
	err   error
	ready bool
	name  string
	calls int
}

func (p *stubPredictor) Predict(context.Context, string) (string, float64, error) {
	p.calls++
	if p.err != nil {
		return "", 0, p.err
	}
	return p.label, p.conf, nil
}

func (p *stubPredictor) Ready() bool { return p.ready }

func (p *stubPredictor) Name() string {
	if p.name == "" {
		return "stub"
	}
	return p.name
}

func newTestEngine(predictors map[SignalSource]Predictor) *FusionEngine {
	return NewFusionEngine(FusionOptions{Predictors: predictors})
}

func TestAnalyzeEmptyInput(t *testing.T) {
	e := newTestEngine(nil)
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := e.Analyze(context.Background(), text, nil, "s1"); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("text %q: expected ErrEmptyInput, got %v", text, err)
		}
		if _, err := e.AnalyzeKeywords(text, "s1"); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("text %q: expected ErrEmptyInput from keyword path, got %v", text, err)
		}
	}
}

func TestAnalyzeBenignIsSafe(t *testing.T) {
	e := newTestEngine(nil)

	result, err := e.Analyze(context.Background(), "Bonjour, comment allez-vous ?", nil, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ThreatLevel != LevelSafe {
		t.Fatalf("expected safe, got %s (score %f)", result.ThreatLevel, result.ThreatScore)
	}
	if result.ThreatScore != 0 {
		t.Fatalf("expected zero score, got %f", result.ThreatScore)
	}
	if len(result.Signals) != 3 {
		t.Fatalf("expected signals for all three sources, got %d", len(result.Signals))
	}
	for src, sig := range result.Signals {
		if sig.Method != MethodKeyword {
			t.Errorf("%s: expected keyword fallback method without predictors, got %s", src, sig.Method)
		}
	}
}

func TestAnalyzeSQLInjectionNeverSafe(t *testing.T) {
	e := newTestEngine(nil)

	result, err := e.Analyze(context.Background(), "' OR 1=1 --", nil, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ThreatLevel == LevelSafe {
		t.Fatal("obvious injection must never come back safe")
	}
	sig, ok := result.Signal(SourceVulnerability)
	if !ok || !sig.IsThreat() {
		t.Fatalf("expected a non-safe vulnerability signal, got %+v", sig)
	}
	if result.ThreatScore <= 0 {
		t.Fatalf("expected positive score, got %f", result.ThreatScore)
	}
}

func TestAnalyzeKeywordOverridesSafeModels(t *testing.T) {
	// All three models report safe; the keyword table still sees "exploit".
	e := newTestEngine(map[SignalSource]Predictor{
		SourceVulnerability: &stubPredictor{label: LabelSafe, conf: 0.95, ready: true},
		SourceNetwork:       &stubPredictor{label: LabelNormal, conf: 0.95, ready: true},
		SourceIntent:        &stubPredictor{label: LabelLegitimate, conf: 0.95, ready: true},
	})

	result, err := e.Analyze(context.Background(), "comment utiliser un exploit", nil, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vuln, _ := result.Signal(SourceVulnerability)
	if vuln.Label != "EXPLOIT" || vuln.Confidence != 0.9 {
		t.Fatalf("expected EXPLOIT@0.9 override, got %s@%f", vuln.Label, vuln.Confidence)
	}
	intent, _ := result.Signal(SourceIntent)
	if intent.Label != LabelMalicious || intent.Confidence != 0.85 {
		t.Fatalf("expected Malicious@0.85 override, got %s@%f", intent.Label, intent.Confidence)
	}
	if result.ThreatLevel != LevelCritical {
		t.Fatalf("override score 2.625 should map to critical, got %s", result.ThreatLevel)
	}
}

func TestAnalyzeNoOverrideWhenModelFlags(t *testing.T) {
	// One model already flags: the keyword override must not fire.
	e := newTestEngine(map[SignalSource]Predictor{
		SourceVulnerability: &stubPredictor{label: "XSS", conf: 0.6, ready: true},
		SourceNetwork:       &stubPredictor{label: LabelNormal, conf: 0.95, ready: true},
		SourceIntent:        &stubPredictor{label: LabelLegitimate, conf: 0.95, ready: true},
	})

	result, err := e.Analyze(context.Background(), "comment utiliser un exploit", nil, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vuln, _ := result.Signal(SourceVulnerability)
	if vuln.Confidence != 0.6 || vuln.Method != MethodModel {
		t.Fatalf("model signal was overwritten: %+v", vuln)
	}
	intent, _ := result.Signal(SourceIntent)
	if intent.Label != LabelLegitimate {
		t.Fatalf("intent signal was overwritten: %+v", intent)
	}
}

func TestAnalyzeWeightedScore(t *testing.T) {
	e := newTestEngine(map[SignalSource]Predictor{
		SourceVulnerability: &stubPredictor{label: "XSS", conf: 0.55, ready: true},
		SourceNetwork:       &stubPredictor{label: LabelNormal, conf: 0.9, ready: true},
		SourceIntent:        &stubPredictor{label: LabelLegitimate, conf: 0.9, ready: true},
	})

	result, err := e.Analyze(context.Background(), "mon profil affiche un rendu bizarre", nil, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 0.55 * 1.5 = 0.825
	if result.ThreatScore < 0.824 || result.ThreatScore > 0.826 {
		t.Fatalf("expected score 0.825, got %f", result.ThreatScore)
	}
	if result.ThreatLevel != LevelMedium {
		t.Fatalf("expected medium, got %s", result.ThreatLevel)
	}
}

func TestAnalyzeSourceSubset(t *testing.T) {
	e := newTestEngine(map[SignalSource]Predictor{
		SourceIntent: &stubPredictor{label: LabelMalicious, conf: 0.8, ready: true},
	})

	result, err := e.Analyze(context.Background(), "une demande ambigue", []SignalSource{SourceIntent}, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Signals) != 1 {
		t.Fatalf("expected a single signal, got %d", len(result.Signals))
	}
	// 0.8 * 1.5 = 1.2
	if result.ThreatLevel != LevelMedium {
		t.Fatalf("expected medium from intent alone, got %s (score %f)", result.ThreatLevel, result.ThreatScore)
	}
}

func TestAnalyzeFallbackOnFailure(t *testing.T) {
	failing := &stubPredictor{err: errors.New("model crashed"), ready: true, name: "broken"}
	notReady := &stubPredictor{label: "XSS", conf: 0.9, ready: false}
	e := newTestEngine(map[SignalSource]Predictor{
		SourceVulnerability: failing,
		SourceIntent:        notReady,
	})

	result, err := e.Analyze(context.Background(), "Bonjour tout le monde", nil, "s1")
	if err != nil {
		t.Fatalf("detector failure must not fail the analysis: %v", err)
	}
	for _, src := range []SignalSource{SourceVulnerability, SourceNetwork, SourceIntent} {
		sig, ok := result.Signal(src)
		if !ok {
			t.Fatalf("missing signal for %s", src)
		}
		if sig.Method != MethodKeyword {
			t.Errorf("%s: expected substituted fallback, got method %s", src, sig.Method)
		}
	}
	if notReady.calls != 0 {
		t.Fatal("a not-ready predictor must not be invoked")
	}
}

func TestAnalyzeCacheHit(t *testing.T) {
	p := &stubPredictor{label: LabelLegitimate, conf: 0.9, ready: true}
	e := newTestEngine(map[SignalSource]Predictor{SourceIntent: p})

	first, err := e.Analyze(context.Background(), "texte repete", []SignalSource{SourceIntent}, "session-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Analyze(context.Background(), "texte repete", []SignalSource{SourceIntent}, "session-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected one predictor call, got %d", p.calls)
	}
	if second.ThreatScore != first.ThreatScore || second.ThreatLevel != first.ThreatLevel {
		t.Fatal("cached verdict must match the original")
	}
	if second.SessionID != "session-b" {
		t.Fatalf("session id must be stamped fresh on a hit, got %s", second.SessionID)
	}
	if !second.Timestamp.After(first.Timestamp) && !second.Timestamp.Equal(first.Timestamp) {
		t.Fatal("timestamp must not go backwards")
	}
}

func TestAnalyzeDoesNotCacheDegradedResults(t *testing.T) {
	p := &stubPredictor{label: LabelMalicious, conf: 0.9, ready: false, name: "intent-classifier"}
	e := newTestEngine(map[SignalSource]Predictor{SourceIntent: p})

	first, err := e.Analyze(context.Background(), "une demande ambigue", []SignalSource{SourceIntent}, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig, _ := first.Signal(SourceIntent); sig.Method != MethodKeyword {
		t.Fatalf("expected the fallback while the classifier loads, got %+v", sig)
	}

	// Once the classifier comes up, the same input must reach it instead
	// of replaying the degraded verdict.
	p.ready = true
	second, err := e.Analyze(context.Background(), "une demande ambigue", []SignalSource{SourceIntent}, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig, _ := second.Signal(SourceIntent)
	if sig.Method != MethodModel || sig.Label != LabelMalicious {
		t.Fatalf("expected a model verdict after recovery, got %+v", sig)
	}
	if p.calls != 1 {
		t.Fatalf("expected one model call after recovery, got %d", p.calls)
	}

	// Healthy verdicts cache as before.
	if _, err := e.Analyze(context.Background(), "une demande ambigue", []SignalSource{SourceIntent}, "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected the healthy verdict to be served from cache, got %d calls", p.calls)
	}
}

func TestAnalyzeCachesPureFallbackMode(t *testing.T) {
	// With no classifier configured anywhere, the fallback is the steady
	// state and results cache normally.
	e := newTestEngine(nil)
	if _, err := e.Analyze(context.Background(), "Bonjour", nil, "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.cache.Len() != 1 {
		t.Fatalf("expected the keyword-only verdict to be cached, got %d entries", e.cache.Len())
	}
}

func TestAnalyzeKeywordsStrategy(t *testing.T) {
	e := newTestEngine(nil)

	result, err := e.AnalyzeKeywords("SELECT * FROM users WHERE 1=1 OR 1=1", "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Strategy != StrategyKeywordCount {
		t.Fatalf("expected keyword_count strategy, got %s", result.Strategy)
	}
	if len(result.Signals) != 0 {
		t.Fatalf("keyword pre-screen must carry no model signals, got %d", len(result.Signals))
	}
	if result.ThreatLevel != LevelCritical {
		t.Fatalf("expected critical from the count rule, got %s", result.ThreatLevel)
	}

	clean, err := e.AnalyzeKeywords("Bonjour", "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clean.ThreatLevel != LevelSafe || clean.Keywords != nil {
		t.Fatalf("expected clean keyword result, got %+v", clean)
	}
}

func TestLevelFromScore(t *testing.T) {
	testCases := []struct {
		score float64
		level ThreatLevel
	}{
		{0, LevelSafe},
		{0.1, LevelLow},
		{0.5, LevelMedium},
		{1.49, LevelMedium},
		{1.5, LevelHigh},
		{2.49, LevelHigh},
		{2.5, LevelCritical},
		{5.0, LevelCritical},
	}
	for _, tc := range testCases {
		if got := levelFromScore(tc.score); got != tc.level {
			t.Errorf("score %f: expected %s, got %s", tc.score, tc.level, got)
		}
	}
}

func TestStatusReportsFallback(t *testing.T) {
	e := newTestEngine(map[SignalSource]Predictor{
		SourceIntent: &stubPredictor{ready: false, name: "intent-classifier"},
	})

	statuses := e.Status()
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	for _, st := range statuses {
		switch st.Source {
		case SourceIntent:
			if st.Name != "intent-classifier" || st.Ready {
				t.Errorf("intent status wrong: %+v", st)
			}
		default:
			if st.Name != "keyword_fallback" || !st.Ready {
				t.Errorf("%s status wrong: %+v", st.Source, st)
			}
		}
	}
}
