package security

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Block reasons shown to operators. End users only ever see the generic
// restricted-access message; the reason stays in alert details.
const (
	ReasonCriticalThreat   = "Menace critique détectée"
	ReasonMaliciousIntent  = "Intention malveillante confirmée"
	ReasonVulnerability    = "Vulnérabilité détectée"
	ReasonMaliciousContent = "Contenu malveillant détecté"
)

// Block rule thresholds.
const (
	blockIntentConfidence = 0.7
	blockVulnConfidence   = 0.6
)

// Offending text embedded in system alert details is truncated to this.
const defaultTruncateLen = 200

// BlockDecision is a positive verdict from the blocking rules.
type BlockDecision struct {
	Reason   string      `json:"reason"`
	Severity ThreatLevel `json:"severity"`
}

// BlockingEngine turns fused analysis results into block transitions.
type BlockingEngine struct {
	state    *StateManager
	alerts   *AlertStore
	duration time.Duration // auto-unblock delay for automatic blocks, 0 = indefinite
	truncate int
	log      *logrus.Logger
}

// NewBlockingEngine wires the engine to the state manager and alert store.
// duration is the auto-unblock delay applied to automatic blocks.
func NewBlockingEngine(state *StateManager, alerts *AlertStore, duration time.Duration, log *logrus.Logger) *BlockingEngine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BlockingEngine{
		state:    state,
		alerts:   alerts,
		duration: duration,
		truncate: defaultTruncateLen,
		log:      log,
	}
}

// Decide applies the blocking rules to a result. Returns nil when nothing
// warrants a block. Missing signals never count as threats: absence means
// "no contribution", not "unknown is dangerous". First matching rule wins.
func (e *BlockingEngine) Decide(result *SecurityAnalysisResult) *BlockDecision {
	severity := LevelHigh
	if result.ThreatLevel == LevelCritical {
		severity = LevelCritical
	}

	// The front door's keyword pre-screen carries no model signals; only
	// the keyword rule applies to it.
	if result.Strategy == StrategyKeywordCount {
		if result.Keywords != nil {
			return &BlockDecision{Reason: ReasonMaliciousContent, Severity: severity}
		}
		return nil
	}

	if result.ThreatLevel == LevelHigh || result.ThreatLevel == LevelCritical {
		return &BlockDecision{Reason: ReasonCriticalThreat, Severity: severity}
	}
	if sig, ok := result.Signal(SourceIntent); ok &&
		sig.Label == LabelMalicious && sig.Confidence > blockIntentConfidence {
		return &BlockDecision{Reason: ReasonMaliciousIntent, Severity: severity}
	}
	if sig, ok := result.Signal(SourceVulnerability); ok &&
		sig.IsThreat() && sig.Confidence > blockVulnConfidence {
		return &BlockDecision{Reason: ReasonVulnerability + ": " + sig.Label, Severity: severity}
	}
	if result.Keywords != nil {
		return &BlockDecision{Reason: ReasonMaliciousContent, Severity: severity}
	}
	return nil
}

// DecideAndApply runs Decide and, on a positive decision, blocks the
// system, marks the session, and records a system alert carrying the full
// analysis and the truncated offending text. Returns whether a block
// happened.
func (e *BlockingEngine) DecideAndApply(result *SecurityAnalysisResult, text, sessionID string) bool {
	decision := e.Decide(result)
	if decision == nil {
		return false
	}

	e.log.WithFields(logrus.Fields{
		"reason":   decision.Reason,
		"severity": decision.Severity,
		"session":  sessionID,
	}).Warn("block decision")

	e.state.BlockSystem(decision.Reason, decision.Severity, e.duration)
	e.state.UpdateSession(sessionID, 1.0, true)
	e.alerts.Create(AlertSystem, decision.Severity, decision.Reason, sessionID, map[string]any{
		"analysis": result,
		"text":     truncateText(text, e.truncate),
	})
	return true
}

func truncateText(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
