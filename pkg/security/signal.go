package security

import "time"

// SignalSource identifies which detector produced a signal
type SignalSource string

const (
	SourceVulnerability SignalSource = "vulnerability"
	SourceNetwork       SignalSource = "network"
	SourceIntent        SignalSource = "intent"
	SourceKeyword       SignalSource = "keyword"
)

// DetectionMethod records signal provenance, used for trust weighting
// and fallback narration in alert details.
type DetectionMethod string

const (
	MethodModel   DetectionMethod = "model"
	MethodKeyword DetectionMethod = "keyword_matching"
)

// ThreatLevel is the discrete severity bucket derived from a numeric score.
type ThreatLevel string

const (
	LevelSafe     ThreatLevel = "safe"
	LevelLow      ThreatLevel = "low"
	LevelMedium   ThreatLevel = "medium"
	LevelHigh     ThreatLevel = "high"
	LevelCritical ThreatLevel = "critical"
)

// rank orders levels for comparisons; higher is worse.
func (l ThreatLevel) rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as other or more.
func (l ThreatLevel) AtLeast(other ThreatLevel) bool {
	return l.rank() >= other.rank()
}

// Well-known classifier labels. Each classifier family has its own label
// vocabulary; these are the ones the fusion and blocking logic key on.
const (
	LabelSafe       = "SAFE"       // vulnerability classifier: nothing found
	LabelNormal     = "NORMAL"     // network classifier: regular traffic
	LabelLegitimate = "Legitimate" // intent classifier: benign request
	LabelMalicious  = "Malicious"  // intent classifier: confirmed bad intent
	LabelSuspicious = "Suspicious" // intent classifier: uncertain
	LabelDDOS       = "DDOS"       // network classifier: volumetric attack
	LabelError      = "error"      // detector failed, placeholder verdict
)

// safeLabels are the sentinels that mean "this signal contributes no threat".
var safeLabels = map[string]struct{}{
	LabelSafe:       {},
	LabelNormal:     {},
	LabelLegitimate: {},
	LabelError:      {},
	"None":          {},
}

// IsSafeLabel reports whether a classifier label is a safe sentinel.
func IsSafeLabel(label string) bool {
	_, ok := safeLabels[label]
	return ok
}

// ThreatSignal is one detector's verdict for one input. Signals are created
// fresh per analysis call and never mutated afterwards.
type ThreatSignal struct {
	Source     SignalSource    `json:"source"`
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Method     DetectionMethod `json:"method"`
}

// IsThreat reports whether the signal carries a non-safe verdict.
func (s ThreatSignal) IsThreat() bool {
	return !IsSafeLabel(s.Label)
}

// KeywordDetection is the embedded fallback result when the keyword table
// matched the input: which keywords, the dominant category, and the level
// derived from the count rule.
type KeywordDetection struct {
	Matches     []string    `json:"matches"`
	TopCategory string      `json:"top_category"`
	Categories  []string    `json:"categories"`
	Level       ThreatLevel `json:"level"`
}

// SecurityAnalysisResult is the fused outcome for one input. It is consumed
// immediately by the alert and blocking layers and never persisted as-is.
type SecurityAnalysisResult struct {
	Signals     map[SignalSource]ThreatSignal `json:"signals"`
	ThreatScore float64                       `json:"threat_score"`
	ThreatLevel ThreatLevel                   `json:"threat_level"`
	Keywords    *KeywordDetection             `json:"keyword_detection,omitempty"`
	Timestamp   time.Time                     `json:"timestamp"`
	SessionID   string                        `json:"session_id,omitempty"`
	Strategy    ScoringStrategy               `json:"strategy,omitempty"`
}

// Signal returns the signal for a source, if present.
func (r *SecurityAnalysisResult) Signal(src SignalSource) (ThreatSignal, bool) {
	s, ok := r.Signals[src]
	return s, ok
}

// AllModelSignalsSafe reports whether every model-backed signal carries a
// safe label. Used by the override rule: keyword evidence trumps a
// unanimous safe verdict from the models.
func (r *SecurityAnalysisResult) AllModelSignalsSafe() bool {
	for _, s := range r.Signals {
		if s.IsThreat() {
			return false
		}
	}
	return true
}
