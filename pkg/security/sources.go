package security

import (
	"context"
	"strings"
)

// Predictor is the contract every classifier behind a SignalSource fulfils:
// an opaque model returning a label and a confidence. A predictor must never
// be assumed always-available; fusion treats absence and failure identically
// by substituting the keyword fallback.
type Predictor interface {
	// Predict classifies one input. The label vocabulary is classifier
	// specific (see the Label* constants for the ones fusion keys on).
	Predict(ctx context.Context, text string) (label string, confidence float64, err error)

	// Ready reports whether the underlying model is loaded and usable.
	Ready() bool

	// Name identifies the classifier for logs and status reporting.
	Name() string
}

// Fixed confidences reported by the keyword-derived stand-in signals.
const (
	fallbackConfXSS        = 0.85
	fallbackConfSQLi       = 0.78
	fallbackConfTraversal  = 0.82
	fallbackConfCodeInj    = 0.80
	fallbackConfSafe       = 0.90
	fallbackConfDDOS       = 0.88
	fallbackConfPortScan   = 0.85
	fallbackConfBruteForce = 0.82
	fallbackConfNormal     = 0.91
	fallbackConfMalicious  = 0.85
	fallbackConfLegitimate = 0.88
)

// vulnerabilityLabels maps keyword categories onto the vulnerability
// classifier's label set.
var vulnerabilityLabels = map[KeywordCategory]struct {
	label string
	conf  float64
}{
	CategoryXSS:              {"XSS", fallbackConfXSS},
	CategorySQLInjection:     {"SQL_INJECTION", fallbackConfSQLi},
	CategoryPathTraversal:    {"PATH_TRAVERSAL", fallbackConfTraversal},
	CategoryCommandInjection: {"CODE_INJECTION", fallbackConfCodeInj},
}

// networkPatterns drive the network fallback; the network classifier has no
// keyword category of its own beyond ddos, so scan and brute-force markers
// live here.
var networkPatterns = []struct {
	label string
	conf  float64
	words []string
}{
	{LabelDDOS, fallbackConfDDOS, []string{"ddos", "syn flood", "udp flood", "denial of service", "deni de service", "botnet"}},
	{"PORT_SCAN", fallbackConfPortScan, []string{"port scan", "scan de ports", "nmap", "masscan"}},
	{"BRUTE_FORCE", fallbackConfBruteForce, []string{"brute force", "force brute", "password spray", "hydra"}},
}

// fallbackSignal builds the keyword-derived stand-in signal for a source.
// kw may be nil (no keyword match at all), in which case the signal is the
// source's safe sentinel.
func (d *KeywordDetector) fallbackSignal(src SignalSource, text string, kw *KeywordDetection) ThreatSignal {
	switch src {
	case SourceVulnerability:
		if kw != nil {
			for _, cat := range kw.Categories {
				if v, ok := vulnerabilityLabels[KeywordCategory(cat)]; ok {
					return ThreatSignal{Source: src, Label: v.label, Confidence: v.conf, Method: MethodKeyword}
				}
			}
		}
		return ThreatSignal{Source: src, Label: LabelSafe, Confidence: fallbackConfSafe, Method: MethodKeyword}

	case SourceNetwork:
		haystack := d.normalize(text)
		for _, p := range networkPatterns {
			for _, w := range p.words {
				if strings.Contains(haystack, w) {
					return ThreatSignal{Source: src, Label: p.label, Confidence: p.conf, Method: MethodKeyword}
				}
			}
		}
		return ThreatSignal{Source: src, Label: LabelNormal, Confidence: fallbackConfNormal, Method: MethodKeyword}

	case SourceIntent:
		if kw != nil {
			for _, cat := range kw.Categories {
				if KeywordCategory(cat) == CategoryMaliciousIntent {
					return ThreatSignal{Source: src, Label: LabelMalicious, Confidence: fallbackConfMalicious, Method: MethodKeyword}
				}
			}
			// Keyword evidence without explicit intent markers still means
			// the request is not clean; report Suspicious, not Malicious.
			if kw.Level.AtLeast(LevelHigh) {
				return ThreatSignal{Source: src, Label: LabelSuspicious, Confidence: 0.6, Method: MethodKeyword}
			}
		}
		return ThreatSignal{Source: src, Label: LabelLegitimate, Confidence: fallbackConfLegitimate, Method: MethodKeyword}
	}
	return ThreatSignal{Source: src, Label: LabelError, Confidence: 0, Method: MethodKeyword}
}
