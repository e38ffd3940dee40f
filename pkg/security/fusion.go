package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// ScoringStrategy selects which of the two screening rules maps signals to
// a threat level. The gateway's analyze endpoint uses the weighted sum; the
// conversational front door pre-screens with the stricter keyword count.
type ScoringStrategy string

const (
	StrategyWeighted     ScoringStrategy = "weighted"
	StrategyKeywordCount ScoringStrategy = "keyword_count"
)

// Default per-source weights for the weighted strategy. Network anomalies
// weigh heaviest: a flow-level detection is rarely a false positive.
var defaultWeights = map[SignalSource]float64{
	SourceVulnerability: 1.5,
	SourceNetwork:       2.0,
	SourceIntent:        1.5,
}

// Score thresholds for the weighted strategy level mapping.
const (
	scoreCritical = 2.5
	scoreHigh     = 1.5
	scoreMedium   = 0.5
)

// Override constants applied when keyword evidence contradicts a unanimous
// safe model verdict.
const (
	overrideVulnConfidence   = 0.9
	overrideIntentConfidence = 0.85
)

const defaultCacheSize = 256

// allSources is the default source set when a caller requests none.
var allSources = []SignalSource{SourceVulnerability, SourceNetwork, SourceIntent}

// FusionEngine runs the configured classifiers over an input, substitutes
// the keyword fallback for missing or failed ones, and fuses the signals
// into a single scored result. Analyze never fails for any non-empty input.
type FusionEngine struct {
	keywords   *KeywordDetector
	predictors map[SignalSource]Predictor
	weights    map[SignalSource]float64
	cache      *lru.Cache[string, cachedFusion]
	log        *logrus.Logger
}

// cachedFusion holds the deterministic part of a result. Timestamp and
// session id are stamped fresh on every hit.
type cachedFusion struct {
	signals  map[SignalSource]ThreatSignal
	score    float64
	level    ThreatLevel
	keywords *KeywordDetection
}

// FusionOptions configures a FusionEngine. Zero values select the defaults.
type FusionOptions struct {
	Keywords   *KeywordDetector
	Predictors map[SignalSource]Predictor
	Weights    map[SignalSource]float64
	CacheSize  int
	Logger     *logrus.Logger
}

// NewFusionEngine builds an engine. With no predictors configured every
// source resolves through the keyword fallback, which is a fully supported
// degraded mode rather than an error.
func NewFusionEngine(opts FusionOptions) *FusionEngine {
	kw := opts.Keywords
	if kw == nil {
		kw = NewKeywordDetector()
	}
	weights := make(map[SignalSource]float64, len(defaultWeights))
	for src, w := range defaultWeights {
		weights[src] = w
	}
	for src, w := range opts.Weights {
		if w > 0 {
			weights[src] = w
		}
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, _ := lru.New[string, cachedFusion](size)
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FusionEngine{
		keywords:   kw,
		predictors: opts.Predictors,
		weights:    weights,
		cache:      cache,
		log:        log,
	}
}

// Keywords exposes the engine's keyword detector for callers that need the
// raw table (status reporting, CLI output).
func (e *FusionEngine) Keywords() *KeywordDetector { return e.keywords }

// Analyze screens text with the weighted strategy. sources must be a subset
// of {vulnerability, network, intent}; nil or empty means all three.
// The only returned error is ErrEmptyInput; detector failures are absorbed
// by the keyword fallback.
func (e *FusionEngine) Analyze(ctx context.Context, text string, sources []SignalSource, sessionID string) (*SecurityAnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if len(sources) == 0 {
		sources = allSources
	}

	key := cacheKey(StrategyWeighted, sources, text)
	if hit, ok := e.cache.Get(key); ok {
		return e.fromCache(hit, sessionID), nil
	}

	kw := e.keywords.Detect(text)
	signals := make(map[SignalSource]ThreatSignal, len(sources))
	degraded := false
	for _, src := range sources {
		res := e.collect(ctx, src, text, kw)
		if res.Err != nil {
			e.log.WithFields(logrus.Fields{
				"source": src,
				"error":  res.Err,
			}).Debug("classifier unavailable, keyword fallback substituted")
			signals[src] = e.keywords.fallbackSignal(src, text, kw)
			// A configured classifier that was down may come back; its
			// substituted verdict must not stick around in the cache.
			// Sources with no classifier at all run on the fallback by
			// design and cache normally.
			if _, configured := e.predictors[src]; configured {
				degraded = true
			}
			continue
		}
		signals[src] = res.Signal
	}

	result := &SecurityAnalysisResult{
		Signals:   signals,
		Keywords:  kw,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Strategy:  StrategyWeighted,
	}

	// Keyword evidence overrides a unanimous safe verdict so that
	// keyword-obvious attacks are never missed through model blind spots.
	if kw != nil && result.AllModelSignalsSafe() {
		signals[SourceVulnerability] = ThreatSignal{
			Source:     SourceVulnerability,
			Label:      strings.ToUpper(kw.TopCategory),
			Confidence: overrideVulnConfidence,
			Method:     MethodKeyword,
		}
		signals[SourceIntent] = ThreatSignal{
			Source:     SourceIntent,
			Label:      LabelMalicious,
			Confidence: overrideIntentConfidence,
			Method:     MethodKeyword,
		}
	}

	result.ThreatScore = e.score(signals)
	result.ThreatLevel = levelFromScore(result.ThreatScore)

	if !degraded {
		e.cache.Add(key, cachedFusion{
			signals:  signals,
			score:    result.ThreatScore,
			level:    result.ThreatLevel,
			keywords: kw,
		})
	}
	return result, nil
}

// AnalyzeKeywords screens text with the keyword-count strategy only, no
// model involvement. This is the front door's pre-screen: strict on keyword
// hits, silent otherwise.
func (e *FusionEngine) AnalyzeKeywords(text, sessionID string) (*SecurityAnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	kw := e.keywords.Detect(text)
	level := LevelSafe
	if kw != nil {
		level = kw.Level
	}
	return &SecurityAnalysisResult{
		Signals:     map[SignalSource]ThreatSignal{},
		ThreatLevel: level,
		Keywords:    kw,
		Timestamp:   time.Now().UTC(),
		SessionID:   sessionID,
		Strategy:    StrategyKeywordCount,
	}, nil
}

// collect invokes the predictor for a source, mapping absence and failure
// to an explicit error result.
func (e *FusionEngine) collect(ctx context.Context, src SignalSource, text string, kw *KeywordDetection) SourceResult {
	p, ok := e.predictors[src]
	if !ok || p == nil || !p.Ready() {
		return SourceResult{Err: fmt.Errorf("%s: %w", src, ErrDetectorUnavailable)}
	}
	label, confidence, err := p.Predict(ctx, text)
	if err != nil {
		return SourceResult{Err: fmt.Errorf("%s predict: %w", src, err)}
	}
	return SourceResult{Signal: ThreatSignal{
		Source:     src,
		Label:      label,
		Confidence: confidence,
		Method:     MethodModel,
	}}
}

// score sums confidence times source weight over non-safe signals.
func (e *FusionEngine) score(signals map[SignalSource]ThreatSignal) float64 {
	total := 0.0
	for src, s := range signals {
		if !s.IsThreat() {
			continue
		}
		total += s.Confidence * e.weights[src]
	}
	return total
}

func levelFromScore(score float64) ThreatLevel {
	switch {
	case score >= scoreCritical:
		return LevelCritical
	case score >= scoreHigh:
		return LevelHigh
	case score >= scoreMedium:
		return LevelMedium
	case score > 0:
		return LevelLow
	default:
		return LevelSafe
	}
}

func (e *FusionEngine) fromCache(hit cachedFusion, sessionID string) *SecurityAnalysisResult {
	return &SecurityAnalysisResult{
		Signals:     hit.signals,
		ThreatScore: hit.score,
		ThreatLevel: hit.level,
		Keywords:    hit.keywords,
		Timestamp:   time.Now().UTC(),
		SessionID:   sessionID,
		Strategy:    StrategyWeighted,
	}
}

func cacheKey(strategy ScoringStrategy, sources []SignalSource, text string) string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	sort.Strings(names)
	return string(strategy) + "|" + strings.Join(names, ",") + "|" + text
}

// SourceStatus describes one configured classifier for status reporting.
type SourceStatus struct {
	Source SignalSource `json:"source"`
	Name   string       `json:"name"`
	Ready  bool         `json:"ready"`
}

// Status reports the readiness of every configured classifier, sorted by
// source name. Sources with no predictor run on the keyword fallback and
// are reported with the pseudo-name "keyword_fallback".
func (e *FusionEngine) Status() []SourceStatus {
	statuses := make([]SourceStatus, 0, len(allSources))
	for _, src := range allSources {
		st := SourceStatus{Source: src, Name: "keyword_fallback", Ready: true}
		if p, ok := e.predictors[src]; ok && p != nil {
			st.Name = p.Name()
			st.Ready = p.Ready()
		}
		statuses = append(statuses, st)
	}
	return statuses
}
